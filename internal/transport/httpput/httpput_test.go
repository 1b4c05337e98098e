package httpput

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fileutil "nasupload/internal/file"
	"nasupload/internal/upload"
)

type result struct {
	mu       sync.Mutex
	progress []int64
	done     chan error
}

func newResult() *result { return &result{done: make(chan error, 1)} }

func (r *result) hooks() upload.Hooks {
	return upload.Hooks{
		OnProgress: func(n int64, _ time.Time) {
			r.mu.Lock()
			r.progress = append(r.progress, n)
			r.mu.Unlock()
		},
		OnSuccess: func() { r.done <- nil },
		OnFailure: func(err error) { r.done <- err },
	}
}

func (r *result) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for upload result")
		return nil
	}
}

func writeSource(t *testing.T, name string, content []byte) upload.Request {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	src, err := fileutil.OpenLocal(path)
	require.NoError(t, err)
	return upload.Request{ID: "u1", Filename: src.Name(), Destination: "/share/docs/", TotalBytes: src.Size(), Source: src}
}

func TestPutUploadsBodyToDestination(t *testing.T) {
	var (
		gotPath   string
		gotBody   []byte
		gotLength int64
		gotType   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotPath = r.URL.Path
		gotLength = r.ContentLength
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	content := []byte("quarterly report\n")
	req := writeSource(t, "report.txt", content)
	res := newResult()

	tr := New(Options{Endpoint: srv.URL + "/api/files/"})
	tr.Start(context.Background(), req, res.hooks())
	require.NoError(t, res.wait(t))

	assert.Equal(t, "/api/files/share/docs/report.txt", gotPath)
	assert.Equal(t, content, gotBody)
	assert.Equal(t, int64(len(content)), gotLength)
	assert.Contains(t, gotType, "text/plain")

	res.mu.Lock()
	defer res.mu.Unlock()
	require.NotEmpty(t, res.progress)
	assert.Equal(t, int64(len(content)), res.progress[len(res.progress)-1])
}

func TestPutFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	res := newResult()
	New(Options{Endpoint: srv.URL}).Start(context.Background(), writeSource(t, "a.bin", []byte("abc")), res.hooks())

	err := res.wait(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "507")
}

func TestCancelStopsInFlightPut(t *testing.T) {
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		close(entered)
		<-r.Context().Done()
	}))
	defer srv.Close()

	res := newResult()
	tr := New(Options{Endpoint: srv.URL})
	h := tr.Start(context.Background(), writeSource(t, "a.bin", []byte("abc")), res.hooks())

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("server never received the request")
	}
	tr.Cancel(h)

	err := res.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTargetURL(t *testing.T) {
	tr := New(Options{Endpoint: "http://nas.local:5000/api/files/"})

	got, err := tr.TargetURL("/photos//2024/", "beach day.jpg")
	require.NoError(t, err)
	assert.Equal(t, "http://nas.local:5000/api/files/photos/2024/beach%20day.jpg", got)

	got, err = tr.TargetURL("", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "http://nas.local:5000/api/files/a.txt", got)
}
