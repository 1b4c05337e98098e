package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	fileutil "nasupload/internal/file"
	"nasupload/internal/upload"
)

// slowCancelTransport fails a transfer a little while after its context is cancelled.
type slowCancelTransport struct{}

func (slowCancelTransport) Start(ctx context.Context, _ upload.Request, hooks upload.Hooks) upload.Handle {
	go func() {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		hooks.OnFailure(ctx.Err())
	}()
	return nil
}

func (slowCancelTransport) Cancel(upload.Handle) {}

func TestGracefulShutdownWithOpenEventStream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	uploads := upload.NewManagerWithOptions(upload.Options{MaxConcurrent: 1, Transport: slowCancelTransport{}})
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	uploads.SetBaseContext(baseCtx)

	router := setupRouter()
	apiHandler := wireAPI(router, uploads)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := newHTTPServer(0, router, 5*time.Second)
	srv.RegisterOnShutdown(apiHandler.CloseStreams)
	go func() { _ = srv.Serve(ln) }()

	path := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(path, []byte("payload"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := fileutil.OpenLocal(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id := uploads.Enqueue(src, "/")

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/uploads/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, "event:") {
		t.Fatalf("expected first event, got %q (%v)", line, err)
	}
	go func() { _, _ = io.Copy(io.Discard, reader) }()

	start := time.Now()
	gracefulShutdown(srv, cancelBase, uploads, 2*time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("shutdown took %s with an open event stream", elapsed)
	}

	got, ok := uploads.Task(id)
	if !ok {
		t.Fatalf("upload %s missing", id)
	}
	if got.Status != upload.StatusFailed {
		t.Fatalf("expected in-flight upload to settle as failed, got %s", got.Status)
	}
}
