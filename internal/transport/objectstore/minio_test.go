package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		destination, filename, want string
	}{
		{"/photos/2024/", "beach.jpg", "photos/2024/beach.jpg"},
		{"photos", "a.jpg", "photos/a.jpg"},
		{"", "a.jpg", "a.jpg"},
		{"/", "a.jpg", "a.jpg"},
		{"/docs/../secret", "a.txt", "secret/a.txt"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ObjectKey(tc.destination, tc.filename), "%q + %q", tc.destination, tc.filename)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(Options{Endpoint: "localhost:9000"})
	require.ErrorIs(t, err, errEmptyBucket)

	tr, err := New(Options{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "uploads"})
	require.NoError(t, err)
	assert.Equal(t, "uploads", tr.bucket)
}

func TestCancelIgnoresForeignHandle(t *testing.T) {
	tr, err := New(Options{Endpoint: "localhost:9000", Bucket: "uploads"})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		tr.Cancel(nil)
		tr.Cancel("not-a-call")
	})
}
