package upload

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type memSource struct {
	name string
	size int64
}

func (s memSource) Name() string { return s.name }
func (s memSource) Size() int64  { return s.size }
func (s memSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Repeat("x", int(s.size)))), nil
}

type startCall struct {
	ctx    context.Context
	req    Request
	hooks  Hooks
	handle int
}

// fakeTransport records every Start and counts Cancel calls per handle.
// Tests drive the hooks directly.
type fakeTransport struct {
	mu      sync.Mutex
	starts  []startCall
	cancels map[int]int
	onStart func(call startCall)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{cancels: make(map[int]int)}
}

func (f *fakeTransport) Start(ctx context.Context, req Request, hooks Hooks) Handle {
	f.mu.Lock()
	call := startCall{ctx: ctx, req: req, hooks: hooks, handle: len(f.starts) + 1}
	f.starts = append(f.starts, call)
	onStart := f.onStart
	f.mu.Unlock()
	if onStart != nil {
		onStart(call)
	}
	return call.handle
}

func (f *fakeTransport) Cancel(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels[h.(int)]++
}

func (f *fakeTransport) call(t *testing.T, id string) startCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.starts {
		if c.req.ID == id {
			return c
		}
	}
	t.Fatalf("transport never started %s", id)
	return startCall{}
}

func (f *fakeTransport) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.starts))
	for _, c := range f.starts {
		ids = append(ids, c.req.ID)
	}
	return ids
}

func (f *fakeTransport) cancelCount(h int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels[h]
}

func (f *fakeTransport) totalCancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.cancels {
		n += c
	}
	return n
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestManager(t *testing.T, maxConcurrent int) (*Manager, *fakeTransport, *manualClock) {
	t.Helper()
	tr := newFakeTransport()
	clock := newManualClock()
	m := NewManagerWithOptions(Options{
		MaxConcurrent: maxConcurrent,
		Transport:     tr,
		Clock:         clock.Now,
	})
	return m, tr, clock
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]Task
	saves int
}

func newMemStore() *memStore { return &memStore{tasks: make(map[string]Task)} }

func (s *memStore) SaveTask(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.saves++
	return nil
}

func (s *memStore) LoadTasks(_ context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *memStore) get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}
