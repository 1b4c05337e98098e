package upload

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"nasupload/internal/metrics"
)

// record is the Manager-owned state of one upload.
type record struct {
	task      Task
	rev       uint64
	source    Source
	estimator *Estimator

	cancelCtx     context.CancelFunc
	handle        Handle
	hasHandle     bool
	cancelOnStart bool
}

func (r *record) request() Request {
	return Request{
		ID:          r.task.ID,
		Filename:    r.task.Filename,
		Destination: r.task.Destination,
		TotalBytes:  r.task.TotalBytes,
		Source:      r.source,
	}
}

// effects are collected under the lock and applied after it is released.
type effects struct {
	launches []*record
	saves    []revTask
	deletes  []string
	cancels  []func()
	state    State
}

type revTask struct {
	task Task
	rev  uint64
}

// Manager owns the upload set, admits uploads through its Scheduler and
// publishes a State after every change.
type Manager struct {
	mu        sync.Mutex
	tasks     map[string]*record
	scheduler *Scheduler
	transport Transport
	enqueued  uint64
	version   uint64
	closed    bool
	launches  []*record

	now        func() time.Time
	estWindow  time.Duration
	estSize    int
	baseCtx    context.Context
	baseCancel context.CancelFunc
	workersWG  sync.WaitGroup

	store     TaskStore
	storeMu   sync.Mutex
	storedRev map[string]uint64

	pub broadcaster
}

// NewManager creates a manager with default options suitable for tests.
func NewManager(transport Transport) *Manager {
	return NewManagerWithOptions(Options{
		MaxConcurrent: defaultMaxConcurrent,
		Transport:     transport,
	})
}

// NewManagerWithOptions creates a manager with provided configuration.
func NewManagerWithOptions(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.EstimatorWindow <= 0 {
		opts.EstimatorWindow = defaultEstimatorWindow
	}
	if opts.EstimatorSize <= 0 {
		opts.EstimatorSize = defaultEstimatorSize
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		tasks:      make(map[string]*record),
		transport:  opts.Transport,
		now:        opts.Clock,
		estWindow:  opts.EstimatorWindow,
		estSize:    opts.EstimatorSize,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		store:      opts.Store,
		storedRev:  make(map[string]uint64),
	}
	m.scheduler = newScheduler(m, opts.MaxConcurrent)
	return m
}

// SetBaseContext sets the parent context of every transfer started from now on.
// Cancelling it fails in-flight uploads through the regular failure path.
// The previous base context is released, so call it before uploads start.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	prev := m.baseCancel
	m.baseCtx, m.baseCancel = context.WithCancel(ctx)
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// MaxConcurrent returns the admission bound.
func (m *Manager) MaxConcurrent() int {
	return m.scheduler.MaxConcurrent()
}

// Enqueue registers an upload of src into destination and returns its id.
// It never blocks on the network and never fails.
func (m *Manager) Enqueue(src Source, destination string) string {
	var (
		name string
		size int64
	)
	if src != nil {
		name = src.Name()
		size = src.Size()
	}
	if size < 0 {
		size = 0
	}

	m.mu.Lock()
	m.enqueued++
	rec := &record{
		task: Task{
			ID:          uuid.NewString(),
			Seq:         m.enqueued,
			Filename:    name,
			Destination: destination,
			TotalBytes:  size,
			Status:      StatusPending,
			CreatedAt:   m.now(),
		},
		source:    src,
		estimator: NewEstimator(m.estWindow, m.estSize),
	}
	m.tasks[rec.task.ID] = rec
	fx := &effects{}
	m.touch(rec, fx)
	m.scheduler.Admit(rec.task.ID)
	m.commit(fx)
	m.mu.Unlock()

	metrics.UploadsEnqueued.Inc()
	log.Info().Str("upload_id", rec.task.ID).Str("filename", name).Int64("bytes", size).Str("destination", destination).Msg("upload enqueued")
	m.apply(fx)
	return rec.task.ID
}

// Abort cancels an upload. Unknown and already finished ids are ignored.
func (m *Manager) Abort(id string) {
	m.mu.Lock()
	rec, ok := m.tasks[id]
	if !ok || rec.task.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	fx := &effects{}
	wasUploading := rec.task.Status == StatusUploading
	if wasUploading {
		switch {
		case rec.hasHandle:
			handle, transport := rec.handle, m.transport
			fx.cancels = append(fx.cancels, func() { transport.Cancel(handle) })
		case rec.cancelCtx != nil:
			// Start is in progress; the launcher cancels once it has a handle.
			rec.cancelOnStart = true
		}
	} else {
		m.scheduler.Remove(id)
	}
	m.finish(rec, StatusAborted, "", fx)
	m.scheduler.Release()
	m.commit(fx)
	m.mu.Unlock()

	log.Info().Str("upload_id", id).Bool("was_uploading", wasUploading).Msg("upload aborted")
	m.apply(fx)
}

// ClearCompleted removes every finished upload and returns how many were removed.
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	fx := &effects{}
	for id, rec := range m.tasks {
		if rec.task.Status.Terminal() {
			delete(m.tasks, id)
			fx.deletes = append(fx.deletes, id)
		}
	}
	removed := len(fx.deletes)
	if removed > 0 {
		m.commit(fx)
	}
	m.mu.Unlock()

	if removed == 0 {
		return 0
	}
	log.Info().Int("removed", removed).Msg("finished uploads cleared")
	m.apply(fx)
	return removed
}

// Task returns a copy of one upload.
func (m *Manager) Task(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// Snapshot returns the current State.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Subscribe registers l and immediately delivers the current State to it.
// The returned func unregisters it.
func (m *Manager) Subscribe(l Listener) (cancel func()) {
	m.mu.Lock()
	current := m.stateLocked()
	m.mu.Unlock()
	return m.pub.subscribe(l, current)
}

// Shutdown stops admitting queued uploads, cancels in-flight transfers and
// waits for them to settle. Returns false if ctx expired first.
func (m *Manager) Shutdown(ctx context.Context) bool {
	m.mu.Lock()
	m.closed = true
	m.scheduler.Pause()
	cancel := m.baseCancel
	m.mu.Unlock()
	cancel()
	return m.WaitAll(ctx)
}

// WaitAll blocks until all in-flight uploads finish or the context is done.
// Returns true if all uploads finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) activeCount() int {
	n := 0
	for _, rec := range m.tasks {
		if rec.task.Status == StatusUploading {
			n++
		}
	}
	return n
}

func (m *Manager) startUpload(id string) bool {
	rec, ok := m.tasks[id]
	if !ok || rec.task.Status != StatusPending || m.closed {
		return false
	}
	started := m.now()
	rec.task.Status = StatusUploading
	rec.task.StartedAt = &started
	m.workersWG.Add(1)
	m.launches = append(m.launches, rec)
	return true
}

// touch marks a lifecycle change that must be persisted.
func (m *Manager) touch(rec *record, fx *effects) {
	rec.rev++
	fx.saves = append(fx.saves, revTask{task: rec.task, rev: rec.rev})
}

// finish moves rec to a terminal status. Must be called with the lock held.
func (m *Manager) finish(rec *record, status Status, errMsg string, fx *effects) {
	wasUploading := rec.task.Status == StatusUploading
	ended := m.now()
	rec.task.Status = status
	rec.task.Error = errMsg
	rec.task.EndedAt = &ended
	if status == StatusCompleted {
		rec.task.UploadedBytes = rec.task.TotalBytes
	}
	rec.refresh()
	if rec.cancelCtx != nil {
		fx.cancels = append(fx.cancels, rec.cancelCtx)
	}
	m.touch(rec, fx)
	if wasUploading {
		m.workersWG.Done()
		if rec.task.StartedAt != nil {
			metrics.UploadDuration.Observe(ended.Sub(*rec.task.StartedAt).Seconds())
		}
	}
	metrics.UploadsFinished.WithLabelValues(string(status)).Inc()
}

// commit gathers admissions made during this mutation and the resulting State.
func (m *Manager) commit(fx *effects) {
	for _, rec := range m.launches {
		m.touch(rec, fx)
	}
	fx.launches = append(fx.launches, m.launches...)
	m.launches = nil
	m.version++
	fx.state = m.stateLocked()
	metrics.UploadsActive.Set(float64(fx.state.ActiveCount))
	metrics.UploadsPending.Set(float64(fx.state.PendingCount))
}

func (m *Manager) apply(fx *effects) {
	for _, cancel := range fx.cancels {
		cancel()
	}
	m.persist(fx.saves, fx.deletes)
	m.pub.publish(fx.state)
	for _, rec := range fx.launches {
		m.launch(rec)
	}
}

func (m *Manager) stateLocked() State {
	state := State{
		Seq:   m.version,
		Tasks: make(map[string]Task, len(m.tasks)),
	}
	var (
		uploaded, total int64
		allCompleted    = len(m.tasks) > 0
	)
	for id, rec := range m.tasks {
		state.Tasks[id] = rec.task
		switch rec.task.Status {
		case StatusUploading:
			state.ActiveCount++
		case StatusPending:
			state.PendingCount++
		}
		if rec.task.Status != StatusCompleted {
			allCompleted = false
		}
		uploaded += rec.task.UploadedBytes
		total += rec.task.TotalBytes
	}
	state.IsUploading = state.ActiveCount+state.PendingCount > 0
	state.OverallPercentage = overallPercentage(uploaded, total, allCompleted)
	return state
}

func overallPercentage(uploaded, total int64, allCompleted bool) float64 {
	if total <= 0 {
		if allCompleted {
			return 100
		}
		return 0
	}
	return clampPercent(float64(uploaded) / float64(total) * 100)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// refresh recomputes the derived fields of the task.
func (r *record) refresh() {
	t := &r.task
	switch {
	case t.Status == StatusCompleted:
		t.Percentage = 100
	case t.TotalBytes <= 0:
		t.Percentage = 0
	default:
		t.Percentage = clampPercent(float64(t.UploadedBytes) / float64(t.TotalBytes) * 100)
	}
	if t.Status != StatusUploading {
		t.SpeedBytesPerSec = nil
		t.ETASeconds = nil
		return
	}
	t.SpeedBytesPerSec = r.estimator.Speed()
	t.ETASeconds = ETA(t.SpeedBytesPerSec, t.TotalBytes, t.UploadedBytes)
}
