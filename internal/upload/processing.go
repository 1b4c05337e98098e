package upload

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"nasupload/internal/metrics"
)

var errNoSource = errors.New("upload has no source")

// launch hands an admitted upload to the transport. It runs without the lock
// so the transport may report synchronously from Start.
func (m *Manager) launch(rec *record) {
	m.mu.Lock()
	if rec.task.Status != StatusUploading {
		// aborted between admission and launch: never reaches the transport
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	rec.cancelCtx = cancel
	transport := m.transport
	req := rec.request()
	m.mu.Unlock()

	switch {
	case transport == nil:
		m.handleFailure(rec, ErrNoTransport)
		return
	case req.Source == nil:
		m.handleFailure(rec, errNoSource)
		return
	}

	log.Debug().Str("upload_id", req.ID).Str("filename", req.Filename).Msg("upload started")
	handle := transport.Start(ctx, req, m.hooksFor(rec))

	m.mu.Lock()
	rec.handle = handle
	rec.hasHandle = true
	cancelNow := rec.cancelOnStart
	rec.cancelOnStart = false
	m.mu.Unlock()

	if cancelNow {
		transport.Cancel(handle)
	}
}

func (m *Manager) hooksFor(rec *record) Hooks {
	return Hooks{
		OnProgress: func(uploadedBytes int64, at time.Time) { m.handleProgress(rec, uploadedBytes, at) },
		OnSuccess:  func() { m.handleSuccess(rec) },
		OnFailure:  func(err error) { m.handleFailure(rec, err) },
	}
}

func (m *Manager) handleProgress(rec *record, uploadedBytes int64, at time.Time) {
	m.mu.Lock()
	if rec.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	if at.IsZero() {
		at = m.now()
	}
	if uploadedBytes > rec.task.TotalBytes {
		uploadedBytes = rec.task.TotalBytes
	}
	delta := uploadedBytes - rec.task.UploadedBytes
	if delta > 0 {
		rec.task.UploadedBytes = uploadedBytes
	}
	rec.estimator.Add(at, rec.task.UploadedBytes)
	rec.refresh()
	fx := &effects{}
	m.commit(fx)
	m.mu.Unlock()

	if delta > 0 {
		metrics.UploadedBytes.Add(float64(delta))
	}
	m.apply(fx)
}

func (m *Manager) handleSuccess(rec *record) {
	m.mu.Lock()
	if rec.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	remaining := rec.task.TotalBytes - rec.task.UploadedBytes
	fx := &effects{}
	m.finish(rec, StatusCompleted, "", fx)
	m.scheduler.Release()
	m.commit(fx)
	m.mu.Unlock()

	if remaining > 0 {
		metrics.UploadedBytes.Add(float64(remaining))
	}
	log.Info().Str("upload_id", rec.task.ID).Int64("bytes", rec.task.TotalBytes).Msg("upload completed")
	m.apply(fx)
}

func (m *Manager) handleFailure(rec *record, err error) {
	if err == nil {
		err = errUnknownFailure
	}
	m.mu.Lock()
	if rec.task.Status != StatusUploading {
		m.mu.Unlock()
		return
	}
	fx := &effects{}
	m.finish(rec, StatusFailed, err.Error(), fx)
	m.scheduler.Release()
	m.commit(fx)
	m.mu.Unlock()

	log.Warn().Str("upload_id", rec.task.ID).Err(err).Msg("upload failed")
	m.apply(fx)
}

// persist writes lifecycle changes to the store. Revisions keep a slow writer
// from overwriting a newer record or resurrecting a cleared one.
func (m *Manager) persist(saves []revTask, deletes []string) {
	if m.store == nil || len(saves)+len(deletes) == 0 {
		return
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	ctx := context.Background()
	for _, s := range saves {
		if s.rev <= m.storedRev[s.task.ID] {
			continue
		}
		m.storedRev[s.task.ID] = s.rev
		if err := m.store.SaveTask(ctx, s.task); err != nil { // best-effort
			log.Warn().Str("upload_id", s.task.ID).Err(err).Msg("persist upload failed")
		}
	}
	for _, id := range deletes {
		m.storedRev[id] = math.MaxUint64
		if err := m.store.DeleteTask(ctx, id); err != nil {
			log.Warn().Str("upload_id", id).Err(err).Msg("delete upload record failed")
		}
	}
}
