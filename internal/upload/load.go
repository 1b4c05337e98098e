package upload

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// LoadFromStore restores the uploads recorded by a previous run.
// Uploads that were still pending or uploading are marked as failed.
func (m *Manager) LoadFromStore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load uploads: %w", err)
	}
	if len(loaded) == 0 {
		return nil
	}

	m.mu.Lock()
	fx := &effects{}
	restored := 0
	for _, t := range loaded {
		if _, exists := m.tasks[t.ID]; exists {
			continue
		}
		rec := &record{task: t, estimator: NewEstimator(m.estWindow, m.estSize)}
		if !t.Status.Terminal() {
			ended := m.now()
			rec.task.Status = StatusFailed
			rec.task.Error = ErrInterrupted.Error()
			rec.task.EndedAt = &ended
			m.touch(rec, fx)
		}
		rec.refresh()
		m.tasks[t.ID] = rec
		if t.Seq > m.enqueued {
			m.enqueued = t.Seq
		}
		restored++
	}
	m.commit(fx)
	m.mu.Unlock()

	log.Info().Int("restored", restored).Msg("uploads restored from store")
	m.apply(fx)
	return nil
}
