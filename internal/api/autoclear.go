package api

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nasupload/internal/upload"
)

type clearer interface {
	Subscribe(l upload.Listener) func()
	ClearCompleted() int
}

// AutoClear hides finished uploads a fixed delay after the last active one
// settles. A new upload before the delay elapses postpones the clear.
type AutoClear struct {
	uploads clearer
	delay   time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	unsubscribe func()
}

func NewAutoClear(uploads clearer, delay time.Duration) *AutoClear {
	return &AutoClear{uploads: uploads, delay: delay}
}

// Start subscribes to upload state. A non-positive delay disables the policy.
func (a *AutoClear) Start() {
	if a.delay <= 0 {
		return
	}
	unsubscribe := a.uploads.Subscribe(a.onState)
	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
}

func (a *AutoClear) Stop() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.stopTimerLocked()
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (a *AutoClear) onState(s upload.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.IsUploading || !hasFinished(s) {
		a.stopTimerLocked()
		return
	}
	if a.timer != nil {
		return
	}
	a.timer = time.AfterFunc(a.delay, a.fire)
}

func (a *AutoClear) fire() {
	a.mu.Lock()
	a.timer = nil
	a.mu.Unlock()
	if removed := a.uploads.ClearCompleted(); removed > 0 {
		log.Debug().Int("removed", removed).Msg("finished uploads auto-cleared")
	}
}

func (a *AutoClear) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func hasFinished(s upload.State) bool {
	for _, t := range s.Tasks {
		if t.Status.Terminal() {
			return true
		}
	}
	return false
}
