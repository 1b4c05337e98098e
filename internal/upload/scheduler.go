package upload

// slotOwner is the part of the Manager the scheduler drives. Both methods are
// called with the Manager's lock held.
type slotOwner interface {
	activeCount() int
	// startUpload moves a pending task to uploading and reports whether it did.
	startUpload(id string) bool
}

// Scheduler bounds the number of simultaneously active uploads and admits
// waiting ones strictly in enqueue order.
type Scheduler struct {
	owner         slotOwner
	maxConcurrent int
	queue         []string
	paused        bool
}

func newScheduler(owner slotOwner, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{owner: owner, maxConcurrent: maxConcurrent}
}

// Admit starts the task if a slot is free and nothing is waiting ahead of it,
// otherwise queues it.
func (s *Scheduler) Admit(id string) {
	s.queue = append(s.queue, id)
	s.Release()
}

// Release fills free slots from the head of the queue. Ids that are no longer
// pending are skipped.
func (s *Scheduler) Release() {
	for !s.paused && len(s.queue) > 0 && s.owner.activeCount() < s.maxConcurrent {
		next := s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		s.owner.startUpload(next)
	}
}

// Remove drops a queued id.
func (s *Scheduler) Remove(id string) {
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Pause stops admission; queued ids stay queued.
func (s *Scheduler) Pause() { s.paused = true }

func (s *Scheduler) Queued() int { return len(s.queue) }

func (s *Scheduler) MaxConcurrent() int { return s.maxConcurrent }
