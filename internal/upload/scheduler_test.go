package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeOwner struct {
	active  int
	started []string
	refuse  map[string]bool
}

func (o *fakeOwner) activeCount() int { return o.active }

func (o *fakeOwner) startUpload(id string) bool {
	if o.refuse[id] {
		return false
	}
	o.active++
	o.started = append(o.started, id)
	return true
}

func TestSchedulerAdmitsInOrderUpToBound(t *testing.T) {
	owner := &fakeOwner{}
	s := newScheduler(owner, 2)

	for _, id := range []string{"a", "b", "c", "d"} {
		s.Admit(id)
	}
	assert.Equal(t, []string{"a", "b"}, owner.started)
	assert.Equal(t, 2, s.Queued())

	owner.active--
	s.Release()
	assert.Equal(t, []string{"a", "b", "c"}, owner.started)
	assert.Equal(t, 1, s.Queued())
}

func TestSchedulerSkipsRemovedAndRefused(t *testing.T) {
	owner := &fakeOwner{refuse: map[string]bool{"b": true}}
	s := newScheduler(owner, 1)

	s.Admit("a")
	s.Admit("b")
	s.Admit("c")
	s.Admit("d")
	s.Remove("c")

	owner.active = 0
	s.Release()
	assert.Equal(t, []string{"a", "d"}, owner.started)
	assert.Zero(t, s.Queued())
}

func TestSchedulerPauseHoldsQueue(t *testing.T) {
	owner := &fakeOwner{}
	s := newScheduler(owner, 1)
	s.Pause()
	s.Admit("a")
	assert.Empty(t, owner.started)
	assert.Equal(t, 1, s.Queued())
}

func TestSchedulerCoercesBound(t *testing.T) {
	assert.Equal(t, 1, newScheduler(&fakeOwner{}, 0).MaxConcurrent())
	assert.Equal(t, 1, newScheduler(&fakeOwner{}, -4).MaxConcurrent())
}
