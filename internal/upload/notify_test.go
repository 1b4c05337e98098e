package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAfterNewerPublishStartsFromIt(t *testing.T) {
	var b broadcaster

	// the Manager captured Seq 4, then Seq 5 went out before registration
	b.publish(State{Seq: 5, IsUploading: false})

	var got []State
	cancel := b.subscribe(func(s State) { got = append(got, s) }, State{Seq: 4, IsUploading: true})
	defer cancel()

	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].Seq)
	assert.False(t, got[0].IsUploading)

	b.publish(State{Seq: 5})
	b.publish(State{Seq: 6})
	require.Len(t, got, 2)
	assert.Equal(t, uint64(6), got[1].Seq)
}

func TestSubscribeKeepsNewerCurrentState(t *testing.T) {
	var b broadcaster
	b.publish(State{Seq: 2})

	var got []uint64
	cancel := b.subscribe(func(s State) { got = append(got, s.Seq) }, State{Seq: 3})
	defer cancel()

	// a straggling publish of an older State is dropped
	b.publish(State{Seq: 2})
	assert.Equal(t, []uint64{3}, got)
}
