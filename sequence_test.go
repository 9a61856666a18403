package origami

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSequenceTracker(t *testing.T) {
	tracker := NewSequenceTracker(1)
	assert.Equal(t, tracker.NextSequence(), uint64(1))

	assert.Equal(t, tracker.Observe(1), SequenceStatusContiguous)
	tracker.Advance(1)
	assert.Equal(t, tracker.NextSequence(), uint64(2))

	// replays classify as duplicates
	assert.Equal(t, tracker.Observe(1), SequenceStatusDuplicate)
	assert.Equal(t, tracker.Observe(0), SequenceStatusDuplicate)

	// a skipped sequence classifies as a gap
	assert.Equal(t, tracker.Observe(4), SequenceStatusGap)

	// observe does not move the tracker
	assert.Equal(t, tracker.NextSequence(), uint64(2))
	assert.Equal(t, tracker.Observe(2), SequenceStatusContiguous)
}

func TestSequenceTrackerAdvance(t *testing.T) {
	tracker := NewSequenceTracker(1)

	// advance is monotone. advancing backwards is a no-op
	tracker.Advance(5)
	assert.Equal(t, tracker.NextSequence(), uint64(6))
	tracker.Advance(3)
	assert.Equal(t, tracker.NextSequence(), uint64(6))
	tracker.Advance(6)
	assert.Equal(t, tracker.NextSequence(), uint64(7))
}

func TestSequenceTrackerReset(t *testing.T) {
	tracker := NewSequenceTracker(1)
	tracker.Advance(9)
	assert.Equal(t, tracker.NextSequence(), uint64(10))

	// a snapshot rebases the tracker, even backwards
	tracker.Reset(4)
	assert.Equal(t, tracker.NextSequence(), uint64(4))
	assert.Equal(t, tracker.Observe(3), SequenceStatusDuplicate)
	assert.Equal(t, tracker.Observe(4), SequenceStatusContiguous)
	assert.Equal(t, tracker.Observe(5), SequenceStatusGap)
}
