package origami

import (
	"sync"
)

type SequenceStatus string

const (
	SequenceStatusContiguous SequenceStatus = "Contiguous"
	SequenceStatusDuplicate  SequenceStatus = "Duplicate"
	SequenceStatusGap        SequenceStatus = "Gap"
)

// SequenceTracker classifies the sequence number of each inbound
// commit against the next expected value. deltas and acks both consume
// sequence numbers. the tracker never advances on its own,
// the caller advances after the commit is applied.
type SequenceTracker struct {
	mutex        sync.Mutex
	nextSequence uint64
}

func NewSequenceTracker(nextSequence uint64) *SequenceTracker {
	return &SequenceTracker{
		nextSequence: nextSequence,
	}
}

func (self *SequenceTracker) Observe(sequence uint64) SequenceStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if sequence < self.nextSequence {
		return SequenceStatusDuplicate
	}
	if sequence == self.nextSequence {
		return SequenceStatusContiguous
	}
	return SequenceStatusGap
}

func (self *SequenceTracker) Advance(sequence uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.nextSequence <= sequence {
		self.nextSequence = sequence + 1
	}
}

func (self *SequenceTracker) NextSequence() uint64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.nextSequence
}

// Reset rebases the tracker after a snapshot
func (self *SequenceTracker) Reset(nextSequence uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextSequence = nextSequence
}
