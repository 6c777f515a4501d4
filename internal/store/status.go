package store

import "fmt"

// Status is the lifecycle state of a queue item. Successful completion has
// no status: the item is deleted from the queue instead. A failed item
// stays in the queue until an operator reprocesses or removes it.
type Status string

const (
	// StatusPending means the item is enqueued and not yet picked up.
	StatusPending Status = "pending"
	// StatusProcessing means a worker currently owns the item.
	StatusProcessing Status = "processing"
	// StatusFailed means processing exhausted and the item awaits an
	// operator decision. Failed items are never retried automatically.
	StatusFailed Status = "failed"
	// StatusReprocessing means an operator requested another attempt.
	StatusReprocessing Status = "reprocessing"
)

// MaxRetries is the total number of processing attempts an item may
// consume, counting the initial attempt and operator-requested reruns.
const MaxRetries = 3

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusFailed, StatusReprocessing:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:      {StatusProcessing},
	StatusProcessing:   {StatusFailed},
	StatusFailed:       {StatusReprocessing},
	StatusReprocessing: {StatusFailed},
}

// Transition validates the from -> to status change. Any other movement,
// including skipping states or resurrecting a failed item without an
// explicit reprocess request, is rejected.
func Transition(from, to Status) error {
	for _, ok := range transitions[from] {
		if to == ok {
			return nil
		}
	}
	return fmt.Errorf("store: invalid status transition %q -> %q", from, to)
}

// CanReprocess reports whether a queue item is eligible for an
// operator-requested rerun: it must have failed and still have retry
// budget left.
func (q *QueueItem) CanReprocess() bool {
	return q.Status == StatusFailed && q.Attempts < MaxRetries
}
