package queue

import "fmt"

// DuplicateError is returned by brokers when an enqueue carries a dedupe key
// that already has a pending job. The queue layer collapses it into a
// successful enqueue reporting the existing job's id.
type DuplicateError struct {
	Queue      string
	Key        string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate job on queue %s for key %s (pending job %s)", e.Queue, e.Key, e.ExistingID)
}
