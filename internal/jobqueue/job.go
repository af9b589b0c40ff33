// Package jobqueue implements a durable, retryable redis-backed work queue
// with attempt counting, exponential backoff and a global start limiter.
// Delivery is at-least-once; attempt bookkeeping is owned by the queue and
// only read by handlers.
package jobqueue

import (
	"encoding/json"
	"errors"
)

// Job is the queue-level unit of work carrying an order id.
type Job struct {
	ID           string `json:"id"`
	OrderID      string `json:"orderId"`
	AttemptsMade int    `json:"attemptsMade"`
	MaxAttempts  int    `json:"maxAttempts"`
}

func marshalJob(j Job) (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJob(raw string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return Job{}, err
	}
	return j, nil
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an error as non-retryable: the queue treats the attempt as
// final regardless of the remaining retry budget. Used for failures a
// retry cannot fix, such as a missing order row.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
