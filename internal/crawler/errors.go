package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResult reports a crawl that succeeded but kept no entries.
	ErrEmptyResult = errors.New("crawl returned no entries")
	// ErrUnknownKind reports a crawl kind without a plan.
	ErrUnknownKind = errors.New("unknown crawl kind")
	// ErrDisabled reports a crawl kind switched off in configuration.
	ErrDisabled = errors.New("crawl kind disabled")
)

// StageError attributes a failure to the state it happened in.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
