package domain

import (
	"errors"
	"fmt"
	"time"
)

// CellFailure records one cell that ended in Skipped or Aborted, with the
// last failure message written to its error cell
type CellFailure struct {
	Ref     TaskRef
	Kind    string // error kind name at the final attempt
	Message string
}

// RunResult summarizes one orchestration pass. It is built incrementally
// and is the only state handed back to the caller.
type RunResult struct {
	ID         string // run identifier (uuid)
	SheetRef   string
	Processed  int // tasks that reached a terminal state
	Succeeded  int
	Skipped    int
	Failures   []CellFailure
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// RecordFailure appends a per-cell failure in completion order
func (r *RunResult) RecordFailure(ref TaskRef, kind, message string) {
	r.Failures = append(r.Failures, CellFailure{Ref: ref, Kind: kind, Message: message})
}

// Failure categories reported by AIWorker and SheetStore implementations.
// The classifier maps these (plus the HTTP-like status) to an error kind;
// unrecognized categories fall through to Unknown.
const (
	CategoryNetwork   = "network"
	CategoryAuth      = "auth"
	CategoryRateLimit = "rate_limit"
	CategorySelector  = "selector"
	CategoryTimeout   = "timeout"
)

// Failure is the structured error surfaced by external collaborators
// (AI workers and sheet backends). It carries enough for classification:
// a transport-level category and an optional HTTP-like status code.
type Failure struct {
	Category   string
	StatusCode int
	Op         string // what was being attempted, for messages
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d)", f.Op, f.Err, f.StatusCode)
	}
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a Failure from an error chain, if present
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
