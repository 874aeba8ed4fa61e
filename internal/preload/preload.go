// Package preload implements the subtitle preload queue: a deduplicating,
// bounded-concurrency controller that runs an ordered list of strategies per
// video and retries exhausted items at the front of its queue.
package preload

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrEmptyVideoID = errors.New("video id is required")
	ErrClosed       = errors.New("preload controller is closed")

	// ErrAlreadyQueued is informational; Enqueue reports it through
	// EnqueueResult.Reason rather than as an error.
	ErrAlreadyQueued = errors.New(ReasonAlreadyQueued)

	ErrStrategyUnavailable    = errors.New("strategy unavailable")
	ErrStrategyTimeout        = errors.New("strategy timeout")
	ErrStrategySkipped        = errors.New("strategy skipped")
	ErrAllStrategiesExhausted = errors.New("all strategies exhausted")
)

const (
	ReasonAlreadyQueued    = "already_queued"
	ReasonAlreadyProcessed = "already_processed"
)

// Request is one preload item. Metadata is passed to strategies untouched.
type Request struct {
	VideoID    string
	Metadata   any
	EnqueuedAt time.Time
	Attempts   int
}

type EnqueueResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Strategy is one way of making subtitle data available for a video.
// Attempt returns nil on success. Failures should wrap
// ErrStrategyUnavailable, ErrStrategyTimeout or ErrStrategySkipped; any other
// error is treated as unavailable.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req Request) error
}

type OutcomeKind string

const (
	OutcomeSucceeded      OutcomeKind = "succeeded"
	OutcomeRetryScheduled OutcomeKind = "retry_scheduled"
	OutcomeDiscarded      OutcomeKind = "discarded"
	OutcomeDropped        OutcomeKind = "dropped"
)

// Outcome describes what happened to a request after a full attempt.
type Outcome struct {
	VideoID    string      `json:"video_id"`
	Kind       OutcomeKind `json:"outcome"`
	Attempts   int         `json:"attempts"`
	Strategy   string      `json:"strategy,omitempty"`
	RetryIn    Duration    `json:"retry_in,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	At         time.Time   `json:"at"`
}

type AttemptResult string

const (
	AttemptAvailable   AttemptResult = "available"
	AttemptUnavailable AttemptResult = "unavailable"
	AttemptTimeout     AttemptResult = "timeout"
	AttemptSkipped     AttemptResult = "skipped"
	AttemptError       AttemptResult = "error"
)

// StrategyAttempt is reported once per strategy invocation.
type StrategyAttempt struct {
	VideoID  string        `json:"video_id"`
	Attempt  int           `json:"attempt"`
	Strategy string        `json:"strategy"`
	Result   AttemptResult `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration Duration      `json:"duration"`
	At       time.Time     `json:"at"`
}

// Duration marshals as milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	ms := time.Duration(d).Milliseconds()
	return strconv.AppendInt(nil, ms, 10), nil
}

func classifyAttempt(err error) AttemptResult {
	switch {
	case err == nil:
		return AttemptAvailable
	case errors.Is(err, ErrStrategySkipped):
		return AttemptSkipped
	case errors.Is(err, ErrStrategyTimeout), errors.Is(err, context.DeadlineExceeded):
		return AttemptTimeout
	case errors.Is(err, ErrStrategyUnavailable):
		return AttemptUnavailable
	default:
		return AttemptError
	}
}
