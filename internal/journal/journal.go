// Package journal keeps an append-only audit log of preload strategy attempts
// and item outcomes. The log is for operators; nothing reads it back to rebuild
// queue state.
package journal

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nuetzliches/subwarm/internal/preload"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var ErrEntryExists = errors.New("journal entry already exists")

type Kind string

const (
	KindAttempt Kind = "attempt"
	KindOutcome Kind = "outcome"
)

// Entry is one journal row. For attempts Result holds the strategy result;
// for outcomes it holds the outcome kind and Attempt the total attempts.
type Entry struct {
	ID         string    `json:"id"`
	VideoID    string    `json:"video_id"`
	Kind       Kind      `json:"kind"`
	Attempt    int       `json:"attempt"`
	Strategy   string    `json:"strategy,omitempty"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ListRequest struct {
	VideoID  string
	Kind     Kind
	Strategy string
	Result   string
	Limit    int
	Before   time.Time
}

type ListResponse struct {
	Items []Entry `json:"items"`
}

type Store interface {
	Record(e Entry) error
	List(req ListRequest) (ListResponse, error)
	Close() error
}

func FromAttempt(a preload.StrategyAttempt) Entry {
	return Entry{
		VideoID:    a.VideoID,
		Kind:       KindAttempt,
		Attempt:    a.Attempt,
		Strategy:   a.Strategy,
		Result:     string(a.Result),
		Error:      a.Error,
		DurationMS: time.Duration(a.Duration).Milliseconds(),
		CreatedAt:  a.At,
	}
}

func FromOutcome(o preload.Outcome) Entry {
	return Entry{
		VideoID:   o.VideoID,
		Kind:      KindOutcome,
		Attempt:   o.Attempts,
		Strategy:  o.Strategy,
		Result:    string(o.Kind),
		CreatedAt: o.At,
	}
}

func newEntryID() string {
	return "jrn_" + uuid.NewString()
}

// normalize fills defaults shared by every backend.
func normalize(e Entry, now func() time.Time) Entry {
	if strings.TrimSpace(e.ID) == "" {
		e.ID = newEntryID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Error = strings.TrimSpace(e.Error)
	if e.Kind == "" {
		e.Kind = KindAttempt
	}
	return e
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
