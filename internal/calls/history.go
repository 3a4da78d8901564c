package calls

import (
	"sync"
	"time"
)

// Outcome is how a call finished.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeReset     Outcome = "reset"
)

// CallRecord describes one finished call. Records are kept in memory only.
type CallRecord struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"startedAt"`
	AnsweredAt      *time.Time `json:"answeredAt,omitempty"`
	EndedAt         time.Time  `json:"endedAt"`
	DurationSeconds int        `json:"durationSeconds"`
	Outcome         Outcome    `json:"outcome"`
	Error           string     `json:"error,omitempty"`
}

// History is a bounded, append-only list of finished calls.
type History struct {
	mu      sync.Mutex
	limit   int
	records []CallRecord
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 20
	}
	return &History{limit: limit}
}

func (h *History) Append(r CallRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if over := len(h.records) - h.limit; over > 0 {
		h.records = append([]CallRecord(nil), h.records[over:]...)
	}
}

// Records returns the kept records, newest first.
func (h *History) Records() []CallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CallRecord, len(h.records))
	for i, r := range h.records {
		out[len(h.records)-1-i] = r
	}
	return out
}
