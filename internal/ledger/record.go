// Package ledger persists per-thread delivery state across runs.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a thread.
type Status string

// Thread statuses as persisted.
const (
	StatusNew    Status = "new"
	StatusReady  Status = "ready"
	StatusNotJob Status = "not_job"
	StatusFailed Status = "failed"
	StatusSent   Status = "sent"
)

// Record is the ledger entry for one canonical key.
type Record struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Attempts    int
	LastAttempt time.Time
	Status      Status
	LastError   string
	SentAt      time.Time
}

// Exhausted reports whether the retry budget is spent.
func (r Record) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && r.Attempts >= maxAttempts
}

// wireRecord keeps timestamps as epoch milliseconds.
type wireRecord struct {
	FirstSeen   int64   `json:"firstSeen"`
	LastSeen    int64   `json:"lastSeen"`
	Attempts    int     `json:"attempts"`
	LastAttempt int64   `json:"lastAttempt,omitempty"`
	Status      Status  `json:"status"`
	LastError   *string `json:"lastError,omitempty"`
	SentAt      *int64  `json:"sentAt,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		FirstSeen:   toMillis(r.FirstSeen),
		LastSeen:    toMillis(r.LastSeen),
		Attempts:    r.Attempts,
		LastAttempt: toMillis(r.LastAttempt),
		Status:      r.Status,
	}
	if r.LastError != "" {
		w.LastError = &r.LastError
	}
	if !r.SentAt.IsZero() {
		sent := toMillis(r.SentAt)
		w.SentAt = &sent
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	*r = Record{
		FirstSeen:   fromMillis(w.FirstSeen),
		LastSeen:    fromMillis(w.LastSeen),
		Attempts:    max(w.Attempts, 0),
		LastAttempt: fromMillis(w.LastAttempt),
		Status:      w.Status,
	}
	if r.Status == "" {
		r.Status = StatusNew
	}
	if w.LastError != nil {
		r.LastError = *w.LastError
	}
	if w.SentAt != nil {
		r.SentAt = fromMillis(*w.SentAt)
	}
	return nil
}

type document struct {
	Items map[string]Record `json:"items"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
