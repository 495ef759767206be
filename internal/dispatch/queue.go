package dispatch

import (
	"sort"
	"time"
)

// QueueEntry is a complaint waiting for a technician.
type QueueEntry struct {
	ComplaintID   string    `json:"complaint_id"`
	PriorityScore float64   `json:"priority_score"`
	CreatedAt     time.Time `json:"created_at"`
	Attempts      int       `json:"attempts"`
	LastReason    string    `json:"last_reason"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// backoff doubles base per failed attempt and never exceeds max.
func backoff(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		if max > 0 && d >= max/2 {
			return max
		}
		d *= 2
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// sortQueue orders entries by priority, highest first, then by age.
func sortQueue(entries []QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ComplaintID < b.ComplaintID
	})
}
