package core

import (
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of recent imports kept in memory.
const DefaultHistoryLimit = 100

// ImportSummary is the history entry kept for a finished import.
type ImportSummary struct {
	ImportID          string     `json:"importId"`
	Entity            EntityType `json:"entity"`
	FileName          string     `json:"fileName"`
	Status            string     `json:"status"`
	TotalRows         int        `json:"totalRows"`
	Created           int        `json:"created"`
	Updated           int        `json:"updated"`
	Failed            int        `json:"failed"`
	DuplicatesSkipped int        `json:"duplicatesSkipped"`
	StartedAt         time.Time  `json:"startedAt"`
	DurationMs        int64      `json:"durationMs"`
}

// ImportHistory is a bounded, newest-first log of finished imports.
type ImportHistory struct {
	mu      sync.RWMutex
	limit   int
	entries []ImportSummary
}

// NewImportHistory creates a history keeping at most limit entries.
func NewImportHistory(limit int) *ImportHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ImportHistory{limit: limit}
}

// Add records a finished import, evicting the oldest entry when full.
func (h *ImportHistory) Add(s ImportSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]ImportSummary{s}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Recent returns up to n entries, newest first, optionally for one entity.
func (h *ImportHistory) Recent(entity EntityType, n int) []ImportSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.limit {
		n = h.limit
	}
	out := make([]ImportSummary, 0, min(n, len(h.entries)))
	for _, e := range h.entries {
		if entity != "" && e.Entity != entity {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out
}

// Prune drops entries that started before cutoff and returns how many were
// removed.
func (h *ImportHistory) Prune(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	for _, e := range h.entries {
		if !e.StartedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(h.entries) - len(kept)
	h.entries = kept
	return removed
}

// Len returns the number of stored entries.
func (h *ImportHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
