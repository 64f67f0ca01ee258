package core

import (
	"fmt"
	"sort"
	"sync"
)

// Abort policy defaults.
const (
	DefaultAbortMinAttempts = 10
	DefaultAbortFailureRate = 0.2
	DefaultHighFailureRate  = 0.5
)

// ErrorTracker accumulates row outcomes for one import and decides whether
// the import should stop. It only advises; the orchestrator acts on it.
type ErrorTracker struct {
	mu sync.Mutex

	minAttempts int
	threshold   float64

	attempts    int
	failures    int
	byClass     map[string]int
	critical    *Error
	lastSuccess string
}

// NewErrorTracker creates a tracker that recommends aborting once at least
// minAttempts rows were tried and the failure rate exceeds threshold.
func NewErrorTracker(minAttempts int, threshold float64) *ErrorTracker {
	if minAttempts < 0 {
		minAttempts = DefaultAbortMinAttempts
	}
	if threshold <= 0 {
		threshold = DefaultAbortFailureRate
	}
	return &ErrorTracker{
		minAttempts: minAttempts,
		threshold:   threshold,
		byClass:     make(map[string]int),
	}
}

// RecordSuccess counts a committed row. desc identifies it in the summary.
func (t *ErrorTracker) RecordSuccess(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.lastSuccess = desc
}

// RecordFailure counts a failed row. A critical error flags the import.
func (t *ErrorTracker) RecordFailure(err error) {
	e := Classify(err)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	t.failures++
	t.byClass[e.Class()]++
	if e.Critical() && t.critical == nil {
		t.critical = e
	}
}

// RecordCritical flags the import with an error that was not caused by any
// single row, such as a failed commit. It does not count as an attempt.
func (t *ErrorTracker) RecordCritical(err error) {
	e := Classify(err)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byClass[e.Class()]++
	if t.critical == nil {
		t.critical = e
	}
}

// FailureRate returns failures / attempts, or 0 before any attempt.
func (t *ErrorTracker) FailureRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate()
}

func (t *ErrorTracker) rate() float64 {
	if t.attempts == 0 {
		return 0
	}
	return float64(t.failures) / float64(t.attempts)
}

// ShouldAbortOperation reports whether the import should stop and why.
// A critical error aborts immediately; otherwise the failure rate is only
// judged once enough rows were attempted.
func (t *ErrorTracker) ShouldAbortOperation() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.critical != nil {
		return true, fmt.Sprintf("critical error: %v", t.critical)
	}
	if t.attempts >= t.minAttempts && t.attempts > 0 && t.rate() > t.threshold {
		return true, fmt.Sprintf("failure rate %.0f%% exceeds %.0f%% after %d rows",
			t.rate()*100, t.threshold*100, t.attempts)
	}
	return false, ""
}

// ClassCount is the number of failures of one classification.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// TrackerSummary is a snapshot of an ErrorTracker.
type TrackerSummary struct {
	Attempted         int          `json:"attempted"`
	Succeeded         int          `json:"succeeded"`
	Failed            int          `json:"failed"`
	SuccessRate       float64      `json:"successRate"`
	FailuresByClass   []ClassCount `json:"failuresByClass,omitempty"`
	Critical          string       `json:"critical,omitempty"`
	LastSuccessRecord string       `json:"lastSuccessRecord,omitempty"`
}

// Summary returns the current counts. Classes are sorted by count, then name.
func (t *ErrorTracker) Summary() TrackerSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TrackerSummary{
		Attempted:         t.attempts,
		Succeeded:         t.attempts - t.failures,
		Failed:            t.failures,
		LastSuccessRecord: t.lastSuccess,
	}
	if t.attempts > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(t.attempts)
	}
	if t.critical != nil {
		s.Critical = t.critical.Error()
	}
	for class, n := range t.byClass {
		s.FailuresByClass = append(s.FailuresByClass, ClassCount{Class: class, Count: n})
	}
	sort.Slice(s.FailuresByClass, func(i, j int) bool {
		a, b := s.FailuresByClass[i], s.FailuresByClass[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Class < b.Class
	})
	return s
}
