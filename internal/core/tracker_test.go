package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorTracker_FailureRate(t *testing.T) {
	tr := NewErrorTracker(4, 0.5)
	assert.Zero(t, tr.FailureRate())

	tr.RecordSuccess("row 2")
	tr.RecordFailure(MissingField(3, "title"))
	tr.RecordFailure(MissingField(4, "title"))
	tr.RecordFailure(InvalidDate(5, "date_collected", "x"))

	assert.InDelta(t, 0.75, tr.FailureRate(), 1e-9)

	s := tr.Summary()
	assert.Equal(t, 4, s.Attempted)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, "row 2", s.LastSuccessRecord)
	assert.Equal(t, []ClassCount{
		{Class: CodeMissingField, Count: 2},
		{Class: CodeInvalidDate, Count: 1},
	}, s.FailuresByClass)
}

func TestErrorTracker_ShouldAbortOperation(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		want      bool
	}{
		{"below minimum attempts", 0, 3, false},
		{"rate at threshold", 2, 2, false},
		{"rate above threshold", 1, 3, true},
		{"no attempts", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewErrorTracker(4, 0.5)
			for i := 0; i < tt.successes; i++ {
				tr.RecordSuccess("ok")
			}
			for i := 0; i < tt.failures; i++ {
				tr.RecordFailure(ConstraintViolation(CodeCheckViolation, "", false, nil))
			}

			got, reason := tr.ShouldAbortOperation()
			assert.Equal(t, tt.want, got)
			if got {
				assert.Contains(t, reason, "failure rate")
			}
		})
	}
}

func TestErrorTracker_CriticalAbortsImmediately(t *testing.T) {
	tr := NewErrorTracker(100, 0.9)
	tr.RecordSuccess("row 2")
	tr.RecordCritical(ConnectionFailure(CodeConnectionReset, errors.New("reset by peer")))

	abort, reason := tr.ShouldAbortOperation()
	assert.True(t, abort)
	assert.Contains(t, reason, "critical error")

	s := tr.Summary()
	assert.Equal(t, 1, s.Attempted, "a critical error is not a row attempt")
	assert.NotEmpty(t, s.Critical)
}

func TestErrorTracker_Defaults(t *testing.T) {
	tr := NewErrorTracker(-1, 0)
	assert.Equal(t, DefaultAbortMinAttempts, tr.minAttempts)
	assert.Equal(t, DefaultAbortFailureRate, tr.threshold)
}
