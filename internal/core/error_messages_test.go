package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"tagged missing field", MissingField(3, "tube_id"), "VAL003"},
		{"tagged invalid date", InvalidDate(4, "date_collected", "soon"), "VAL001"},
		{"tagged invalid enum", InvalidEnum(4, "status", "x", []string{"active"}), "VAL004"},
		{"tagged unresolved reference", UnresolvedReference(2, "project_number", "9", EntityProject), "VAL006"},
		{"tagged duplicate identifier", DuplicateIdentifier(5, "specimen_number", 7, "in the database"), "IMP002"},
		{"tagged unique violation", ConstraintViolation(CodeUniqueViolation, "specimens_tube_key", true, nil), "DB001"},
		{"tagged foreign key", ConstraintViolation(CodeForeignKey, "", false, nil), "DB002"},
		{"tagged allocation", AllocationFailed(EntitySpecimen, errors.New("boom")), "IMP006"},
		{"tagged duplicates rejected", DuplicatesRejected(3, nil), "IMP001"},
		{"high failure rate kind", &Error{Kind: KindHighFailureRate}, "IMP003"},
		{"wrapped tagged error", fmt.Errorf("import: %w", ConnectionFailure(CodeConnectionReset, nil)), "DB003"},
		{"classified deadline", Classify(context.DeadlineExceeded), "DB004"},
		{"pattern too many imports", ErrTooManyImports, "IMP005"},
		{"pattern file too large", ErrFileTooLarge, "FILE001"},
		{"pattern duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"pattern foreign key", errors.New("violates foreign key constraint"), "DB002"},
		{"pattern connection refused", errors.New("dial tcp: connection refused"), "DB003"},
		{"pattern sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB005"},
		{"unknown error", errors.New("something weird happened"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q (message %q)", got.Code, tt.wantCode, got.Message)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError() = %+v, want message and action", got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(MissingField(2, "name"))
	want := "Required field is empty (Code: VAL003). Ensure all required columns have values"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true")
	}
	if !IsUserFacing(InvalidBoolean(2, "extracted", "maybe")) {
		t.Error("tagged validation error should be user facing")
	}
	if IsUserFacing(errors.New("nil pointer dereference")) {
		t.Error("unknown error should not be user facing")
	}
}

func TestMapError_MessagesAreComplete(t *testing.T) {
	for code, msg := range codeMessages {
		if msg.Message == "" || msg.Action == "" || !strings.Contains("DBVALIMPFILE", msg.Code[:3]) {
			t.Errorf("codeMessages[%q] = %+v is incomplete", code, msg)
		}
	}
	for _, ep := range errorPatterns {
		if ep.pattern != strings.ToLower(ep.pattern) {
			t.Errorf("pattern %q must be lowercase", ep.pattern)
		}
	}
}
