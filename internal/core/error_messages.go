package core

// error_messages.go turns technical errors into messages a lab user can act
// on. Every message carries a code that support staff can look up:
//
//	DB001  unique constraint          DB004  timeout
//	DB002  missing referenced record  DB005  deadlock or busy database
//	DB003  connection failure
//	VAL001 invalid date               VAL004 value not in allowed list
//	VAL002 invalid number             VAL005 invalid yes/no value
//	VAL003 required field empty       VAL006 referenced record not found
//	IMP001 duplicates rejected        IMP004 nothing imported
//	IMP002 identifier already used    IMP005 import slots busy
//	IMP003 too many failed rows       IMP006 identifier allocation failed
//	IMP007 repeats a failed row
//	FILE001 file too large            FILE003 no header row
//	FILE002 unreadable file format
//	RATE001 rate limited
//	ERR000 anything else
//
// Tagged *Error values map by kind and code; plain errors fall back to
// substring patterns.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage contains a user-friendly error message with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var codeMessages = map[string]UserMessage{
	CodeUniqueViolation:     {"A record with the same key already exists", "Re-run with skip or update for duplicates", "DB001"},
	CodeForeignKey:          {"A referenced record does not exist", "Import the referenced records first", "DB002"},
	CodeNotNull:             {"A required value is missing", "Fill in the required columns", "VAL003"},
	CodeCheckViolation:      {"A value is outside the allowed range", "Check identifiers and quantities are positive", "VAL002"},
	CodeConnectionReset:     {"The database connection was interrupted", "Please try again", "DB003"},
	CodeConnectionRefused:   {"Unable to connect to the database", "Please try again in a few moments", "DB003"},
	CodeHostNotFound:        {"The database host could not be found", "Contact your administrator", "DB003"},
	CodeFatal:               {"The database rejected the connection", "Contact your administrator", "DB003"},
	CodeTimeout:             {"The operation timed out", "Try a smaller file or try again later", "DB004"},
	CodeCancelled:           {"The operation was cancelled", "Start the import again", "DB004"},
	CodeDeadlock:            {"The database was busy with conflicting changes", "Please try again", "DB005"},
	CodeSerialization:       {"The database was busy with conflicting changes", "Please try again", "DB005"},
	CodeBusy:                {"The database is busy", "Please try again", "DB005"},
	CodeInvalidDate:         {"Invalid date format detected", "Use YYYY-MM-DD or an Excel date cell", "VAL001"},
	CodeInvalidNumber:       {"Invalid number format detected", "Use plain digits without units", "VAL002"},
	CodeInvalidIdentifier:   {"Invalid identifier", "Identifiers must be positive whole numbers", "VAL002"},
	CodeMissingField:        {"Required field is empty", "Ensure all required columns have values", "VAL003"},
	CodeInvalidEnum:         {"Value is not in the allowed list", "Use one of the listed values", "VAL004"},
	CodeInvalidBoolean:      {"Invalid yes/no value", "Use yes/no, true/false or 1/0", "VAL005"},
	CodeUnresolvedReference: {"Referenced record not found", "Check the referenced number or import it first", "VAL006"},
	CodeDuplicateIdentifier: {"This identifier is already in use", "Remove the duplicate or import without preserving identifiers", "IMP002"},
	CodeDuplicateOfFailed:   {"This row repeats an earlier row that failed", "Fix the earlier row and import again", "IMP007"},
	CodeAmbiguousKey:        {"This row matches records in several projects", "Import the file scoped to one project", "IMP008"},
	CodeAllocationFailed:    {"Identifiers could not be allocated", "Please try again; nothing in the failed batch was saved", "IMP006"},
}

var kindMessages = map[Kind]UserMessage{
	KindDuplicatesRejected: {"Some rows match existing records", "Choose skip or update for duplicates and import again", "IMP001"},
	KindHighFailureRate:    {"Too many rows failed", "Fix the reported rows and import again", "IMP003"},
	KindNothingProcessed:   {"No rows were imported", "Review the row errors and import again", "IMP004"},
	KindConnection:         {"The database connection failed", "Please try again", "DB003"},
	KindAllocation:         {"Identifiers could not be allocated", "Please try again; nothing in the failed batch was saved", "IMP006"},
}

// errorPattern maps a lowercase substring of an untagged error to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is searched in order; specific patterns come first.
var errorPatterns = []errorPattern{
	{"too many concurrent imports", UserMessage{"The server is busy with other imports", "Please wait a moment and try again", "IMP005"}},
	{"exceeds maximum import size", UserMessage{"File exceeds the maximum import size", "Split the file into smaller files", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum import size", "Split the file into smaller files", "FILE001"}},
	{"unsupported file type", UserMessage{"This file type is not supported", "Upload a .csv or .xlsx file", "FILE002"}},
	{"zip: not a valid zip file", UserMessage{"The Excel file could not be read", "Re-save the workbook as .xlsx", "FILE002"}},
	{"wrong number of fields", UserMessage{"The CSV file is malformed", "Ensure every row has the same columns", "FILE002"}},
	{"bare \" in non-quoted-field", UserMessage{"The CSV file has stray quotes", "Re-export the file from your spreadsheet", "FILE002"}},
	{"no header row", UserMessage{"The file has no header row", "Put column names in the first row", "FILE003"}},
	{"unknown entity type", UserMessage{"Unknown record type", "Use collaborator, project, specimen, patient or inventory", "VAL004"}},
	{"duplicate key", UserMessage{"A record with the same key already exists", "Re-run with skip or update for duplicates", "DB001"}},
	{"unique constraint", UserMessage{"A record with the same key already exists", "Re-run with skip or update for duplicates", "DB001"}},
	{"foreign key", UserMessage{"A referenced record does not exist", "Import the referenced records first", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to the database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"The database connection was interrupted", "Please try again", "DB003"}},
	{"timeout", UserMessage{"The operation timed out", "Try a smaller file or try again later", "DB004"}},
	{"deadline exceeded", UserMessage{"The operation timed out", "Try a smaller file or try again later", "DB004"}},
	{"deadlock", UserMessage{"The database was busy with conflicting changes", "Please try again", "DB005"}},
	{"database is locked", UserMessage{"The database is busy", "Please try again", "DB005"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check the logs for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ie *Error
	if errors.As(err, &ie) {
		if msg, ok := codeMessages[ie.Code]; ok {
			return msg
		}
		if msg, ok := kindMessages[ie.Kind]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
