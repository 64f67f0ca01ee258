package tables

import "strings"

// sexCodes maps common spellings onto the sex enum values.
var sexCodes = map[string]string{
	"m":       "male",
	"male":    "male",
	"man":     "male",
	"f":       "female",
	"female":  "female",
	"woman":   "female",
	"o":       "other",
	"other":   "other",
	"u":       "unknown",
	"unk":     "unknown",
	"unknown": "unknown",
	"n/a":     "unknown",
}

// NormalizeSex converts abbreviations like "M" or "F" to enum values.
// Unrecognized input is returned as-is so validation can report it.
func NormalizeSex(s string) string {
	if code, ok := sexCodes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return code
	}
	return s
}

// NormalizeStatus lowercases a status and joins words with underscores, so
// "On Hold" and "on-hold" both become "on_hold".
func NormalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// NormalizeTubeID uppercases a tube identifier and removes inner whitespace.
// Labels are printed in upper case; hand-typed sheets often are not.
func NormalizeTubeID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// NormalizeEmail lowercases an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSpaces collapses runs of whitespace to a single space. Natural key
// text fields use it so "Acme  Institute" matches "Acme Institute".
func NormalizeSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeLocation tidies freezer locations like "f1 / r1 / b2" into
// "F1/R1/B2".
func NormalizeLocation(s string) string {
	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.Join(strings.Fields(p), ""))
	}
	return strings.Join(parts, "/")
}
