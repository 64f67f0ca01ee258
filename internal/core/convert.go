package core

// convert.go turns spreadsheet cell text into canonical values and pgtype
// parameters.
//
// Spreadsheet data arrives in many shapes:
//   - ISO dates, US/EU layouts, and Excel serial day numbers
//   - Thousands separators and currency symbols in numbers
//   - Several boolean spellings (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value") and stray quotes
//
// The Parse* helpers report whether the input was understood; the ToPg*
// helpers return Valid=false for empty or invalid input so the database
// stores NULL.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"
)

// DateLayout is the canonical date form written back into validated rows.
const DateLayout = "2006-01-02"

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// serialRegex matches Excel serial day numbers, optionally with a time fraction.
var serialRegex = regexp.MustCompile(`^\d{1,7}(\.\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// maxExcelSerial is 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958465

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "02-Jan-2006",
		"20060102",
	}
)

// ParseDate parses a date cell. Text layouts are tried first, then Excel
// serial day numbers, which is how spreadsheet dates arrive when cells are
// read without number formatting.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts are unambiguous
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	// 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	if serialRegex.MatchString(s) {
		serial, err := strconv.ParseFloat(s, 64)
		if err == nil && serial >= 1 && serial <= maxExcelSerial {
			if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return truncateDay(t), true
			}
		}
	}

	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseBool recognizes yes/no, true/false, t/f, y/n and 1/0 in any case.
func ParseBool(s string) (value, ok bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// ParseInteger parses an integer cell. Thousands separators are accepted, as
// is a whole-valued decimal such as "12.0" which spreadsheets produce for
// numeric cells.
func ParseInteger(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

// NormalizeNumeric strips currency symbols, thousands separators and
// accounting parentheses. Returns false if the result is not a number.
func NormalizeNumeric(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a string to pgtype.Date.
func ToPgDate(s string) pgtype.Date {
	t, ok := ParseDate(s)
	if !ok {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgNumeric converts a string to pgtype.Numeric.
func ToPgNumeric(s string) pgtype.Numeric {
	clean, ok := NormalizeNumeric(s)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(clean); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ToPgBool converts a string to pgtype.Bool.
func ToPgBool(s string) pgtype.Bool {
	b, ok := ParseBool(s)
	if !ok {
		return pgtype.Bool{Valid: false}
	}
	return pgtype.Bool{Bool: b, Valid: true}
}

// ToPgInt8 converts an integer cell to pgtype.Int8.
func ToPgInt8(s string) pgtype.Int8 {
	n, ok := ParseInteger(s)
	if !ok {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: n, Valid: true}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return strings.TrimSpace(s)
}
