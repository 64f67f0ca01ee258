package core

// validation.go checks mapped rows against an entity's field specs.
//
// Validation also canonicalizes: enum values take their declared spelling,
// dates become YYYY-MM-DD, booleans become "true"/"false" and integers lose
// separators and leading zeros. Later stages rely on these canonical forms
// when comparing natural keys.

import (
	"strconv"
	"strings"
)

// Validator validates rows for one entity definition and import mode.
type Validator struct {
	def      TableDefinition
	preserve bool
}

// NewValidator creates a validator. In generate mode the number column is
// dropped from every row before any other rule runs.
func NewValidator(def TableDefinition, preserve bool) *Validator {
	return &Validator{def: def, preserve: preserve}
}

// Validate checks values in place and returns every problem found in the row.
// line is the 1-based spreadsheet row number.
func (v *Validator) Validate(line int, values map[string]string) []*Error {
	var errs []*Error

	for _, f := range v.def.FieldSpecs {
		val := values[f.Name]

		if f.Unsupported || f.Derived {
			delete(values, f.Name)
			continue
		}

		if f.Name == v.def.Info.NumberColumn {
			if !v.preserve {
				delete(values, f.Name)
				continue
			}
			if val == "" {
				if v.numberIsKey() {
					errs = append(errs, MissingField(line, f.Name))
				}
				continue
			}
			n, ok := ParseInteger(val)
			if !ok || n <= 0 {
				errs = append(errs, InvalidIdentifier(line, f.Name, val))
				continue
			}
			values[f.Name] = strconv.FormatInt(n, 10)
			continue
		}

		if val != "" && f.Normalizer != nil {
			val = f.Normalizer(val)
			values[f.Name] = val
		}

		if val == "" {
			// Empty booleans stay empty: inserts store false, updates leave
			// the stored value alone.
			if f.Required {
				errs = append(errs, MissingField(line, f.Name))
			}
			continue
		}

		if err := v.checkValue(line, f, val, values); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// numberIsKey reports whether preserved numbers identify rows, in which case
// every row must carry one.
func (v *Validator) numberIsKey() bool {
	for _, col := range v.def.PreserveKey {
		if col == v.def.Info.NumberColumn {
			return true
		}
	}
	return false
}

func (v *Validator) checkValue(line int, f FieldSpec, val string, values map[string]string) *Error {
	switch f.Type {
	case FieldEnum:
		for _, allowed := range f.EnumValues {
			if strings.EqualFold(val, allowed) {
				values[f.Name] = allowed
				return nil
			}
		}
		return InvalidEnum(line, f.Name, val, f.EnumValues)

	case FieldDate:
		t, ok := ParseDate(val)
		if !ok {
			return InvalidDate(line, f.Name, val)
		}
		values[f.Name] = t.Format(DateLayout)

	case FieldBool:
		b, ok := ParseBool(val)
		if !ok && f.StrictBool {
			return InvalidBoolean(line, f.Name, val)
		}
		values[f.Name] = strconv.FormatBool(b)

	case FieldInteger:
		n, ok := ParseInteger(val)
		if !ok {
			return InvalidNumber(line, f.Name, val)
		}
		values[f.Name] = strconv.FormatInt(n, 10)

	case FieldNumeric:
		clean, ok := NormalizeNumeric(val)
		if !ok {
			return InvalidNumber(line, f.Name, val)
		}
		values[f.Name] = clean

	default:
		values[f.Name] = val
	}
	return nil
}

// ErrorStrings renders row errors for reports.
func ErrorStrings(errs []*Error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}
