package core

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType identifies one of the importable LIMS entities.
type EntityType string

const (
	EntityCollaborator EntityType = "collaborator"
	EntityProject      EntityType = "project"
	EntitySpecimen     EntityType = "specimen"
	EntityInventory    EntityType = "inventory"
	EntityPatient      EntityType = "patient"
)

// EntityTypes returns every entity type in dependency order: referenced
// entities come before the entities that reference them.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityCollaborator,
		EntityProject,
		EntityPatient,
		EntitySpecimen,
		EntityInventory,
	}
}

// ParseEntityType accepts singular or plural spellings in any case.
func ParseEntityType(s string) (EntityType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, et := range EntityTypes() {
		if s == string(et) || s == string(et)+"s" {
			return et, nil
		}
	}
	if s == "inventories" || s == "inventory_items" {
		return EntityInventory, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// FieldType represents the expected data type for an imported field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
	FieldInteger
)

func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	case FieldInteger:
		return "integer"
	default:
		return "text"
	}
}

// FieldSpec describes one canonical field of an entity.
//
// Name is the canonical field name and, unless the field is a reference or
// flagged Unsupported, also the database column. Aliases lists the accepted
// header spellings in priority order: when several headers claim the same
// field, the one whose alias appears earliest wins.
type FieldSpec struct {
	Name        string
	Aliases     []string
	Type        FieldType
	Required    bool
	EnumValues  []string
	StrictBool  bool                // reject unrecognized booleans instead of defaulting to false
	Unsupported bool                // recognized in files but never persisted
	Derived     bool                // computed from the sequential number; input ignored
	Normalizer  func(string) string // applied to non-empty values before validation
}

// Label returns the primary alias, used for export and template headers.
func (f FieldSpec) Label() string {
	if len(f.Aliases) > 0 {
		return f.Aliases[0]
	}
	return f.Name
}

// Reference links a field holding another entity's key to the foreign key
// column that stores the resolved internal id.
type Reference struct {
	Field     string     // canonical field carrying the referenced key, e.g. project_number
	Entity    EntityType // referenced entity
	KeyColumn string     // column of the referenced table matched against Field
	Column    string     // foreign key column on this table, e.g. project_id
	Required  bool       // unresolved values fail the row instead of warning
}

// TableInfo contains display and storage information about an entity table.
type TableInfo struct {
	Entity       EntityType
	Table        string
	Label        string
	NumberColumn string // column holding the sequential identifier
}

// TableDefinition contains everything needed to import one entity type.
type TableDefinition struct {
	Info       TableInfo
	FieldSpecs []FieldSpec
	References []Reference

	// NaturalKey lists the columns identifying an existing row. Reference
	// fields appear as their foreign key column.
	NaturalKey []string

	// PreserveKey replaces NaturalKey when external identifiers are kept.
	PreserveKey []string

	// ScopedKey replaces NaturalKey when an import is scoped to a project.
	ScopedKey []string

	// Derive fills derived field values once the sequential number is known.
	Derive func(number int64, values map[string]string)
}

// Field returns the spec for a canonical field name.
func (d TableDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.FieldSpecs {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// ReferenceFor returns the reference carried by a canonical field, if any.
func (d TableDefinition) ReferenceFor(field string) (Reference, bool) {
	for _, r := range d.References {
		if r.Field == field {
			return r, true
		}
	}
	return Reference{}, false
}

// ReferenceByColumn returns the reference stored in a foreign key column.
func (d TableDefinition) ReferenceByColumn(column string) (Reference, bool) {
	for _, r := range d.References {
		if r.Column == column {
			return r, true
		}
	}
	return Reference{}, false
}

// KeyFields returns the natural key columns for an import mode.
func (d TableDefinition) KeyFields(preserve, scoped bool) []string {
	if preserve && len(d.PreserveKey) > 0 {
		return d.PreserveKey
	}
	if scoped && len(d.ScopedKey) > 0 {
		return d.ScopedKey
	}
	return d.NaturalKey
}

// DataColumns returns the persisted columns set from field values, in
// FieldSpec order. The number column, references and unsupported fields are
// excluded.
func (d TableDefinition) DataColumns() []string {
	cols := make([]string, 0, len(d.FieldSpecs))
	for _, f := range d.FieldSpecs {
		if f.Unsupported || f.Name == d.Info.NumberColumn {
			continue
		}
		if _, isRef := d.ReferenceFor(f.Name); isRef {
			continue
		}
		cols = append(cols, f.Name)
	}
	return cols
}

// Headers returns the primary alias of every exportable field.
func (d TableDefinition) Headers() []string {
	headers := make([]string, 0, len(d.FieldSpecs))
	for _, f := range d.ExportFields() {
		headers = append(headers, f.Label())
	}
	return headers
}

// ExportFields returns the fields written by an export, in FieldSpec order.
func (d TableDefinition) ExportFields() []FieldSpec {
	fields := make([]FieldSpec, 0, len(d.FieldSpecs))
	for _, f := range d.FieldSpecs {
		if !f.Unsupported {
			fields = append(fields, f)
		}
	}
	return fields
}

// Action is what the orchestrator does with a validated record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Record is one validated row on its way to the store.
type Record struct {
	Line   int               // 1-based spreadsheet row; the header is row 1
	Values map[string]string // canonical field -> cleaned value
	Refs   map[string]int64  // foreign key column -> resolved internal id

	Key         string // natural key, joined with keySeparator
	Action      Action
	ExistingID  int64 // internal id of the row being updated
	DuplicateOf int   // line of the first row in the file with the same key

	Number    int64  // sequential number, assigned or preserved
	Preserved bool   // Number came from the file
	LegacyID  string // external identifier as written in the file

	ID int64 // internal id after a successful write
}

// KeyValue returns the value of one natural key column, reading foreign keys
// from Refs and everything else from Values.
func (r *Record) KeyValue(column string) string {
	if id, ok := r.Refs[column]; ok {
		return strconv.FormatInt(id, 10)
	}
	return r.Values[column]
}

const keySeparator = "\x1f"

// JoinKey builds the lookup key for a set of natural key values.
func JoinKey(parts []string) string {
	return strings.Join(parts, keySeparator)
}

// SplitKey reverses JoinKey.
func SplitKey(key string) []string {
	return strings.Split(key, keySeparator)
}

// DisplayKey renders a natural key for messages.
func DisplayKey(key string) string {
	return strings.Join(SplitKey(key), " / ")
}

// ExistingRow identifies a stored row matched by natural key. Matches counts
// the stored rows sharing the key; above one the key names no single row.
type ExistingRow struct {
	ID      int64
	Number  int64
	Matches int
}

// ImportOptions are the caller-controlled knobs of an import.
type ImportOptions struct {
	Preserve         bool              `json:"preserve"`
	SkipDuplicates   bool              `json:"skipDuplicates"`
	UpdateDuplicates bool              `json:"updateDuplicates"`
	ScopeToProject   bool              `json:"scopeToProject"`
	BatchSize        int               `json:"batchSize,omitempty"`
	Defaults         map[string]string `json:"defaults,omitempty"` // canonical field -> value used when the cell is empty
}
