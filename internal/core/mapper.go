package core

// mapper.go maps spreadsheet headers onto canonical fields.
//
// Each entity declares, per field, the exact header spellings it accepts in
// priority order. Matching is exact after CleanCell; there is no fuzzy
// matching. When several headers claim one field, the header whose alias has
// the lowest index wins and the rest are reported as conflicts; equal
// priority goes to the leftmost column.

import "sort"

// MappedColumn is one header bound to a canonical field.
type MappedColumn struct {
	Index  int    `json:"index"`
	Header string `json:"header"`
	Field  string `json:"field"`
}

// MappingConflict lists headers that lost a field to a higher-priority one.
type MappingConflict struct {
	Field  string   `json:"field"`
	Winner string   `json:"winner"`
	Losers []string `json:"losers"`
}

// MappingFeedback explains a mapping to the user.
type MappingFeedback struct {
	Mapped      []MappedColumn    `json:"mapped"`
	Conflicts   []MappingConflict `json:"conflicts"`
	Unmatched   []string          `json:"unmatched"`
	Unsupported []string          `json:"unsupported"`
}

// Warnings renders the feedback as human-readable warnings.
func (f MappingFeedback) Warnings() []string {
	var out []string
	for _, c := range f.Conflicts {
		for _, l := range c.Losers {
			out = append(out, "column \""+l+"\" ignored: \""+c.Winner+"\" already maps to "+c.Field)
		}
	}
	for _, h := range f.Unmatched {
		out = append(out, "column \""+h+"\" does not match any known field")
	}
	for _, h := range f.Unsupported {
		out = append(out, "column \""+h+"\" is recognized but not stored")
	}
	return out
}

// ColumnMapping is the result of mapping a header row.
type ColumnMapping struct {
	Columns  map[int]string // column index -> canonical field
	Feedback MappingFeedback
}

// Has reports whether a field was mapped to some column.
func (m ColumnMapping) Has(field string) bool {
	for _, f := range m.Columns {
		if f == field {
			return true
		}
	}
	return false
}

type aliasRef struct {
	field    string
	priority int
}

// ColumnMapper maps headers for one entity definition.
type ColumnMapper struct {
	def     TableDefinition
	aliases map[string]aliasRef
}

// NewColumnMapper indexes the alias table of def.
func NewColumnMapper(def TableDefinition) *ColumnMapper {
	aliases := make(map[string]aliasRef)
	for _, f := range def.FieldSpecs {
		for i, a := range f.Aliases {
			if _, taken := aliases[a]; !taken {
				aliases[a] = aliasRef{field: f.Name, priority: i}
			}
		}
	}
	return &ColumnMapper{def: def, aliases: aliases}
}

type claim struct {
	index    int
	header   string
	priority int
}

// Map binds headers to fields. It is pure: the same headers always produce
// the same mapping.
func (m *ColumnMapper) Map(headers []string) ColumnMapping {
	result := ColumnMapping{Columns: make(map[int]string)}
	claims := make(map[string][]claim)

	for i, raw := range headers {
		h := CleanCell(raw)
		if h == "" {
			continue
		}
		ref, ok := m.aliases[h]
		if !ok {
			result.Feedback.Unmatched = append(result.Feedback.Unmatched, h)
			continue
		}
		claims[ref.field] = append(claims[ref.field], claim{index: i, header: h, priority: ref.priority})
	}

	for _, f := range m.def.FieldSpecs {
		cs := claims[f.Name]
		if len(cs) == 0 {
			continue
		}
		sort.SliceStable(cs, func(i, j int) bool {
			if cs[i].priority != cs[j].priority {
				return cs[i].priority < cs[j].priority
			}
			return cs[i].index < cs[j].index
		})

		winner := cs[0]
		if len(cs) > 1 {
			conflict := MappingConflict{Field: f.Name, Winner: winner.header}
			for _, c := range cs[1:] {
				conflict.Losers = append(conflict.Losers, c.header)
			}
			result.Feedback.Conflicts = append(result.Feedback.Conflicts, conflict)
		}

		if f.Unsupported {
			result.Feedback.Unsupported = append(result.Feedback.Unsupported, winner.header)
			continue
		}
		result.Columns[winner.index] = f.Name
		result.Feedback.Mapped = append(result.Feedback.Mapped, MappedColumn{
			Index: winner.index, Header: winner.header, Field: f.Name,
		})
	}

	sort.Slice(result.Feedback.Mapped, func(i, j int) bool {
		return result.Feedback.Mapped[i].Index < result.Feedback.Mapped[j].Index
	})
	return result
}

// Extract reads the mapped cells of one row into a canonical value map.
// Cells beyond the end of a short row are treated as absent.
func (m ColumnMapping) Extract(row []string) map[string]string {
	values := make(map[string]string, len(m.Columns))
	for idx, field := range m.Columns {
		if idx < len(row) {
			values[field] = CleanCell(row[idx])
		} else {
			values[field] = ""
		}
	}
	return values
}
