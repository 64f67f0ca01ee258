package core

// resolver.go links rows to the records they reference and to the records
// they duplicate.
//
// Both lookups are set-based: one query per reference column and one query
// per natural-key set, chunked so a large file never exceeds the driver's
// bind parameter limit.

import (
	"context"
	"fmt"
	"sort"
)

// lookupChunkSize bounds the number of keys sent in one lookup query.
const lookupChunkSize = 500

// ReferenceCounts summarizes reference resolution for one field.
type ReferenceCounts struct {
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}

// ReferenceResult is the outcome of ResolveReferences.
type ReferenceResult struct {
	Errors   []*Error
	Warnings []string
	Counts   map[string]ReferenceCounts // keyed by reference field
}

// ResolveReferences fills rec.Refs for every reference field of def.
// Unresolved required references become row errors; unresolved optional
// references leave the link empty and produce a warning.
func ResolveReferences(ctx context.Context, store Store, def TableDefinition, records []*Record) (ReferenceResult, error) {
	result := ReferenceResult{Counts: make(map[string]ReferenceCounts)}

	for _, ref := range def.References {
		target, ok := Get(ref.Entity)
		if !ok {
			return result, fmt.Errorf("reference %s: entity %s not registered", ref.Field, ref.Entity)
		}

		seen := make(map[string]bool)
		var values []string
		for _, rec := range records {
			if v := rec.Values[ref.Field]; v != "" && !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)

		ids := make(map[string]int64, len(values))
		for start := 0; start < len(values); start += lookupChunkSize {
			end := min(start+lookupChunkSize, len(values))
			chunk, err := store.LookupIDs(ctx, target, ref.KeyColumn, values[start:end])
			if err != nil {
				return result, fmt.Errorf("resolve %s: %w", ref.Field, err)
			}
			for k, id := range chunk {
				ids[k] = id
			}
		}

		counts := ReferenceCounts{}
		for _, v := range values {
			if _, ok := ids[v]; ok {
				counts.Resolved++
			} else {
				counts.Unresolved++
			}
		}
		result.Counts[ref.Field] = counts

		for _, rec := range records {
			v := rec.Values[ref.Field]
			if v == "" {
				continue
			}
			id, ok := ids[v]
			if ok {
				if rec.Refs == nil {
					rec.Refs = make(map[string]int64)
				}
				rec.Refs[ref.Column] = id
				continue
			}
			if ref.Required {
				result.Errors = append(result.Errors, UnresolvedReference(rec.Line, ref.Field, v, ref.Entity))
			} else {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("row %d: no %s found for %q; link left empty", rec.Line, ref.Entity, v))
			}
		}
	}

	return result, nil
}

// Resolution summarizes duplicate detection.
type Resolution struct {
	New              int      `json:"new"`
	Existing         int      `json:"existing"`
	InFileDuplicates int      `json:"inFileDuplicates"`
	Ambiguous        int      `json:"ambiguous,omitempty"`
	ExistingKeys     []string `json:"existingKeys,omitempty"` // display form, capped

	// Errors holds rows whose key matches several stored rows. The caller
	// removes them before writing.
	Errors []*Error `json:"-"`
}

// maxReportedKeys caps key samples in resolutions and rejections.
const maxReportedKeys = 10

// DuplicateResolver classifies rows as new or existing by natural key.
type DuplicateResolver struct {
	store      Store
	def        TableDefinition
	keyColumns []string
}

// NewDuplicateResolver creates a resolver matching on keyColumns.
func NewDuplicateResolver(store Store, def TableDefinition, keyColumns []string) *DuplicateResolver {
	return &DuplicateResolver{store: store, def: def, keyColumns: keyColumns}
}

// Resolve sets Key, Action, ExistingID and DuplicateOf on every record.
// A row repeating a key seen earlier in the file updates the first row's
// result, so rows are processed strictly in file order. A key matching more
// than one stored row is never guessed: every row carrying it gets an
// AmbiguousKey error in the resolution instead of an action.
func (r *DuplicateResolver) Resolve(ctx context.Context, records []*Record) (Resolution, error) {
	var res Resolution

	first := make(map[string]*Record)
	var keys [][]string
	for _, rec := range records {
		parts := make([]string, len(r.keyColumns))
		for i, col := range r.keyColumns {
			parts[i] = rec.KeyValue(col)
		}
		rec.Key = JoinKey(parts)
		if _, dup := first[rec.Key]; dup {
			continue
		}
		first[rec.Key] = rec
		keys = append(keys, parts)
	}

	existing := make(map[string]ExistingRow, len(keys))
	for start := 0; start < len(keys); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(keys))
		found, err := r.store.FindExisting(ctx, r.def, r.keyColumns, keys[start:end])
		if err != nil {
			return res, fmt.Errorf("find existing %s: %w", r.def.Info.Entity, err)
		}
		for k, row := range found {
			existing[k] = row
		}
	}

	for _, rec := range records {
		head := first[rec.Key]
		row, isExisting := existing[rec.Key]

		switch {
		case row.Matches > 1:
			res.Ambiguous++
			res.Errors = append(res.Errors, AmbiguousKey(rec.Line, DisplayKey(rec.Key), row.Matches, r.def.Info.Entity))
		case head != rec:
			rec.Action = ActionUpdate
			rec.DuplicateOf = head.Line
			rec.ExistingID = row.ID
			res.InFileDuplicates++
		case isExisting:
			rec.Action = ActionUpdate
			rec.ExistingID = row.ID
			rec.Number = row.Number
			res.Existing++
			if len(res.ExistingKeys) < maxReportedKeys {
				res.ExistingKeys = append(res.ExistingKeys, DisplayKey(rec.Key))
			}
		default:
			rec.Action = ActionCreate
			res.New++
		}
	}

	return res, nil
}

// ApplyDuplicatePolicy enforces the caller's duplicate flags. skipDuplicates
// drops every row matching a stored record and wins over updateDuplicates; a
// repeat of a new row still updates the row created for its first line. With neither flag, rows matching stored records
// reject the whole import before anything is written.
func ApplyDuplicatePolicy(records []*Record, opts ImportOptions) (kept []*Record, skipped int, err error) {
	if opts.SkipDuplicates {
		kept = records[:0:0]
		for _, rec := range records {
			if rec.Action == ActionUpdate && rec.ExistingID != 0 {
				rec.Action = ActionSkip
				skipped++
				continue
			}
			kept = append(kept, rec)
		}
		return kept, skipped, nil
	}

	if opts.UpdateDuplicates {
		return records, 0, nil
	}

	var count int
	var sample []string
	for _, rec := range records {
		if rec.Action == ActionUpdate && rec.DuplicateOf == 0 {
			count++
			if len(sample) < 5 {
				sample = append(sample, fmt.Sprintf("row %d: %s", rec.Line, DisplayKey(rec.Key)))
			}
		}
	}
	if count > 0 {
		return nil, 0, DuplicatesRejected(count, sample)
	}
	return records, 0, nil
}
