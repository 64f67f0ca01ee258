package sqlbuild

import "github.com/JonMunkholm/lims/internal/core"

// Converter turns a canonical, non-empty cell value into a driver argument.
type Converter func(t core.FieldType, value string) any

// InsertArgs returns the columns and arguments inserting rec. Empty cells
// insert NULL, except booleans, which insert false.
func InsertArgs(def core.TableDefinition, rec *core.Record, conv Converter) ([]string, []any) {
	cols := core.InsertColumns(def)
	args := make([]any, len(cols))
	for i, col := range cols {
		switch {
		case col == def.Info.NumberColumn:
			args[i] = rec.Number
		case isReferenceColumn(def, col):
			if id, ok := rec.Refs[col]; ok {
				args[i] = id
			}
		default:
			f, _ := def.Field(col)
			v := rec.Values[col]
			if v == "" && f.Type == core.FieldBool {
				v = "false"
			}
			args[i] = convert(conv, f.Type, v)
		}
	}
	return cols, args
}

// UpdateArgs returns the columns and arguments updating row id with rec, the
// id last. Returns no columns when rec carries nothing to write.
func UpdateArgs(def core.TableDefinition, id int64, rec *core.Record, conv Converter) ([]string, []any) {
	cols := core.UpdateColumns(def, rec)
	if len(cols) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		if ref, ok := rec.Refs[col]; ok && isReferenceColumn(def, col) {
			args = append(args, ref)
			continue
		}
		f, _ := def.Field(col)
		args = append(args, convert(conv, f.Type, rec.Values[col]))
	}
	return cols, append(args, id)
}

func convert(conv Converter, t core.FieldType, v string) any {
	if v == "" {
		return nil
	}
	return conv(t, v)
}

func isReferenceColumn(def core.TableDefinition, col string) bool {
	_, ok := def.ReferenceByColumn(col)
	return ok
}
