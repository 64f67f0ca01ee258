package core

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Test entities. core cannot import core/tables, so the tests register a
// small project/specimen/inventory model of their own.

var testProjectDef = TableDefinition{
	Info: TableInfo{Entity: EntityProject, Table: "projects", Label: "Projects", NumberColumn: "project_number"},
	FieldSpecs: []FieldSpec{
		{Name: "project_number", Aliases: []string{"Project Number", "project_number", "Project #"}, Type: FieldInteger},
		{Name: "title", Aliases: []string{"Title", "title"}, Required: true},
		{Name: "status", Aliases: []string{"Status", "status"}, Type: FieldEnum, EnumValues: []string{"Active", "Closed"}},
	},
	NaturalKey:  []string{"title"},
	PreserveKey: []string{"project_number"},
}

var testSpecimenDef = TableDefinition{
	Info: TableInfo{Entity: EntitySpecimen, Table: "specimens", Label: "Specimens", NumberColumn: "specimen_number"},
	FieldSpecs: []FieldSpec{
		{Name: "specimen_number", Aliases: []string{"Specimen Number", "specimen_number"}, Type: FieldInteger},
		{Name: "tube_id", Aliases: []string{"Specimen_ID", "Tube ID", "specimen id", "tube_id"}, Required: true},
		{Name: "project_number", Aliases: []string{"Project", "project_number"}, Type: FieldInteger, Required: true},
		{Name: "date_collected", Aliases: []string{"Date Collected", "date_collected"}, Type: FieldDate},
		{Name: "extracted", Aliases: []string{"Extracted", "extracted"}, Type: FieldBool},
		{Name: "location", Aliases: []string{"Location", "location"}},
		{Name: "cell_count", Aliases: []string{"Cell Count"}, Type: FieldInteger, Unsupported: true},
	},
	References: []Reference{
		{Field: "project_number", Entity: EntityProject, KeyColumn: "project_number", Column: "project_id", Required: true},
	},
	NaturalKey: []string{"tube_id"},
	ScopedKey:  []string{"project_id", "tube_id"},
}

var testInventoryDef = TableDefinition{
	Info: TableInfo{Entity: EntityInventory, Table: "inventory", Label: "Inventory", NumberColumn: "inventory_number"},
	FieldSpecs: []FieldSpec{
		{Name: "inventory_number", Aliases: []string{"Inventory Number", "inventory_number"}, Type: FieldInteger},
		{Name: "name", Aliases: []string{"Name", "name"}, Required: true},
		{Name: "quantity", Aliases: []string{"Quantity", "quantity"}, Type: FieldInteger},
		{Name: "barcode", Aliases: []string{"Barcode", "barcode"}, Derived: true},
	},
	NaturalKey: []string{"name"},
	Derive: func(number int64, values map[string]string) {
		values["barcode"] = fmt.Sprintf("INV-%06d", number)
	},
}

func registerTestDefinitions() {
	Clear()
	Register(testProjectDef)
	Register(testSpecimenDef)
	Register(testInventoryDef)
}

func TestMain(m *testing.M) {
	registerTestDefinitions()
	os.Exit(m.Run())
}

// ----------------------------------------------------------------------------
// memStore
// ----------------------------------------------------------------------------

type memRow struct {
	id     int64
	number int64
	values map[string]string
	refs   map[string]int64
}

// memStore is an in-memory Store. Batches buffer their writes and apply them
// on commit, so a rolled-back batch leaves no trace.
type memStore struct {
	mu       sync.Mutex
	rows     map[EntityType][]*memRow
	counters map[EntityType]int64
	legacy   map[string]int64
	audit    []AuditEntry
	nextID   int64

	// failure injection
	insertErr func(rec *Record) error
	allocErr  error
	beginErr  error
	commitErr error

	allocCalls int
	commits    int
	rollbacks  int
}

func newMemStore() *memStore {
	return &memStore{
		rows:     make(map[EntityType][]*memRow),
		counters: make(map[EntityType]int64),
		legacy:   make(map[string]int64),
	}
}

// seed stores a committed row directly.
func (s *memStore) seed(entity EntityType, number int64, values map[string]string, refs map[string]int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[entity] = append(s.rows[entity], &memRow{id: s.nextID, number: number, values: values, refs: refs})
	return s.nextID
}

func (s *memStore) count(entity EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[entity])
}

func (s *memStore) row(entity EntityType, number int64) *memRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[entity] {
		if r.number == number {
			return r
		}
	}
	return nil
}

func (s *memStore) numbers(entity EntityType) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, r := range s.rows[entity] {
		out = append(out, r.number)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// counter returns the last number handed out, seeding from stored rows.
func (s *memStore) counter(entity EntityType) int64 {
	if n, ok := s.counters[entity]; ok {
		return n
	}
	var highest int64
	for _, r := range s.rows[entity] {
		highest = max(highest, r.number)
	}
	return highest
}

func (s *memStore) Allocate(ctx context.Context, entity EntityType) (int64, error) {
	return s.AllocateN(ctx, entity, 1)
}

func (s *memStore) AllocateN(_ context.Context, entity EntityType, n int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocCalls++
	if s.allocErr != nil {
		return 0, s.allocErr
	}
	first := s.counter(entity) + 1
	s.counters[entity] = first + int64(n) - 1
	return first, nil
}

func (s *memStore) Peek(_ context.Context, entity EntityType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocErr != nil {
		return 0, s.allocErr
	}
	return s.counter(entity) + 1, nil
}

func (s *memStore) Reserve(_ context.Context, entity EntityType, atLeast int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocErr != nil {
		return s.allocErr
	}
	s.counters[entity] = max(s.counter(entity), atLeast)
	return nil
}

func (r *memRow) text(column string) string {
	if id, ok := r.refs[column]; ok {
		return strconv.FormatInt(id, 10)
	}
	return r.values[column]
}

func (s *memStore) FindExisting(_ context.Context, def TableDefinition, keyColumns []string, keys [][]string) (map[string]ExistingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[JoinKey(k)] = true
	}
	out := make(map[string]ExistingRow)
	for _, r := range s.rows[def.Info.Entity] {
		parts := make([]string, len(keyColumns))
		for i, c := range keyColumns {
			if c == def.Info.NumberColumn {
				parts[i] = strconv.FormatInt(r.number, 10)
				continue
			}
			parts[i] = r.text(c)
		}
		if k := JoinKey(parts); want[k] {
			if prev, seen := out[k]; seen {
				prev.Matches++
				out[k] = prev
				continue
			}
			out[k] = ExistingRow{ID: r.id, Number: r.number, Matches: 1}
		}
	}
	return out, nil
}

func (s *memStore) ExistingNumbers(_ context.Context, def TableDefinition, numbers []int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]bool)
	for _, n := range numbers {
		for _, r := range s.rows[def.Info.Entity] {
			if r.number == n {
				out[n] = true
			}
		}
	}
	return out, nil
}

func (s *memStore) LookupIDs(_ context.Context, def TableDefinition, column string, values []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64)
	for _, r := range s.rows[def.Info.Entity] {
		v := r.text(column)
		if column == def.Info.NumberColumn {
			v = strconv.FormatInt(r.number, 10)
		}
		for _, want := range values {
			if v == want {
				out[v] = r.id
			}
		}
	}
	return out, nil
}

func (s *memStore) Export(_ context.Context, def TableDefinition, fn func(row map[string]string) error) error {
	s.mu.Lock()
	rows := append([]*memRow(nil), s.rows[def.Info.Entity]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].number < rows[j].number })

	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		m := make(map[string]string)
		for _, f := range def.ExportFields() {
			switch ref, isRef := def.ReferenceFor(f.Name); {
			case f.Name == def.Info.NumberColumn:
				m[f.Name] = strconv.FormatInt(r.number, 10)
			case isRef:
				m[f.Name] = s.keyOf(ref, r.refs[ref.Column])
			default:
				m[f.Name] = r.values[f.Name]
			}
		}
		out = append(out, m)
	}
	s.mu.Unlock()

	for _, m := range out {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStore) keyOf(ref Reference, id int64) string {
	target := MustGet(ref.Entity)
	for _, r := range s.rows[ref.Entity] {
		if r.id != id {
			continue
		}
		if ref.KeyColumn == target.Info.NumberColumn {
			return strconv.FormatInt(r.number, 10)
		}
		return r.values[ref.KeyColumn]
	}
	return ""
}

func (s *memStore) BeginBatch(context.Context) (BatchTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memTx{store: s, marks: make(map[string]int)}, nil
}

func (s *memStore) RecordAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

// memOp is one buffered write.
type memOp struct {
	entity EntityType
	insert *memRow
	update int64
	values map[string]string
	refs   map[string]int64
	legacy string
}

type memTx struct {
	store *memStore
	ops   []memOp
	marks map[string]int
	done  bool
}

func (tx *memTx) Insert(_ context.Context, def TableDefinition, rec *Record) (int64, error) {
	if tx.store.insertErr != nil {
		if err := tx.store.insertErr(rec); err != nil {
			return 0, err
		}
	}
	tx.store.mu.Lock()
	tx.store.nextID++
	id := tx.store.nextID
	tx.store.mu.Unlock()

	values := make(map[string]string)
	for _, c := range def.DataColumns() {
		values[c] = rec.Values[c]
	}
	refs := make(map[string]int64)
	for k, v := range rec.Refs {
		refs[k] = v
	}
	tx.ops = append(tx.ops, memOp{
		entity: def.Info.Entity,
		insert: &memRow{id: id, number: rec.Number, values: values, refs: refs},
	})
	return id, nil
}

func (tx *memTx) Update(_ context.Context, def TableDefinition, id int64, rec *Record) error {
	values := make(map[string]string)
	for _, c := range UpdateColumns(def, rec) {
		if v, ok := rec.Values[c]; ok {
			values[c] = v
		}
	}
	tx.ops = append(tx.ops, memOp{entity: def.Info.Entity, update: id, values: values, refs: rec.Refs})
	return nil
}

func (tx *memTx) RecordLegacyID(_ context.Context, entity EntityType, legacyID string, number int64) error {
	tx.ops = append(tx.ops, memOp{entity: entity, legacy: legacyID, update: number})
	return nil
}

func (tx *memTx) Savepoint(_ context.Context, name string) error {
	tx.marks[name] = len(tx.ops)
	return nil
}

func (tx *memTx) RollbackTo(_ context.Context, name string) error {
	mark, ok := tx.marks[name]
	if !ok {
		return fmt.Errorf("no savepoint %s", name)
	}
	tx.ops = tx.ops[:mark]
	return nil
}

func (tx *memTx) Release(_ context.Context, name string) error {
	delete(tx.marks, name)
	return nil
}

func (tx *memTx) Commit(context.Context) error {
	s := tx.store
	if s.commitErr != nil {
		return s.commitErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		switch {
		case op.insert != nil:
			s.rows[op.entity] = append(s.rows[op.entity], op.insert)
		case op.legacy != "":
			s.legacy[string(op.entity)+":"+op.legacy] = op.update
		default:
			for _, r := range s.rows[op.entity] {
				if r.id != op.update {
					continue
				}
				for k, v := range op.values {
					r.values[k] = v
				}
				if r.refs == nil {
					r.refs = make(map[string]int64)
				}
				for k, v := range op.refs {
					r.refs[k] = v
				}
			}
		}
	}
	tx.done = true
	s.commits++
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.ops = nil
	tx.store.mu.Lock()
	tx.store.rollbacks++
	tx.store.mu.Unlock()
	return nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// csvFile joins lines into a CSV body.
func csvFile(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

// seedProject stores a project and returns its internal id.
func seedProject(s *memStore, number int64, title string) int64 {
	return s.seed(EntityProject, number, map[string]string{"title": title, "status": "Active"}, nil)
}
