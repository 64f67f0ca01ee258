package tables

import (
	"testing"

	"github.com/JonMunkholm/lims/internal/core"
)

// ----------------------------------------------------------------------------
// Registration
// ----------------------------------------------------------------------------

func TestAllEntitiesRegistered(t *testing.T) {
	defs := core.All()
	if len(defs) != len(core.EntityTypes()) {
		t.Fatalf("registered %d entities, want %d", len(defs), len(core.EntityTypes()))
	}
	for i, et := range core.EntityTypes() {
		if defs[i].Info.Entity != et {
			t.Errorf("All()[%d] = %s, want %s", i, defs[i].Info.Entity, et)
		}
	}
}

func TestReferencesPointAtEarlierEntities(t *testing.T) {
	order := make(map[core.EntityType]int)
	for i, et := range core.EntityTypes() {
		order[et] = i
	}

	for _, def := range core.All() {
		for _, ref := range def.References {
			target, ok := core.Get(ref.Entity)
			if !ok {
				t.Errorf("%s.%s references unregistered %s", def.Info.Entity, ref.Field, ref.Entity)
				continue
			}
			if order[ref.Entity] >= order[def.Info.Entity] {
				t.Errorf("%s references %s, which is imported later", def.Info.Entity, ref.Entity)
			}
			if ref.KeyColumn != target.Info.NumberColumn {
				if _, ok := target.Field(ref.KeyColumn); !ok {
					t.Errorf("%s.%s: key column %s not a field of %s", def.Info.Entity, ref.Field, ref.KeyColumn, ref.Entity)
				}
			}
		}
	}
}

func TestNaturalKeysAreStoredColumns(t *testing.T) {
	for _, def := range core.All() {
		cols := make(map[string]bool)
		for _, c := range core.InsertColumns(def) {
			cols[c] = true
		}
		for _, key := range [][]string{def.NaturalKey, def.PreserveKey, def.ScopedKey} {
			for _, c := range key {
				if !cols[c] {
					t.Errorf("%s: key column %s is not stored", def.Info.Entity, c)
				}
			}
		}
	}
}

func TestSpecimenIDOutranksSpecimenIDWithSpace(t *testing.T) {
	def := core.MustGet(core.EntitySpecimen)

	for _, headers := range [][]string{
		{"Specimen_ID", "specimen id"},
		{"specimen id", "Specimen_ID"},
	} {
		m := core.NewColumnMapper(def).Map(headers)
		if len(m.Feedback.Conflicts) != 1 {
			t.Fatalf("Map(%v) conflicts = %v, want 1", headers, m.Feedback.Conflicts)
		}
		c := m.Feedback.Conflicts[0]
		if c.Field != "tube_id" || c.Winner != "Specimen_ID" {
			t.Errorf("Map(%v) winner = %s for %s, want Specimen_ID for tube_id", headers, c.Winner, c.Field)
		}
		if len(c.Losers) != 1 || c.Losers[0] != "specimen id" {
			t.Errorf("Map(%v) losers = %v, want [specimen id]", headers, c.Losers)
		}
	}
}

func TestInventoryDerivesBarcode(t *testing.T) {
	def := core.MustGet(core.EntityInventory)
	values := map[string]string{"barcode": "typed by hand"}

	def.Derive(42, values)

	if values["barcode"] != "INV-000042" {
		t.Errorf("barcode = %q, want INV-000042", values["barcode"])
	}
	if got := InventoryBarcode(1234567); got != "INV-1234567" {
		t.Errorf("InventoryBarcode(1234567) = %q, want INV-1234567", got)
	}
}

// ----------------------------------------------------------------------------
// Normalizers
// ----------------------------------------------------------------------------

func TestNormalizers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"sex abbreviation", NormalizeSex, "F", "female"},
		{"sex word", NormalizeSex, " Man ", "male"},
		{"sex unknown spelling kept", NormalizeSex, "x", "x"},
		{"status spaces", NormalizeStatus, "On Hold", "on_hold"},
		{"status dashes", NormalizeStatus, "on-hold", "on_hold"},
		{"tube id", NormalizeTubeID, "ab 12 c", "AB12C"},
		{"email", NormalizeEmail, " Ada@Uni.EDU ", "ada@uni.edu"},
		{"spaces", NormalizeSpaces, "Acme   Institute ", "Acme Institute"},
		{"location", NormalizeLocation, "f1 / r1 / b2", "F1/R1/B2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("%s(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
			}
		})
	}
}

func TestSpecimenRowValidates(t *testing.T) {
	def := core.MustGet(core.EntitySpecimen)
	values := map[string]string{
		"tube_id":         "t 100",
		"project_number":  "3",
		"date_collected":  "1/15/2024",
		"activity_status": "Active",
		"location":        "f1/r2",
	}

	if errs := core.NewValidator(def, false).Validate(2, values); len(errs) != 0 {
		t.Fatalf("Validate() errors = %v", core.ErrorStrings(errs))
	}

	want := map[string]string{
		"tube_id":         "T100",
		"date_collected":  "2024-01-15",
		"activity_status": "active",
		"location":        "F1/R2",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("values[%s] = %q, want %q", k, values[k], v)
		}
	}
}
