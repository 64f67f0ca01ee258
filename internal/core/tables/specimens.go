package tables

import "github.com/JonMunkholm/lims/internal/core"

// ActivityStatuses lists the allowed specimen activity status values.
var ActivityStatuses = []string{"active", "depleted", "shipped", "discarded"}

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Entity:       core.EntitySpecimen,
			Table:        "specimens",
			Label:        "Specimens",
			NumberColumn: "specimen_number",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "specimen_number", Type: core.FieldInteger,
				Aliases: []string{"Specimen Number", "specimen_number", "Specimen #", "Specimen No"}},
			// Specimen_ID outranks "specimen id": legacy exports carry both
			// and only Specimen_ID holds the tube label.
			{Name: "tube_id", Type: core.FieldText, Required: true, Normalizer: NormalizeTubeID,
				Aliases: []string{"Tube ID", "Specimen_ID", "tube_id", "TUBE ID", "Tube_ID", "TubeID", "specimen id", "Specimen ID"}},
			{Name: "project_number", Type: core.FieldInteger, Required: true,
				Aliases: []string{"Project Number", "project_number", "Project #", "Project No", "Project"}},
			{Name: "patient_external_id", Type: core.FieldText,
				Aliases: []string{"Patient ID", "patient_external_id", "External Patient ID", "Patient"}},
			{Name: "specimen_type", Type: core.FieldText,
				Aliases: []string{"Specimen Type", "specimen_type", "Sample Type", "Type"}},
			{Name: "date_collected", Type: core.FieldDate,
				Aliases: []string{"Date Collected", "date_collected", "Collection Date", "Collected"}},
			{Name: "location", Type: core.FieldText, Normalizer: NormalizeLocation,
				Aliases: []string{"Location", "location", "Storage Location", "Freezer Location"}},
			{Name: "activity_status", Type: core.FieldEnum, EnumValues: ActivityStatuses, Normalizer: NormalizeStatus,
				Aliases: []string{"Activity Status", "activity_status", "Status"}},
			{Name: "extracted", Type: core.FieldBool,
				Aliases: []string{"Extracted", "extracted"}},
			{Name: "used_up", Type: core.FieldBool,
				Aliases: []string{"Used Up", "used_up"}},
			{Name: "notes", Type: core.FieldText,
				Aliases: []string{"Notes", "notes", "Comments"}},
			{Name: "cell_count", Type: core.FieldInteger, Unsupported: true,
				Aliases: []string{"Cell Count", "cell_count"}},
		},
		References: []core.Reference{
			{Field: "project_number", Entity: core.EntityProject, KeyColumn: "project_number",
				Column: "project_id", Required: true},
			{Field: "patient_external_id", Entity: core.EntityPatient, KeyColumn: "external_id",
				Column: "patient_id"},
		},
		NaturalKey: []string{"tube_id"},
		ScopedKey:  []string{"project_id", "tube_id"},
	})
}
