package tables

import "github.com/JonMunkholm/lims/internal/core"

// Sexes lists the allowed patient sex values.
var Sexes = []string{"female", "male", "other", "unknown"}

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Entity:       core.EntityPatient,
			Table:        "patients",
			Label:        "Patients",
			NumberColumn: "patient_number",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "patient_number", Type: core.FieldInteger,
				Aliases: []string{"Patient Number", "patient_number", "Patient #", "Patient No"}},
			{Name: "external_id", Type: core.FieldText, Required: true,
				Aliases: []string{"External ID", "external_id", "Patient ID", "External Patient ID", "MRN"}},
			{Name: "first_name", Type: core.FieldText,
				Aliases: []string{"First Name", "first_name", "Given Name"}},
			{Name: "last_name", Type: core.FieldText,
				Aliases: []string{"Last Name", "last_name", "Surname", "Family Name"}},
			{Name: "date_of_birth", Type: core.FieldDate,
				Aliases: []string{"Date of Birth", "date_of_birth", "DOB", "Birth Date"}},
			{Name: "sex", Type: core.FieldEnum, EnumValues: Sexes, Normalizer: NormalizeSex,
				Aliases: []string{"Sex", "sex", "Gender"}},
			{Name: "diagnosis", Type: core.FieldText,
				Aliases: []string{"Diagnosis", "diagnosis", "Primary Diagnosis"}},
			{Name: "notes", Type: core.FieldText,
				Aliases: []string{"Notes", "notes", "Comments"}},
		},
		NaturalKey: []string{"external_id"},
	})
}
