package tables

import "github.com/JonMunkholm/lims/internal/core"

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Entity:       core.EntityCollaborator,
			Table:        "collaborators",
			Label:        "Collaborators",
			NumberColumn: "collaborator_number",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "collaborator_number", Type: core.FieldInteger,
				Aliases: []string{"Collaborator Number", "collaborator_number", "Collaborator #", "Collaborator No", "Collaborator ID"}},
			{Name: "name", Type: core.FieldText, Required: true, Normalizer: NormalizeSpaces,
				Aliases: []string{"Name", "name", "PI Name", "PI", "Collaborator Name", "Investigator"}},
			{Name: "institute", Type: core.FieldText, Required: true, Normalizer: NormalizeSpaces,
				Aliases: []string{"Institute", "institute", "Institution", "Organization", "Organisation"}},
			{Name: "department", Type: core.FieldText,
				Aliases: []string{"Department", "department", "Dept"}},
			{Name: "email", Type: core.FieldText, Normalizer: NormalizeEmail,
				Aliases: []string{"Email", "email", "E-mail", "Email Address"}},
			{Name: "phone", Type: core.FieldText,
				Aliases: []string{"Phone", "phone", "Phone Number", "Telephone"}},
			{Name: "notes", Type: core.FieldText,
				Aliases: []string{"Notes", "notes", "Comments"}},
		},
		NaturalKey: []string{"name", "institute"},
	})
}
