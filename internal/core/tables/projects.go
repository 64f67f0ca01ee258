package tables

import "github.com/JonMunkholm/lims/internal/core"

// ProjectStatuses lists the allowed project status values.
var ProjectStatuses = []string{"active", "completed", "on_hold", "cancelled"}

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Entity:       core.EntityProject,
			Table:        "projects",
			Label:        "Projects",
			NumberColumn: "project_number",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "project_number", Type: core.FieldInteger,
				Aliases: []string{"Project Number", "project_number", "Project #", "Project No", "Project ID"}},
			{Name: "collaborator_number", Type: core.FieldInteger, Required: true,
				Aliases: []string{"Collaborator Number", "collaborator_number", "Collaborator #", "Collaborator ID", "PI Number"}},
			{Name: "title", Type: core.FieldText,
				Aliases: []string{"Title", "title", "Project Title", "Project Name"}},
			{Name: "disease", Type: core.FieldText, Required: true, Normalizer: NormalizeSpaces,
				Aliases: []string{"Disease", "disease", "Disease Type", "Indication"}},
			{Name: "specimen_type", Type: core.FieldText, Required: true, Normalizer: NormalizeSpaces,
				Aliases: []string{"Specimen Type", "specimen_type", "Source", "Sample Type"}},
			{Name: "status", Type: core.FieldEnum, EnumValues: ProjectStatuses, Normalizer: NormalizeStatus,
				Aliases: []string{"Status", "status", "Project Status"}},
			{Name: "date_received", Type: core.FieldDate,
				Aliases: []string{"Date Received", "date_received", "Received", "Received Date"}},
			{Name: "irb_approved", Type: core.FieldBool,
				Aliases: []string{"IRB Approved", "irb_approved", "IRB"}},
			{Name: "notes", Type: core.FieldText,
				Aliases: []string{"Notes", "notes", "Comments"}},
		},
		References: []core.Reference{
			{Field: "collaborator_number", Entity: core.EntityCollaborator, KeyColumn: "collaborator_number",
				Column: "collaborator_id", Required: true},
		},
		NaturalKey:  []string{"collaborator_id", "disease", "specimen_type"},
		PreserveKey: []string{"project_number"},
	})
}
