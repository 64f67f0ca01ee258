package sqlite

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end imports through core.Service against a real SQLite database.

func newTestService(t *testing.T, s *Store) *core.Service {
	t.Helper()
	cfg := config.ImportConfig{
		MaxFileSize:      1 << 20,
		MaxConcurrent:    2,
		MaxWaitTime:      time.Second,
		BatchSize:        500,
		Timeout:          time.Minute,
		PreviewRows:      50,
		AbortMinAttempts: 10,
		AbortFailureRate: 0.2,
		HighFailureRate:  0.5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return core.NewService(s, cfg,
		core.WithLogger(logger),
		core.WithAuditSink(core.MultiAuditSink{s, core.NewLogAuditSink(logger)}),
	)
}

func runImport(t *testing.T, svc *core.Service, entity core.EntityType, csv string, opts core.ImportOptions) (*core.ImportResult, error) {
	t.Helper()
	return svc.Execute(context.Background(), core.ImportRequest{
		Entity:   entity,
		FileName: string(entity) + ".csv",
		Body:     strings.NewReader(csv),
		Options:  opts,
	})
}

// seedProject creates collaborator 1 and project 1.
func seedProject(t *testing.T, svc *core.Service) {
	t.Helper()
	_, err := runImport(t, svc, core.EntityCollaborator, "Name,Institute\nDr. Ada,Uni\n", core.ImportOptions{})
	require.NoError(t, err)
	res, err := runImport(t, svc, core.EntityProject,
		"Collaborator Number,Disease,Specimen Type\n1,Lung Cancer,Blood\n", core.ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
}

func exportCSV(t *testing.T, svc *core.Service, entity core.EntityType) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := svc.Export(context.Background(), entity, &buf)
	require.NoError(t, err)
	return buf.String()
}

func TestImport_ThreeRowSpecimenScenario(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)

	k, err := s.Peek(context.Background(), core.EntitySpecimen)
	require.NoError(t, err)

	csv := "Tube ID,Date Collected,Location\n" +
		"A,2024-01-15,F1/R1/B1\n" +
		"B,2024-01-16,F1/R1/B2\n" +
		"C,,\n"
	res, err := runImport(t, svc, core.EntitySpecimen, csv, core.ImportOptions{
		Defaults: map[string]string{"project_number": "1"},
	})
	require.NoError(t, err)

	// Location is optional, so the third row is created with empty fields.
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, core.StatusCompleted, res.Status)
	require.Len(t, res.Assigned, 3)
	for i, a := range res.Assigned {
		assert.Equal(t, k+int64(i), a.Number)
	}

	var date string
	var location *string
	require.NoError(t, s.db.QueryRow(`SELECT date_collected FROM specimens WHERE tube_id = 'A'`).Scan(&date))
	assert.Equal(t, "2024-01-15", date)
	require.NoError(t, s.db.QueryRow(`SELECT location FROM specimens WHERE tube_id = 'C'`).Scan(&location))
	assert.Nil(t, location)
}

func TestImport_CanonicalizesDates(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)

	_, err := runImport(t, svc, core.EntitySpecimen, "Tube ID,Date Collected\nA,01/15/2024\n", core.ImportOptions{
		Defaults: map[string]string{"project_number": "1"},
	})
	require.NoError(t, err)

	var date string
	require.NoError(t, s.db.QueryRow(`SELECT date_collected FROM specimens WHERE tube_id = 'A'`).Scan(&date))
	assert.Equal(t, "2024-01-15", date)
}

func TestImport_PreserveKeepsFileNumber(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)

	row := "Project Number,Collaborator Number,Disease,Specimen Type\n57,1,Melanoma,Tissue\n"
	res, err := runImport(t, svc, core.EntityProject, row, core.ImportOptions{Preserve: true})
	require.NoError(t, err)
	require.Len(t, res.Assigned, 1)
	assert.Equal(t, int64(57), res.Assigned[0].Number)
	assert.True(t, res.Assigned[0].Preserved)

	var number int64
	require.NoError(t, s.db.QueryRow(`SELECT project_number FROM projects WHERE disease = 'Melanoma'`).Scan(&number))
	assert.Equal(t, int64(57), number)

	var legacy string
	require.NoError(t, s.db.QueryRow(`SELECT legacy_id FROM legacy_id_map WHERE entity_type = 'project' AND number = 57`).Scan(&legacy))
	assert.Equal(t, "57", legacy)

	// The counter moved past the preserved number.
	next, err := s.Peek(context.Background(), core.EntityProject)
	require.NoError(t, err)
	assert.Equal(t, int64(58), next)
}

func TestImport_GenerateIgnoresFileNumber(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)

	var before int64
	require.NoError(t, s.db.QueryRow(`SELECT MAX(project_number) FROM projects`).Scan(&before))

	row := "Project Number,Collaborator Number,Disease,Specimen Type\n57,1,Melanoma,Tissue\n"
	res, err := runImport(t, svc, core.EntityProject, row, core.ImportOptions{})
	require.NoError(t, err)
	require.Len(t, res.Assigned, 1)
	assert.Greater(t, res.Assigned[0].Number, before)
	assert.NotEqual(t, int64(57), res.Assigned[0].Number)
	assert.False(t, res.Assigned[0].Preserved)
}

func TestImport_PreservedNumberAlreadyStored(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	_, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\n", core.ImportOptions{})
	require.NoError(t, err)

	// P-2 is a new patient, but number 1 already belongs to P-1.
	res, err := runImport(t, svc, core.EntityPatient, "Patient Number,Patient ID\n1,P-2\n", core.ImportOptions{Preserve: true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNothingProcessed))
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.KindDuplicateIdentifier, res.Errors[0].Kind)
	assert.Equal(t, 2, res.Errors[0].Line)
}

func TestImport_ReimportOfExportIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)
	ctx := context.Background()

	csv := "Tube ID,Date Collected,Location,Extracted\n" +
		"T-1,2024-01-15,F1/R1/B1,yes\n" +
		"T-2,2024-01-16,F1/R1/B2,\n" +
		"T-3,,,no\n"
	first, err := runImport(t, svc, core.EntitySpecimen, csv, core.ImportOptions{
		UpdateDuplicates: true,
		Defaults:         map[string]string{"project_number": "1"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, first.Created)

	exported := exportCSV(t, svc, core.EntitySpecimen)
	nextBefore, err := s.Peek(ctx, core.EntitySpecimen)
	require.NoError(t, err)

	again, err := runImport(t, svc, core.EntitySpecimen, exported, core.ImportOptions{UpdateDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 3, again.Updated)
	assert.Equal(t, 0, again.Failed)

	nextAfter, err := s.Peek(ctx, core.EntitySpecimen)
	require.NoError(t, err)
	assert.Equal(t, nextBefore, nextAfter, "no numbers allocated")
	assert.Equal(t, exported, exportCSV(t, svc, core.EntitySpecimen))
}

func TestImport_HighConstraintFailureRateFails(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	var b strings.Builder
	b.WriteString("Name,Quantity\n")
	for i := 1; i <= 10; i++ {
		qty := "5"
		if i <= 6 {
			qty = "-1" // violates the quantity check constraint
		}
		b.WriteString("Item " + string(rune('A'+i-1)) + "," + qty + "\n")
	}

	res, err := runImport(t, svc, core.EntityInventory, b.String(), core.ImportOptions{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindHighFailureRate))
	assert.Contains(t, err.Error(), "60%")

	require.NotNil(t, res)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 6, res.Failed)
	assert.Equal(t, core.StatusFailed, res.Status)
	for _, e := range res.Errors {
		assert.Equal(t, core.KindConstraint, e.Kind)
		assert.Equal(t, core.CodeCheckViolation, e.Code)
	}
}

func TestImport_ExistingRowsRejectedWithoutFlag(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	_, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\n", core.ImportOptions{})
	require.NoError(t, err)

	res, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\nP-2\n", core.ImportOptions{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindDuplicatesRejected))
	assert.Equal(t, core.StatusRejected, res.Status)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM patients`).Scan(&count))
	assert.Equal(t, 1, count, "a rejected import writes nothing")

	res, err = runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\nP-2\n", core.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.DuplicatesSkipped)
}

func TestImport_AllDuplicatesSkippedIsNotAFailure(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	_, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\n", core.ImportOptions{})
	require.NoError(t, err)

	res, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\n", core.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.DuplicatesSkipped)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	ctx := context.Background()

	before, err := s.Peek(ctx, core.EntityPatient)
	require.NoError(t, err)

	res, err := svc.Preview(ctx, core.ImportRequest{
		Entity:   core.EntityPatient,
		FileName: "patients.csv",
		Body:     strings.NewReader("Patient ID,Sex\nP-1,F\nP-2,unknown-value\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Summary.TotalRows)
	assert.Equal(t, 1, res.Summary.ErrorRows)
	assert.Equal(t, before, res.NextNumber)

	after, err := s.Peek(ctx, core.EntityPatient)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM patients`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestImport_WritesAuditTrail(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	_, err := runImport(t, svc, core.EntityPatient, "Patient ID\nP-1\n", core.ImportOptions{})
	require.NoError(t, err)

	entries, err := svc.AuditLog(context.Background(), core.AuditFilter{Entity: core.EntityPatient})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.ActionImport, entries[0].Action)
	assert.Equal(t, 1, entries[0].RowsAffected)
}

func TestImport_TubeInSeveralProjectsNeedsScope(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)
	seedProject(t, svc)
	_, err := runImport(t, svc, core.EntityProject,
		"Collaborator Number,Disease,Specimen Type\n1,Melanoma,Tissue\n", core.ImportOptions{})
	require.NoError(t, err)

	for _, project := range []string{"1", "2"} {
		res, err := runImport(t, svc, core.EntitySpecimen, "Tube ID,Notes\nA,orig"+project+"\n", core.ImportOptions{
			ScopeToProject: true,
			Defaults:       map[string]string{"project_number": project},
		})
		require.NoError(t, err)
		require.Equal(t, 1, res.Created)
	}

	update := "Tube ID,Project Number,Notes\nA,1,changed\n"
	res, err := runImport(t, svc, core.EntitySpecimen, update, core.ImportOptions{UpdateDuplicates: true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNothingProcessed))
	assert.Equal(t, 0, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, core.CodeAmbiguousKey, res.Errors[0].Code)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Message, "2 stored specimen rows")

	notes := func(project int) string {
		var n string
		require.NoError(t, s.db.QueryRow(`SELECT s.notes FROM specimens s JOIN projects p ON p.id = s.project_id
			WHERE s.tube_id = 'A' AND p.project_number = ?`, project).Scan(&n))
		return n
	}
	assert.Equal(t, "orig1", notes(1))
	assert.Equal(t, "orig2", notes(2))

	// Scoped to the project, the key names one specimen.
	res, err = runImport(t, svc, core.EntitySpecimen, update, core.ImportOptions{UpdateDuplicates: true, ScopeToProject: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "changed", notes(1))
	assert.Equal(t, "orig2", notes(2))
}

func TestImport_PreservedNumberLaterInFileIsNotGenerated(t *testing.T) {
	s := openTestStore(t)
	svc := newTestService(t, s)

	csv := "Patient Number,Patient ID\n,P-A\n,P-B\n2,P-C\n"
	res, err := runImport(t, svc, core.EntityPatient, csv, core.ImportOptions{Preserve: true, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Failed)

	numbers := make(map[string]int64)
	rows, err := s.db.Query(`SELECT external_id, patient_number FROM patients`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int64
		require.NoError(t, rows.Scan(&id, &n))
		numbers[id] = n
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]int64{"P-C": 2, "P-A": 3, "P-B": 4}, numbers)
}
