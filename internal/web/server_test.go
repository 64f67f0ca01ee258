package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/lims/internal/config"
	"github.com/JonMunkholm/lims/internal/core"
	_ "github.com/JonMunkholm/lims/internal/core/tables"
	"github.com/JonMunkholm/lims/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:      1 << 20,
			MaxConcurrent:    2,
			MaxWaitTime:      time.Second,
			BatchSize:        100,
			Timeout:          time.Minute,
			PreviewRows:      50,
			AbortMinAttempts: 10,
			AbortFailureRate: 0.9,
			HighFailureRate:  0.5,
		},
		Security: config.SecurityConfig{EnableCSP: true},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "lims"},
	}
}

type testServer struct {
	*Server
	store *sqlite.Store
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "lims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := core.NewService(st, cfg.Import,
		core.WithLogger(logger),
		core.WithMetrics(core.NewMetrics(cfg.Metrics.Namespace)),
		core.WithAuditSink(st),
	)
	s := NewServer(svc, cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &testServer{Server: s, store: st}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// upload posts body as the multipart "file" part along with form fields.
func (ts *testServer) upload(t *testing.T, path, fileName, body string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = io.WriteString(fw, body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.do(req)
}

// seed imports collaborator 1 and project 1.
func (ts *testServer) seed(t *testing.T) {
	t.Helper()
	rec := ts.upload(t, "/api/import/collaborator", "c.csv", "Name,Institute\nDr. Ada,Uni\n", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.upload(t, "/api/import/project", "p.csv",
		"Collaborator Number,Disease,Specimen Type\n1,Lung Cancer,Blood\n", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const specimenCSV = "Tube ID,Date Collected\nA,2024-01-15\nB,01/16/2024\n"

// ----------------------------------------------------------------------------
// Imports
// ----------------------------------------------------------------------------

func TestImport_Completed(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)

	rec := ts.upload(t, "/api/import/specimens", "s.csv", specimenCSV, map[string]string{"project": "1"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, core.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.Processed)
	require.Len(t, res.Assigned, 2)
	assert.Equal(t, int64(1), res.Assigned[0].Number)
}

func TestImport_DuplicatesRejectedThenSkipped(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)
	fields := map[string]string{"project": "1"}
	require.Equal(t, http.StatusOK, ts.upload(t, "/api/import/specimen", "s.csv", specimenCSV, fields).Code)

	rec := ts.upload(t, "/api/import/specimen", "s.csv", specimenCSV, fields)

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ImportErrorResponse](t, rec)
	assert.Equal(t, core.KindDuplicatesRejected, resp.Kind)
	assert.Equal(t, "IMP001", resp.Code)
	require.NotNil(t, resp.Result)
	assert.Equal(t, core.StatusRejected, resp.Result.Status)
	assert.Zero(t, resp.Result.Created)

	rec = ts.upload(t, "/api/import/specimen", "s.csv", specimenCSV,
		map[string]string{"project": "1", "skipDuplicates": "yes"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, 2, res.DuplicatesSkipped)
	assert.Zero(t, res.Created)
}

func TestImport_NothingProcessed(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)

	rec := ts.upload(t, "/api/import/specimen", "s.csv", "Tube ID,Date Collected\nA,not a date\n",
		map[string]string{"project": "1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ImportErrorResponse](t, rec)
	assert.Equal(t, core.KindNothingProcessed, resp.Kind)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.Failed)
	require.Len(t, resp.Result.Errors, 1)
	assert.Equal(t, 2, resp.Result.Errors[0].Line)
	assert.Equal(t, core.CodeInvalidDate, resp.Result.Errors[0].Code)
}

func TestImport_BadRequests(t *testing.T) {
	ts := newTestServer(t, testConfig())

	tests := []struct {
		name   string
		path   string
		body   string
		fields map[string]string
		want   int
	}{
		{"unknown entity", "/api/import/freezers", "Name\nx\n", nil, http.StatusNotFound},
		{"bad flag", "/api/import/inventory", "Name\nx\n", map[string]string{"preserve": "maybe"}, http.StatusBadRequest},
		{"bad batch size", "/api/import/inventory", "Name\nx\n", map[string]string{"batchSize": "-1"}, http.StatusBadRequest},
		{"project on unscoped entity", "/api/import/inventory", "Name\nx\n", map[string]string{"project": "1"}, http.StatusBadRequest},
		{"unknown default", "/api/import/inventory", "Name\nx\n", map[string]string{"default.colour": "red"}, http.StatusBadRequest},
		{"no header", "/api/import/inventory", "\n\n", nil, http.StatusBadRequest},
		{"unsupported type", "/api/import/inventory", "x", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "items.csv"
			if tt.name == "unsupported type" {
				name = "items.xls"
			}
			rec := ts.upload(t, tt.path, name, tt.body, tt.fields)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Code)
		})
	}
}

func TestImport_MissingFile(t *testing.T) {
	ts := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/import/inventory", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	rec := ts.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 64
	ts := newTestServer(t, cfg)

	rec := ts.upload(t, "/api/import/inventory", "items.csv", "Name\n"+strings.Repeat("item\n", 100), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)
}

func TestPreview_WritesNothing(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)

	rec := ts.upload(t, "/api/import/specimen/preview", "s.csv", specimenCSV+"C,bad\n",
		map[string]string{"project": "1"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.PreviewResult](t, rec)
	assert.Equal(t, 3, res.Summary.TotalRows)
	assert.Equal(t, 2, res.Summary.ValidRows)
	assert.Equal(t, 1, res.Summary.ErrorRows)
	assert.Equal(t, int64(1), res.NextNumber)
	assert.False(t, res.WouldReject)

	peek := decode[numberResponse](t, ts.get("/api/ids/specimen/peek"))
	assert.Equal(t, int64(1), peek.Number, "preview must not consume numbers")
}

// ----------------------------------------------------------------------------
// Identifiers, templates and export
// ----------------------------------------------------------------------------

func TestIdentifiers_PeekAndAllocate(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get("/api/ids/project/peek")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[numberResponse](t, rec).Number)

	rec = ts.do(httptest.NewRequest(http.MethodPost, "/api/ids/project/allocate", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, numberResponse{Entity: "project", Number: 1}, decode[numberResponse](t, rec))

	assert.Equal(t, int64(2), decode[numberResponse](t, ts.get("/api/ids/projects/peek")).Number)

	entries, err := ts.store.ListAudit(context.Background(), core.AuditFilter{Action: core.ActionNumberAllocation})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "192.0.2.1", entries[0].IPAddress)
}

func TestTemplate(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get("/api/template/collaborator")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "collaborator_template.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Collaborator Number,Name,Institute"), rec.Body.String())
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "\n"))
}

func TestExport_ReimportsAsDuplicates(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)
	require.Equal(t, http.StatusOK,
		ts.upload(t, "/api/import/specimen", "s.csv", specimenCSV, map[string]string{"project": "1"}).Code)

	rec := ts.get("/api/export/specimen")
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()
	assert.Equal(t, 3, strings.Count(exported, "\n"), exported)

	rec = ts.upload(t, "/api/import/specimen", "export.csv", exported,
		map[string]string{"preserve": "yes", "skipDuplicates": "yes"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[core.ImportResult](t, rec)
	assert.Equal(t, 2, res.DuplicatesSkipped)
	assert.Zero(t, res.Created)
	assert.Equal(t, int64(3), decode[numberResponse](t, ts.get("/api/ids/specimen/peek")).Number)
}

func TestUnknownEntity_NotFound(t *testing.T) {
	ts := newTestServer(t, testConfig())

	for _, path := range []string{"/api/template/freezer", "/api/export/freezer", "/api/ids/freezer/peek"} {
		rec := ts.get(path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "VAL004", decode[ErrorResponse](t, rec).Code, path)
	}
}

// ----------------------------------------------------------------------------
// Introspection
// ----------------------------------------------------------------------------

func TestEntities(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get("/api/entities")

	require.Equal(t, http.StatusOK, rec.Code)
	entities := decode[[]core.EntityInfo](t, rec)
	require.Len(t, entities, len(core.EntityTypes()))
	for i, et := range core.EntityTypes() {
		assert.Equal(t, et, entities[i].Entity)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.get("/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestHistoryAndAudit(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)

	rec := ts.get("/api/imports?entity=project")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]core.ImportSummary](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, core.EntityProject, history[0].Entity)
	assert.Equal(t, 1, history[0].Created)

	rec = ts.get("/api/audit?action=import")
	require.Equal(t, http.StatusOK, rec.Code)
	var audit struct {
		Entries []core.AuditEntry `json:"entries"`
		Page    int               `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	assert.Len(t, audit.Entries, 2)
	assert.Equal(t, 1, audit.Page)

	assert.Equal(t, http.StatusBadRequest, ts.get("/api/audit?entity=freezer").Code)

	rec = ts.get("/api/imports/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[core.LimiterStatus](t, rec).MaxConcurrent)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.seed(t)

	rec := ts.get("/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `lims_import_runs_total{entity="project",status="completed"} 1`)
	assert.Contains(t, body, `lims_http_requests_total{method="POST",route="/api/import/{entity}",status="200"} 2`)
}

// ----------------------------------------------------------------------------
// Access control
// ----------------------------------------------------------------------------

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"secret"}
	ts := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "guess", http.StatusForbidden},
		{"header", "X-API-Key", "secret", http.StatusOK},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, ts.do(req).Code)
		})
	}

	assert.Equal(t, http.StatusOK, ts.get("/healthz").Code, "health checks stay open")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ImportLimit: 1}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, ts.get("/api/entities").Code)
	assert.Equal(t, http.StatusOK, ts.get("/api/entities").Code)

	rec := ts.get("/api/entities")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decode[ErrorResponse](t, rec).Code)
}

// ----------------------------------------------------------------------------
// Status mapping
// ----------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nothing processed", &core.Error{Kind: core.KindNothingProcessed}, http.StatusBadRequest},
		{"high failure rate", &core.Error{Kind: core.KindHighFailureRate}, http.StatusBadRequest},
		{"duplicates rejected", core.DuplicatesRejected(2, nil), http.StatusConflict},
		{"allocation", core.AllocationFailed(core.EntitySpecimen, errors.New("boom")), http.StatusServiceUnavailable},
		{"connection", core.ConnectionFailure(core.CodeConnectionReset, errors.New("reset")), http.StatusServiceUnavailable},
		{"busy", core.ErrTooManyImports, http.StatusServiceUnavailable},
		{"too large", core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"no header", core.ErrNoHeader, http.StatusBadRequest},
		{"audit unavailable", core.ErrAuditUnavailable, http.StatusNotImplemented},
		{"untagged", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
