package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical details and the request ID, then
// returned to the client as a mapped user message (core.MapError) with a
// support code. Import failures additionally carry the import summary, since
// rows may have been committed before the import was reported as failed.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code, Kind) and human-readable (Message,
// Action) fields.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Action  string    `json:"action,omitempty"`
	Code    string    `json:"code"`
	Kind    core.Kind `json:"kind,omitempty"`
}

// ImportErrorResponse is returned when an import ran but is reported as
// failed: rejected duplicates, too many failed rows, or a critical failure.
type ImportErrorResponse struct {
	ErrorResponse
	Result *core.ImportResult `json:"result,omitempty"`
}

var errRateLimited = errors.New("rate limit exceeded")

var rateLimitedMessage = core.MapError(errRateLimited)

// statusFor maps an error to its HTTP status.
//
//	nothing processed, high failure rate, bad file  400
//	duplicates rejected                             409
//	file too large                                  413
//	allocation or connection failure, busy          503
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoHeader), errors.Is(err, core.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrAuditUnavailable):
		return http.StatusNotImplemented
	}

	ie, ok := core.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if ie.Critical() {
		return http.StatusServiceUnavailable
	}
	switch ie.Kind {
	case core.KindNothingProcessed, core.KindHighFailureRate, core.KindValidation, core.KindMapping:
		return http.StatusBadRequest
	case core.KindDuplicatesRejected, core.KindDuplicateIdentifier, core.KindConstraint:
		return http.StatusConflict
	case core.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped user message. A zero status is
// derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := s.logError(r, err, status)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	respondErrorJSON(w, msg, status, kindOf(err))
}

// respondImportError writes an import failure together with its summary.
func (s *Server) respondImportError(w http.ResponseWriter, r *http.Request, err error, result *core.ImportResult) {
	status := statusFor(err)
	msg := s.logError(r, err, status)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	resp := ImportErrorResponse{
		ErrorResponse: ErrorResponse{
			Error:   clientDetail(err, msg),
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
			Kind:    kindOf(err),
		},
		Result: result,
	}
	writeJSON(w, r, status, resp)
}

func (s *Server) logError(r *http.Request, err error, status int) core.UserMessage {
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}
	return userMsg
}

// clientDetail returns the error text safe to show a client. Import outcome
// errors are composed by the engine; anything else may carry driver details.
func clientDetail(err error, msg core.UserMessage) string {
	switch kindOf(err) {
	case core.KindNothingProcessed, core.KindHighFailureRate, core.KindDuplicatesRejected:
		return err.Error()
	}
	return msg.Message
}

func kindOf(err error) core.Kind {
	if ie, ok := core.AsError(err); ok {
		return ie.Kind
	}
	return ""
}

// respondErrorJSON writes a JSON error response. The technical error never
// reaches the client; Error repeats the user message.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int, kind ...core.Kind) {
	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	if len(kind) > 0 {
		resp.Kind = kind[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
