package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Error codes of the admin API. Clients switch on the code, never on the
// message.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeSyncRunning  = "SYNC_RUNNING"
	CodeSyncFailed   = "SYNC_FAILED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

const maxRequestBody = 64 << 10

var ErrInvalidQuery = errors.New("invalid query parameter")

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type SuccessResponse struct {
	Data any `json:"data,omitempty"`
}

// JobResponse is the body of a sync job started from the admin API. A
// failed job still carries the report of what it got done.
type JobResponse struct {
	Report any    `json:"report,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// StatusError maps a service error onto an admin API response. Code
// defaults to the code of Status and Message to the error text.
type StatusError struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondJSON writes a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// RespondError writes an error response coded after its status.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondErrorWithCode(w, status, codeForStatus(status), message)
}

func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func RespondValidationError(w http.ResponseWriter, details any) {
	RespondJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "Validation error",
		Code:    CodeValidation,
		Details: details,
	})
}

// RespondServiceError answers with the first mapping whose Err matches err.
// Anything unmapped is logged and reported as fallback with a 500.
func RespondServiceError(w http.ResponseWriter, err error, fallback string, mappings ...StatusError) {
	for _, m := range mappings {
		if !errors.Is(err, m.Err) {
			continue
		}
		code, message := m.Code, m.Message
		if code == "" {
			code = codeForStatus(m.Status)
		}
		if message == "" {
			message = err.Error()
		}
		RespondErrorWithCode(w, m.Status, code, message)
		return
	}

	log.Error().Err(err).Msg(fallback)
	RespondErrorWithCode(w, http.StatusInternalServerError, CodeInternal, fallback)
}

// RespondJob writes the outcome of a sync job: 200 when it succeeded and
// 502 when an upstream step failed.
func RespondJob(w http.ResponseWriter, report any, err error) {
	resp := JobResponse{Report: report}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		resp.Code = CodeSyncFailed
		status = http.StatusBadGateway
	}
	RespondJSON(w, status, SuccessResponse{Data: resp})
}

func RespondSuccess(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

func RespondCreated(w http.ResponseWriter, data any) {
	RespondJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// DecodeJSON decodes a request body of at most 64 KiB into v. Unknown
// fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// QueryInt reads an integer query parameter. A missing parameter yields
// defaultValue; a malformed or out of range one is ErrInvalidQuery.
func QueryInt(r *http.Request, key string, defaultValue, lo, hi int) (int, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidQuery, key, lo, hi)
	}
	return n, nil
}
