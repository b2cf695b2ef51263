package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
)

// errorResponse is the JSON body of every failed admin request.
type errorResponse struct {
	HTTPStatus     string `json:"httpStatus"`
	HTTPStatusCode int    `json:"httpStatusCode"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

// statusFor maps an error to the HTTP status reported to the caller.
func statusFor(err error) int {
	var cfgErr *apperrors.ErrInvalidConfiguration
	var notFound *apperrors.ErrNotFound
	var badParam *paramError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &badParam):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		// Includes apperrors.ErrCacheUnavailable: a deployment defect, not a client error.
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("Admin request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("Admin request rejected")
	}
	writeJSON(w, status, errorResponse{
		HTTPStatus:     http.StatusText(status),
		HTTPStatusCode: status,
		Status:         "ERROR",
		Message:        err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// paramError is returned for a malformed query parameter.
type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid value for query parameter " + e.name + ": " + e.value
}
