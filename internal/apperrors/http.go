package apperrors

import (
	"errors"
	"net/http"
)

// classes maps each sentinel to its HTTP status and metric label, most specific first.
var classes = []struct {
	sentinel error
	status   int
	kind     string
}{
	{ErrValidation, http.StatusBadRequest, "validation"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrSourceMissing, http.StatusGone, "source_missing"},
	{ErrEngineUnreachable, http.StatusBadGateway, "engine_unreachable"},
	{ErrStorageUnavailable, http.StatusServiceUnavailable, "storage"},
	{ErrSlicerRejectedGeometry, http.StatusUnprocessableEntity, "rejected_geometry"},
	{ErrSlicerProcessFailed, http.StatusInternalServerError, "process_failed"},
}

// HTTPStatus maps err to a response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}

// Kind labels err for logs and metrics: "" for nil, "internal" when unclassified.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c.kind
		}
	}
	return "internal"
}
