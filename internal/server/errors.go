package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
)

// busyRetryAfter is the Retry-After hint sent with a Busy failure.
const busyRetryAfter = 5 * time.Second

type errorJSON struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Category string `json:"category,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// statusOf maps an error to the HTTP status reported to the client.
func statusOf(err error) int {
	switch core.KindOf(err) {
	case core.KindUserError, core.KindResourceExhausted, core.KindInvalidColumn, core.KindInsufficientData:
		return http.StatusUnprocessableEntity
	case core.KindBusy, core.KindDuplicateFingerprint:
		return http.StatusConflict
	case core.KindTimeout:
		return http.StatusRequestTimeout
	case core.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with its failure classification. Internal errors
// are not echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorJSON{Error: err.Error()}

	var f *core.Failure
	if errors.As(err, &f) {
		body.Kind = string(f.Kind)
		body.Category = string(f.Kind.Category())
		body.Reason = f.Reason
		body.Detail = f.Detail
		body.Attempts = f.Attempts
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = http.StatusText(status)
	}
	if core.KindOf(err) == core.KindBusy {
		w.Header().Set("Retry-After", strconv.Itoa(int(busyRetryAfter.Seconds())))
	}
	writeJSON(w, status, body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}
