package v1alpha1

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/KirkDiggler/rpg-encounters/internal/errors"
)

// maxBodyBytes caps request bodies; the largest valid body is an npc with notes
const maxBodyBytes = 64 << 10

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// writeError maps err onto its HTTP status. Internal details stay in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := code.HTTPStatus()

	detail := errorDetail{
		Code:    code.String(),
		Message: errors.GetMessage(err),
		Meta:    errors.GetMeta(err),
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err)
		if code != errors.CodeUnavailable {
			detail.Message = "internal error"
			detail.Meta = nil
		}
	}

	writeJSON(w, status, errorBody{Error: detail})
}

// decodeJSON reads a JSON body into target. An empty body leaves target untouched
// when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, allowEmpty bool) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(target)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return errors.InvalidArgument("request body is required")
	default:
		return errors.InvalidArgumentf("malformed request body: %v", err)
	}
}
