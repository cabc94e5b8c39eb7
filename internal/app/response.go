package app

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"postagent-go/internal/apperr"
)

// envelope is the body of every /api response.
type envelope struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Data     interface{}     `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Kind     apperr.Kind     `json:"kind,omitempty"`
	Upstream json.RawMessage `json:"upstream,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// writeError answers with the status and kind err classifies as. The upstream
// body, when err carries one, is passed through as JSON if it is JSON and as
// a string otherwise.
func writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	logger := zerolog.Ctx(r.Context())
	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("kind", string(kind)).Int("status", status).Msg(message)

	writeJSON(w, status, envelope{
		Success:  false,
		Message:  message,
		Error:    err.Error(),
		Kind:     kind,
		Upstream: upstreamBody(apperr.Payload(err)),
	})
}

func upstreamBody(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return nil
	}
	return quoted
}
