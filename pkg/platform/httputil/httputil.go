// Package httputil holds the JSON response envelope and request decoding
// shared by every handler.
package httputil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "emrvault/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// Envelope is the shape of every response body. ContentHash is the SHA-256
// of Data exactly as sent, so clients can check what they received.
type Envelope struct {
	Status           string          `json:"status"`
	Message          string          `json:"message,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	ContentHash      string          `json:"content_hash,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
}

// WriteJSON writes v as a bare JSON document.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData wraps data in a success envelope.
func WriteData(w http.ResponseWriter, status int, message string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode response"))
		return
	}
	WriteJSON(w, status, Envelope{
		Status:      "ok",
		Message:     message,
		Data:        raw,
		ContentHash: ContentHash(raw),
	})
}

// ContentHash is the hex SHA-256 of b.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// WriteError maps a domain error onto an HTTP status and error envelope.
// Internal errors never expose their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	env := Envelope{Status: "error", Error: string(code)}
	var de *dErrors.Error
	if status < http.StatusInternalServerError && errors.As(err, &de) {
		env.ErrorDescription = de.Message
	}
	WriteJSON(w, status, env)
}

func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeOutOfMemory:
		return http.StatusInsufficientStorage
	case dErrors.CodeRandomnessUnavailable, dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validatable requests check and normalize themselves after decoding.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the body into T and validates it. On failure it
// has already written the error response and returns false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := PT(new(T))
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		logger.WarnContext(ctx, "failed to decode request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid json payload"))
		return nil, false
	}
	if err := req.Validate(); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, err)
		return nil, false
	}
	return (*T)(req), true
}
