package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "emrvault/pkg/domain-errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		env := decode(t, w)
		assert.Equal(t, "internal_error", env.Error)
		assert.Empty(t, env.ErrorDescription)
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decode(t, w)
		assert.Equal(t, "bad_request", env.Error)
		assert.Equal(t, "invalid input", env.ErrorDescription)
	})

	t.Run("uncoded error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(dErrors.CodeNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(dErrors.CodeConflict))
	assert.Equal(t, http.StatusInsufficientStorage, StatusFor(dErrors.CodeOutOfMemory))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(dErrors.CodeRandomnessUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(dErrors.CodeDecode))
}

func TestWriteDataHashesPayload(t *testing.T) {
	w := httptest.NewRecorder()
	WriteData(w, http.StatusCreated, "created", map[string]string{"record_id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	env := decode(t, w)
	assert.Equal(t, "ok", env.Status)
	assert.JSONEq(t, `{"record_id":"abc"}`, string(env.Data))
	assert.Equal(t, ContentHash(env.Data), env.ContentHash)
	assert.Len(t, env.ContentHash, 64)
}

type pingRequest struct {
	Name string `json:"name"`
}

func (r *pingRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	run := func(body string) (*pingRequest, bool, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req, ok := DecodeAndPrepare[pingRequest](w, r, logger, context.Background(), "req-1")
		return req, ok, w
	}

	req, ok, _ := run(`{"name":"  ward  "}`)
	require.True(t, ok)
	assert.Equal(t, "ward", req.Name)

	_, ok, w := run(`{"name":`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, ok, w = run(`{"name":"x","extra":1}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, ok, w = run(`{"name":" "}`)
	assert.False(t, ok)
	assert.Equal(t, "validation_error", decode(t, w).Error)
}
