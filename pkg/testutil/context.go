package testutil

import (
	"net/http"
	"time"

	"emrvault/pkg/requestcontext"
)

// WithRequestID adds a correlation id to the request context, as the
// metadata middleware would.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
