// Package reqcontext carries request-scoped identifiers through context:
// request IDs for per-call tracing and correlation IDs that span a whole
// client interaction.
package reqcontext

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader carries the client-supplied request ID; the API echoes it
// back on every response.
const RequestIDHeader = "X-Request-Id"

// MaxRequestIDLength bounds accepted client request IDs.
const MaxRequestIDLength = 256

// requestIDKey is the context key for request IDs.
const requestIDKey ContextKey = "request_id"

// Alphanumeric plus dash and underscore; anything else gets replaced.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether id is safe to echo and log.
func IsValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	return requestIDPattern.MatchString(id)
}

// GetOrGenerateRequestID keeps a valid client-supplied ID, otherwise mints
// a fresh one.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return uuid.NewString()
}

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from ctx, empty when absent.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
