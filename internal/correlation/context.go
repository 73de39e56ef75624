package correlation

import (
	"context"
	"errors"
)

type contextKey string

const (
	requestIDKey    contextKey = "requestID"
	connectionIDKey contextKey = "connectionID"
)

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds the onboarding request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the onboarding request ID from the context
func RequestIDFromContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithConnectionID adds the live client connection ID to the context
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionIDKey, connectionID)
}

// ConnectionIDFromContext returns the connection ID, or "" when none is set
func ConnectionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connectionIDKey).(string)
	return id
}
