package events

import "context"

type contextKey int

const (
	loggerKey contextKey = iota
	reqIDKey
	graphUUIDKey
)

// FromContext extracts the logger from context, falling back to a default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithReqID adds a request id to the context and its logger.
func WithReqID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("req_id", id)
	ctx = context.WithValue(ctx, reqIDKey, id)
	return WithLogger(ctx, logger)
}

// WithGraphUUID adds a graph uuid to the context and its logger.
func WithGraphUUID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("graph_uuid", id)
	ctx = context.WithValue(ctx, graphUUIDKey, id)
	return WithLogger(ctx, logger)
}

// GetReqID retrieves the request id from context.
func GetReqID(ctx context.Context) string {
	if id, ok := ctx.Value(reqIDKey).(string); ok {
		return id
	}
	return ""
}

// GetGraphUUID retrieves the graph uuid from context.
func GetGraphUUID(ctx context.Context) string {
	if id, ok := ctx.Value(graphUUIDKey).(string); ok {
		return id
	}
	return ""
}
