package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if tenant := TenantFromContext(ctx); tenant != "" {
		fields = append(fields, zap.String("tenant", tenant))
	}
	if sourceID := SourceIDFromContext(ctx); sourceID != "" {
		fields = append(fields, zap.String("source.id", sourceID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type tenantCtxKey struct{}
type sourceCtxKey struct{}
type requestCtxKey struct{}

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithTenant tags ctx with a sanitized tenant name.
// Values that are not safe identifiers are ignored.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if !validID(tenant) {
		return ctx
	}
	return context.WithValue(ctx, tenantCtxKey{}, tenant)
}

// TenantFromContext returns the tenant tag, or "".
func TenantFromContext(ctx context.Context) string {
	s, _ := ctx.Value(tenantCtxKey{}).(string)
	return s
}

// WithSourceID tags ctx with the knowledge source being processed.
func WithSourceID(ctx context.Context, sourceID string) context.Context {
	if !validID(sourceID) {
		return ctx
	}
	return context.WithValue(ctx, sourceCtxKey{}, sourceID)
}

// SourceIDFromContext returns the source tag, or "".
func SourceIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceCtxKey{}).(string)
	return s
}

// WithRequestID tags ctx with an inbound request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request tag, or "".
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
