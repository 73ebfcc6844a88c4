// Package operator carries the acting user identity for audit attribution.
package operator

import "context"

type contextKey struct{}

// System is recorded when no operator is attached to the context
const System = "system"

// WithOperator returns a context carrying the operator name
func WithOperator(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, name)
}

// FromContext returns the operator name, or System when none is set
func FromContext(ctx context.Context) string {
	if name, ok := ctx.Value(contextKey{}).(string); ok && name != "" {
		return name
	}
	return System
}
