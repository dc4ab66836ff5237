// Package kit carries request-scoped identifiers through context so that the
// HTTP middleware, the webhook worker and the staff handlers log the same
// correlation keys.
package kit

import "context"

type contextKey string

const (
	TraceIDKey    contextKey = "kit_trace_id"
	UserIDKey     contextKey = "kit_user_id"
	RoleKey       contextKey = "kit_role"
	CustomerIDKey contextKey = "kit_customer_id"
	JobIDKey      contextKey = "kit_job_id"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CustomerIDKey, id)
}
func GetCustomerID(ctx context.Context) string {
	v, _ := ctx.Value(CustomerIDKey).(string)
	return v
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, JobIDKey, id)
}
func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(JobIDKey).(string)
	return v
}

// LogAttrs returns the identifiers present in ctx as slog key/value pairs,
// ready to pass to logger.With.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	for _, kv := range []struct {
		key string
		val string
	}{
		{"trace_id", GetTraceID(ctx)},
		{"job_id", GetJobID(ctx)},
		{"customer_id", GetCustomerID(ctx)},
		{"user_id", GetUserID(ctx)},
	} {
		if kv.val != "" {
			attrs = append(attrs, kv.key, kv.val)
		}
	}
	return attrs
}
