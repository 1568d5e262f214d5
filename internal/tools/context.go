package tools

import "context"

type contextKey string

const userIDKey contextKey = "dmflow.user_id"

// WithUserID attaches the conversation's user ID so tools that write
// per-user records can pick it up.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
