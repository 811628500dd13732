package internal

import "context"

type ctxKey string

const ContextCallerKey ctxKey = "callerID"

// CallerIDFromContext returns the authenticated caller's user id. The second
// value is false when the request carried no verified identity.
func CallerIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	if callerID, ok := ctx.Value(ContextCallerKey).(int64); ok && callerID > 0 {
		return callerID, true
	}
	return 0, false
}

func ContextWithCallerID(ctx context.Context, callerID int64) context.Context {
	return context.WithValue(ctx, ContextCallerKey, callerID)
}
