package service

import "context"

type ctxKey string

const clientIPKey ctxKey = "gl.clientIP"

// WithClientIP stores the caller's address in context for attempt limiting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromCtx fetches the caller's address from context.
func ClientIPFromCtx(ctx context.Context) (string, bool) {
	v := ctx.Value(clientIPKey)
	if v == nil {
		return "", false
	}
	ip, ok := v.(string)
	return ip, ok
}
