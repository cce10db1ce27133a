package famauth

import "context"

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyUserAgent
	ctxKeyDeviceName
)

// WithClientIP attaches the caller's IP for attempt logging and throttling.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithUserAgent attaches the caller's user agent for session metadata.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// WithDeviceName attaches a human-readable device label for session listings.
func WithDeviceName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyDeviceName, name)
}

func clientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientIP).(string)
	return v
}

func userAgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserAgent).(string)
	return v
}

func deviceNameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyDeviceName).(string)
	return v
}
