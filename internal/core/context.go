package core

import "context"

type contextKey string

const ctxKeyClient contextKey = "import_client"

// ClientInfo identifies who submitted a request, for logging.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// ContextWithClient attaches the submitting client to ctx.
func ContextWithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, ctxKeyClient, ClientInfo{IPAddress: ip, UserAgent: userAgent})
}

// ClientFromContext returns the client attached to ctx, or the zero value.
func ClientFromContext(ctx context.Context) ClientInfo {
	if v, ok := ctx.Value(ctxKeyClient).(ClientInfo); ok {
		return v
	}
	return ClientInfo{}
}
