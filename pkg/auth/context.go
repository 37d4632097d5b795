package auth

import "context"

type contextKey struct{}

// NewContext returns a new context carrying the given credentials.
func NewContext(ctx context.Context, creds *Credentials) context.Context {
	return context.WithValue(ctx, contextKey{}, creds)
}

// FromContext returns the credentials stored in ctx, or nil.
func FromContext(ctx context.Context) *Credentials {
	creds, ok := ctx.Value(contextKey{}).(*Credentials)
	if !ok {
		return nil
	}
	return creds
}
