package tokenstore

import "context"

type tokenContextKey struct{}

// ContextWithToken pins token as the credential for calls made with ctx,
// taking precedence over the stored one.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, Normalize(token))
}

// TokenFromContext returns a token pinned with ContextWithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}
