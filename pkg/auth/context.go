package auth

import "context"

// WithClaims attaches validated claims to a request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserKey, claims)
}

// ClaimsFrom returns the claims stored by WithClaims, or empty claims
// when the context carries none.
func ClaimsFrom(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(UserKey).(*Claims); ok {
		return claims
	}
	return &Claims{}
}
