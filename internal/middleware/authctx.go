package middleware

import "context"

type authContextKey struct{}

// AuthContext carries the identity established by an auth middleware.
type AuthContext struct {
	Subject string
	Issuer  string
	Claims  map[string]interface{}
}

// WithAuthContext stores the auth context on the request context.
func WithAuthContext(ctx context.Context, authCtx AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, authCtx)
}

// AuthFromContext retrieves the auth context, if any.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey{}).(AuthContext)
	return authCtx, ok
}
