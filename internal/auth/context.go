package auth

import "context"

// Identity is the verified tenant scope of a request. Handlers derive org and
// user exclusively from it; tenant fields arriving in a body or query string
// are never trusted.
type Identity struct {
	Subject string
	OrgID   string
}

type identityContextKey struct{}

// ContextWithIdentity attaches the verified identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the verified identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.Subject == "" || v.OrgID == "" {
		return Identity{}, false
	}
	return *v, true
}
