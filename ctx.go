package brix

import "context"

var profileCtxKey = &contextKey{"profile"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// WithProfileContext sets the Profile in the given context
func WithProfileContext(ctx context.Context, profile *Profile) context.Context {
	return context.WithValue(ctx, profileCtxKey, profile)
}

// ProfileFromContext finds the profile from the context.
func ProfileFromContext(ctx context.Context) (*Profile, bool) {
	raw, ok := ctx.Value(profileCtxKey).(*Profile)
	return raw, ok && raw != nil
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, session)
}

// SessionFromContext finds the session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// CanModerate is a convenience check against the profile carried in the
// context. It is false when no profile travels with the request.
func CanModerate(ctx context.Context) bool {
	profile, ok := ProfileFromContext(ctx)
	if !ok || profile.Role == nil {
		return false
	}
	return profile.Role.CanModerate()
}
