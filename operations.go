package brix

import (
	"context"
	stderrors "errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// LoginPayload carries sign-in credentials.
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

// RegisterPayload carries account creation fields. DisplayName travels as
// provider metadata so the backend trigger can seed the profile row.
type RegisterPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (p RegisterPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&p.DisplayName, validation.Required, validation.Length(2, 80)),
	)
}

// ProfileMutation is a partial write-through update of the caller's profile.
// Nil fields are left untouched.
type ProfileMutation struct {
	DisplayName *string
	Country     *string
	State       *string
	City        *string
}

func (m ProfileMutation) fields() map[string]any {
	out := map[string]any{}
	if m.DisplayName != nil {
		out["display_name"] = *m.DisplayName
	}
	if m.Country != nil {
		out["country"] = *m.Country
	}
	if m.State != nil {
		out["state"] = *m.State
	}
	if m.City != nil {
		out["city"] = *m.City
	}
	return out
}

// Login delegates authentication to the session source. Success only
// guarantees a session now exists; the caller observes Authenticated
// asynchronously once the resolution catches up. Failures are classified and
// recorded in the state's Err field, nothing else changes.
func (e *Engine) Login(ctx context.Context, payload LoginPayload) error {
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload")
	}

	e.markEstablishing(ctx)

	sess, err := e.source.SignIn(ctx, payload.Email, payload.Password)
	if err != nil {
		classified := classifyProviderError(err)
		e.recordFailure(ctx, classified)
		e.emit(ActivityEventLoginFailure, "", map[string]any{
			"email": payload.Email,
			"error": classified.Error(),
		})
		return classified
	}

	// the source also notifies subscribers; the notification handler
	// deduplicates, so queueing here just removes the dependency on
	// provider-side echo timing
	e.notifyAsync(sess)
	return nil
}

// Register creates the provider account. The profile row materializes via a
// backend trigger afterwards, so a returned session only moves the engine
// into Resolving. When the provider demands email confirmation there is no
// session yet and ErrConfirmationRequired tells the caller what to expect.
func (e *Engine) Register(ctx context.Context, payload RegisterPayload) error {
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	e.markEstablishing(ctx)

	result, err := e.source.SignUp(ctx, SignUpInput{
		Email:    payload.Email,
		Password: payload.Password,
		Metadata: map[string]any{"display_name": payload.DisplayName},
	})
	if err != nil {
		classified := classifyProviderError(err)
		e.recordFailure(ctx, classified)
		return classified
	}

	if result == nil || result.ConfirmationRequired || result.Session == nil {
		_ = e.do(ctx, func() {
			if e.State().SessionStatus == SessionEstablishing {
				e.publish(func(s *AuthState) { s.SessionStatus = SessionAbsent })
			}
		})
		e.emit(ActivityEventRegisterPending, "", map[string]any{"email": payload.Email})
		return ErrConfirmationRequired
	}

	e.notifyAsync(result.Session)
	return nil
}

// Logout resets to Unauthenticated no matter what the provider says: local
// state must not outlive the user's intent to log out. A failed remote
// sign-out is logged and swallowed.
func (e *Engine) Logout(ctx context.Context) {
	if err := e.source.SignOut(ctx); err != nil {
		e.logger.Warn("provider sign-out failed, resetting local state anyway: %v", err)
	}

	if err := e.do(ctx, func() { e.applyNotification(nil) }); err != nil {
		// even a closed queue must not leave a session visible
		e.publish(func(s *AuthState) { *s = InitialAuthState() })
	}
}

// UpdateProfile writes the mutation through to the store and then replaces
// the in-memory profile from an authoritative re-read. There is no optimistic
// local update: displayed state never runs ahead of stored state.
func (e *Engine) UpdateProfile(ctx context.Context, mutation ProfileMutation) error {
	cur := e.State()
	if cur.SessionStatus != SessionEstablished || cur.Session == nil {
		return ErrNoSession
	}
	userID := cur.Session.UserID

	fields := mutation.fields()
	if len(fields) == 0 {
		return goerrors.New("profile mutation has no fields", goerrors.CategoryValidation)
	}

	if err := e.store.WriteProfileFields(ctx, userID, fields); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "profile update failed").
			WithTextCode(TextCodeProfileStore)
	}

	profile, err := e.resolver.Resolve(ctx, userID)
	if err != nil {
		return err
	}

	return e.do(ctx, func() {
		st := e.State()
		if st.SessionStatus != SessionEstablished || st.Session == nil || st.Session.UserID != userID {
			// session changed while we were writing; the new session's own
			// resolution owns the profile now
			return
		}
		e.publish(func(s *AuthState) {
			s.ProfileStatus = ProfileLoaded
			s.Profile = profile.Clone()
			s.Err = ""
		})
	})
}

// RetryProfile manually re-runs the resolution for the current session, the
// designed exit from ProfileMissing (and from a structural error, once the
// operator fixed whatever caused it).
func (e *Engine) RetryProfile(ctx context.Context) error {
	return e.do(ctx, func() {
		st := e.State()
		if st.SessionStatus != SessionEstablished || st.Session == nil {
			return
		}
		switch st.ProfileStatus {
		case ProfileNotFound, ProfileError:
			e.startResolution(st.Session)
		}
	})
}

// markEstablishing flags a sign-in as in flight. Skipped when the provider's
// own subscriber echo already moved the session past absent.
func (e *Engine) markEstablishing(ctx context.Context) {
	_ = e.do(ctx, func() {
		if e.State().SessionStatus != SessionAbsent {
			return
		}
		e.publish(func(s *AuthState) { s.SessionStatus = SessionEstablishing })
	})
}

// recordFailure surfaces a classified provider error in the state's Err
// field and rolls an in-flight establishment back to absent.
func (e *Engine) recordFailure(ctx context.Context, err error) {
	msg := userMessage(err)
	if derr := e.do(ctx, func() {
		e.publish(func(s *AuthState) {
			s.Err = msg
			if s.SessionStatus == SessionEstablishing {
				s.SessionStatus = SessionAbsent
			}
		})
	}); derr != nil {
		e.logger.Warn("failed to record auth error: %v", derr)
	}
}

// classifyProviderError funnels identity-provider failures into the small set
// of user-facing sentinels. Unknown errors stay auth-categorized but keep
// their cause for logs.
func classifyProviderError(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrInvalidCredentials),
		stderrors.Is(err, ErrEmailNotConfirmed),
		stderrors.Is(err, ErrRateLimited),
		stderrors.Is(err, ErrConfirmationRequired):
		return err
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		switch rich.Category {
		case goerrors.CategoryRateLimit:
			return ErrRateLimited
		case goerrors.CategoryAuth:
			return ErrInvalidCredentials
		}
	}

	return goerrors.Wrap(err, goerrors.CategoryAuth, "authentication failed")
}

// ResolveUserID is a convenience for consumers that only have the string id
// from a transport layer.
func ResolveUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "malformed user id")
	}
	return id, nil
}
