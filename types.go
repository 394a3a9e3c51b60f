package brix

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session is the provider-issued proof of authentication. The engine only
// references it; the identity provider owns its lifecycle.
type Session struct {
	UserID       uuid.UUID  `json:"user_id"`
	Email        string     `json:"email,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// SameUser reports whether both sessions belong to the same account. Token
// rotation keeps the user id stable, so this distinguishes a refresh from a
// fresh login.
func (s *Session) SameUser(other *Session) bool {
	if s == nil || other == nil {
		return false
	}
	return s.UserID == other.UserID
}

// Unsubscribe detaches a previously registered listener.
type Unsubscribe func()

// SignUpInput carries the fields the identity provider needs to create an account.
type SignUpInput struct {
	Email    string
	Password string
	Metadata map[string]any
}

// SignUpResult is what the provider reports back for a sign-up. Session is nil
// when the account needs email confirmation before a session can exist.
type SignUpResult struct {
	Session              *Session
	ConfirmationRequired bool
}

// SessionSource is the identity-provider integration. It yields the current
// session on demand and pushes session-change notifications (login, logout,
// token refresh) for as long as the process lives.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(*Session)) Unsubscribe
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, input SignUpInput) (*SignUpResult, error)
	SignOut(ctx context.Context) error
}

// ProfileStore performs point reads and writes of profile records against the
// remote store. It has no retry logic of its own; missing rows come back as a
// not-found error the resolver can classify.
type ProfileStore interface {
	ReadProfile(ctx context.Context, userID uuid.UUID) (*Profile, error)
	WriteProfileFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] BRIX "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] BRIX "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] BRIX "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] BRIX "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
