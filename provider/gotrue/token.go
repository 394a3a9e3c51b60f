package gotrue

import (
	"time"

	"github.com/brixlog/go-brix"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// SessionFromAccessToken rebuilds a Session from a GoTrue access token. The
// signature is NOT verified here; this is only used to restore identity
// fields from a persisted token, and the backend re-verifies on every call.
func SessionFromAccessToken(raw string) (*brix.Session, error) {
	claims := &accessClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "gotrue: malformed access token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "gotrue: access token subject is not a user id")
	}

	sess := &brix.Session{
		UserID:      userID,
		Email:       claims.Email,
		AccessToken: raw,
	}

	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		sess.ExpiresAt = &expires
	}

	if sess.ExpiresAt != nil && time.Until(*sess.ExpiresAt) <= 0 {
		return nil, goerrors.New("gotrue: persisted access token is expired", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	return sess, nil
}
