// Package gotrue implements brix.SessionSource against a GoTrue-compatible
// authentication endpoint (the API Supabase exposes). It owns the current
// session, rotates tokens shortly before they expire, and pushes every
// session change to subscribers.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brixlog/go-brix"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultRefreshMargin is how long before expiry the client rotates tokens.
const DefaultRefreshMargin = 30 * time.Second

// Config configures the GoTrue client.
type Config struct {
	// BaseURL is the auth endpoint root, e.g. https://xyz.supabase.co/auth/v1
	BaseURL string

	// APIKey is sent as the apikey header on every request.
	APIKey string

	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client

	// RefreshMargin overrides DefaultRefreshMargin.
	RefreshMargin time.Duration

	// Logger overrides the default logger.
	Logger brix.Logger
}

// Client is a GoTrue session source.
type Client struct {
	cfg    Config
	http   *http.Client
	logger brix.Logger

	mu      sync.Mutex
	session *brix.Session
	subs    []clientSubscriber
	nextSub int
	timer   *time.Timer
	closed  bool
}

type clientSubscriber struct {
	id int
	fn func(*brix.Session)
}

var _ brix.SessionSource = (*Client)(nil)

// New creates a GoTrue client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, goerrors.New("gotrue: base url is required", goerrors.CategoryValidation)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}, nil
}

// RestoreToken seeds the client with a persisted token pair (e.g. from disk
// at startup). The access token's claims are decoded without verification —
// the backend verifies it on every call; we only need the identity fields.
func (c *Client) RestoreToken(accessToken, refreshToken string) error {
	sess, err := SessionFromAccessToken(accessToken)
	if err != nil {
		return err
	}
	sess.RefreshToken = refreshToken

	c.setSession(sess)
	return nil
}

// CurrentSession returns the session the client holds, if any.
func (c *Client) CurrentSession(_ context.Context) (*brix.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session), nil
}

// Subscribe registers fn for session-change pushes.
func (c *Client) Subscribe(fn func(*brix.Session)) brix.Unsubscribe {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, clientSubscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// SignIn performs the password grant.
func (c *Client) SignIn(ctx context.Context, email, password string) (*brix.Session, error) {
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=password", map[string]any{
		"email":    email,
		"password": password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}

	sess, err := resp.toSession(time.Now())
	if err != nil {
		return nil, err
	}

	c.setSession(sess)
	return cloneSession(sess), nil
}

// SignUp creates the provider account. When the server requires email
// confirmation it returns a bare user instead of a token pair; the caller
// gets ConfirmationRequired and no session exists yet.
func (c *Client) SignUp(ctx context.Context, input brix.SignUpInput) (*brix.SignUpResult, error) {
	body := map[string]any{
		"email":    input.Email,
		"password": input.Password,
	}
	if len(input.Metadata) > 0 {
		body["data"] = input.Metadata
	}

	var resp tokenResponse
	if err := c.post(ctx, "/signup", body, "", &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return &brix.SignUpResult{ConfirmationRequired: true}, nil
	}

	sess, err := resp.toSession(time.Now())
	if err != nil {
		return nil, err
	}

	c.setSession(sess)
	return &brix.SignUpResult{Session: cloneSession(sess)}, nil
}

// SignOut revokes the session server-side and always drops it locally,
// notifying subscribers, even when the revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.mu.Unlock()

	var err error
	if token != "" {
		err = c.post(ctx, "/logout", nil, token, nil)
	}

	c.setSession(nil)
	return err
}

// Refresh rotates the token pair and pushes the refreshed session.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := ""
	if c.session != nil {
		refreshToken = c.session.RefreshToken
	}
	c.mu.Unlock()

	if refreshToken == "" {
		return brix.ErrNoSession
	}

	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", map[string]any{
		"refresh_token": refreshToken,
	}, "", &resp)
	if err != nil {
		return err
	}

	sess, err := resp.toSession(time.Now())
	if err != nil {
		return err
	}

	c.setSession(sess)
	return nil
}

// Close stops the refresh timer. It does not revoke the session.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// setSession swaps the held session, reschedules the refresh timer, and
// notifies subscribers outside the lock.
func (c *Client) setSession(sess *brix.Session) {
	c.mu.Lock()
	c.session = cloneSession(sess)

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.closed && sess != nil && sess.ExpiresAt != nil && sess.RefreshToken != "" {
		wait := time.Until(*sess.ExpiresAt) - c.cfg.RefreshMargin
		if wait < time.Second {
			wait = time.Second
		}
		c.timer = time.AfterFunc(wait, c.refreshNow)
	}

	subs := make([]clientSubscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(cloneSession(sess))
	}
}

func (c *Client) refreshNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("gotrue: token refresh failed: %v", err)
		// a rejected refresh token means the session is gone for good
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && rich.Category == goerrors.CategoryAuth {
			c.setSession(nil)
		}
	}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	RefreshToken string    `json:"refresh_token"`
	User         userBlock `json:"user"`

	// signup without autoconfirm returns the user fields at the top level
	ID          string `json:"id"`
	Email       string `json:"email"`
	ConfirmedAt string `json:"confirmed_at"`
}

type userBlock struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (r tokenResponse) toSession(now time.Time) (*brix.Session, error) {
	userID, err := uuid.Parse(r.User.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "gotrue: malformed user id in token response")
	}

	sess := &brix.Session{
		UserID:       userID,
		Email:        r.User.Email,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}

	if r.ExpiresIn > 0 {
		expires := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		sess.ExpiresAt = &expires
	}

	return sess, nil
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: encode request")
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "gotrue: build request")
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "gotrue: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "gotrue: decode response")
		}
		return nil
	}

	return classifyHTTPError(resp)
}

// classifyHTTPError funnels GoTrue error payloads into the engine's sentinels.
func classifyHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed errorResponse
	_ = json.Unmarshal(raw, &parsed)

	description := parsed.ErrorDescription
	if description == "" {
		description = parsed.Msg
	}
	if description == "" {
		description = parsed.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return brix.ErrRateLimited
	case strings.Contains(strings.ToLower(description), "not confirmed"):
		return brix.ErrEmailNotConfirmed
	case parsed.Error == "invalid_grant" || resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return brix.ErrInvalidCredentials
	case resp.StatusCode >= 500:
		return goerrors.New(
			fmt.Sprintf("gotrue: server error %d", resp.StatusCode),
			goerrors.CategoryOperation,
		).WithMetadata(map[string]any{"body": string(raw)})
	default:
		return goerrors.New(
			fmt.Sprintf("gotrue: unexpected status %d", resp.StatusCode),
			goerrors.CategoryAuth,
		).WithMetadata(map[string]any{"body": string(raw)})
	}
}

func cloneSession(s *brix.Session) *brix.Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
