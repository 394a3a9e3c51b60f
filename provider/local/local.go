// Package local implements brix.SessionSource in process, backed by a bcrypt
// credential map. It exists for development setups and examples where running
// a GoTrue endpoint is overkill, and it reproduces the asynchronous profile
// materialization: an optional trigger callback fires after a configurable
// delay, like the backend trigger does in production.
package local

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/brixlog/go-brix"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// MaxLoginAttempts is the number of bad passwords before the account cools down.
var MaxLoginAttempts = 5

// Trigger mimics the backend-side profile trigger. It runs in its own
// goroutine after TriggerDelay once an account is created.
type Trigger func(userID uuid.UUID, email string, metadata map[string]any)

// Config configures the local provider.
type Config struct {
	// AutoConfirm skips the email confirmation step.
	AutoConfirm bool

	// TriggerDelay is how long after sign-up the Trigger fires.
	TriggerDelay time.Duration

	// Trigger is invoked after TriggerDelay for every created account.
	Trigger Trigger

	// SessionTTL bounds issued sessions. Zero means one hour.
	SessionTTL time.Duration
}

type account struct {
	id           uuid.UUID
	email        string
	passwordHash string
	confirmed    bool
	metadata     map[string]any
	attempts     int
}

// Provider is an in-process session source.
type Provider struct {
	cfg Config

	mu       sync.Mutex
	accounts map[string]*account
	session  *brix.Session
	subs     []providerSubscriber
	nextSub  int
}

type providerSubscriber struct {
	id int
	fn func(*brix.Session)
}

var _ brix.SessionSource = (*Provider)(nil)

func New(cfg Config) *Provider {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}

	return &Provider{
		cfg:      cfg,
		accounts: map[string]*account{},
	}
}

func (p *Provider) CurrentSession(_ context.Context) (*brix.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSession(p.session), nil
}

func (p *Provider) Subscribe(fn func(*brix.Session)) brix.Unsubscribe {
	if fn == nil {
		return func() {}
	}

	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs = append(p.subs, providerSubscriber{id: id, fn: fn})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, s := range p.subs {
			if s.id == id {
				p.subs = append(p.subs[:i], p.subs[i+1:]...)
				return
			}
		}
	}
}

func (p *Provider) SignIn(_ context.Context, email, password string) (*brix.Session, error) {
	p.mu.Lock()
	acc, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		p.mu.Unlock()
		return nil, brix.ErrInvalidCredentials
	}

	if acc.attempts >= MaxLoginAttempts {
		p.mu.Unlock()
		return nil, brix.ErrRateLimited
	}

	if err := brix.ComparePasswordAndHash(password, acc.passwordHash); err != nil {
		acc.attempts++
		p.mu.Unlock()
		return nil, brix.ErrInvalidCredentials
	}

	if !acc.confirmed {
		p.mu.Unlock()
		return nil, brix.ErrEmailNotConfirmed
	}

	acc.attempts = 0
	sess := p.mintSessionLocked(acc)
	p.mu.Unlock()

	p.publish(sess)
	return cloneSession(sess), nil
}

func (p *Provider) SignUp(_ context.Context, input brix.SignUpInput) (*brix.SignUpResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, goerrors.New("local: email is required", goerrors.CategoryValidation)
	}

	hash, err := brix.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	// deterministic ids keep repeated dev sign-ups stable across restarts
	id, err := hashid.NewUUID(email)
	if err != nil {
		id = uuid.New()
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return nil, goerrors.New("local: account already exists", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict)
	}

	acc := &account{
		id:           id,
		email:        email,
		passwordHash: hash,
		confirmed:    p.cfg.AutoConfirm,
		metadata:     input.Metadata,
	}
	p.accounts[email] = acc

	var sess *brix.Session
	if acc.confirmed {
		sess = p.mintSessionLocked(acc)
	}
	p.mu.Unlock()

	p.fireTrigger(acc)

	if sess == nil {
		return &brix.SignUpResult{ConfirmationRequired: true}, nil
	}

	p.publish(sess)
	return &brix.SignUpResult{Session: cloneSession(sess)}, nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	p.publish(nil)
	return nil
}

// Confirm marks an account's email as confirmed, the way clicking the link
// in the confirmation mail would.
func (p *Provider) Confirm(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		return false
	}
	acc.confirmed = true
	return true
}

func (p *Provider) mintSessionLocked(acc *account) *brix.Session {
	expires := time.Now().Add(p.cfg.SessionTTL)
	sess := &brix.Session{
		UserID:       acc.id,
		Email:        acc.email,
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    &expires,
	}
	p.session = cloneSession(sess)
	return sess
}

func (p *Provider) fireTrigger(acc *account) {
	if p.cfg.Trigger == nil {
		return
	}

	delay := p.cfg.TriggerDelay
	id, email, metadata := acc.id, acc.email, acc.metadata

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		p.cfg.Trigger(id, email, metadata)
	}()
}

func (p *Provider) publish(sess *brix.Session) {
	p.mu.Lock()
	subs := make([]providerSubscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, s := range subs {
		s.fn(cloneSession(sess))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
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
