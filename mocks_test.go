package brix_test

import (
	"context"
	"sync"
	"time"

	"github.com/brixlog/go-brix"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionSource implements brix.SessionSource with testify expectations
// for the operation calls, plus a real subscriber list so tests can push
// session-change notifications like a provider would.
type MockSessionSource struct {
	mock.Mock

	mu   sync.Mutex
	subs []func(*brix.Session)
}

func (m *MockSessionSource) CurrentSession(ctx context.Context) (*brix.Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(*brix.Session)
	return sess, args.Error(1)
}

func (m *MockSessionSource) Subscribe(fn func(*brix.Session)) brix.Unsubscribe {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	idx := len(m.subs) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.subs) {
			m.subs[idx] = nil
		}
	}
}

// Emit pushes a session-change notification to every live subscriber.
func (m *MockSessionSource) Emit(sess *brix.Session) {
	m.mu.Lock()
	subs := make([]func(*brix.Session), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(sess)
		}
	}
}

func (m *MockSessionSource) SignIn(ctx context.Context, email, password string) (*brix.Session, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*brix.Session)
	return sess, args.Error(1)
}

func (m *MockSessionSource) SignUp(ctx context.Context, input brix.SignUpInput) (*brix.SignUpResult, error) {
	args := m.Called(ctx, input)
	result, _ := args.Get(0).(*brix.SignUpResult)
	return result, args.Error(1)
}

func (m *MockSessionSource) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// fakeStore is a ProfileStore with swappable behavior per call index. It
// counts reads so retry tests can assert the attempt schedule.
type fakeStore struct {
	mu     sync.Mutex
	reads  int
	writes []map[string]any

	// readFn receives the 1-based call number
	readFn  func(call int, userID uuid.UUID) (*brix.Profile, error)
	writeFn func(userID uuid.UUID, fields map[string]any) error
}

func (f *fakeStore) ReadProfile(ctx context.Context, userID uuid.UUID) (*brix.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.reads++
	call := f.reads
	fn := f.readFn
	f.mu.Unlock()

	if fn == nil {
		return nil, brix.ErrProfileNotFound
	}
	return fn(call, userID)
}

func (f *fakeStore) WriteProfileFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	f.mu.Lock()
	f.writes = append(f.writes, fields)
	fn := f.writeFn
	f.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(userID, fields)
}

func (f *fakeStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// captureSink records activity events in order.
type captureSink struct {
	mu     sync.Mutex
	events []brix.ActivityEvent
}

func (c *captureSink) Record(_ context.Context, event brix.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) types() []brix.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]brix.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

// stateRecorder collects every published AuthState.
type stateRecorder struct {
	mu     sync.Mutex
	states []brix.AuthState
}

func (r *stateRecorder) record(s brix.AuthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) snapshot() []brix.AuthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]brix.AuthState, len(r.states))
	copy(out, r.states)
	return out
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func testProfile(id uuid.UUID, name string) *brix.Profile {
	role := brix.RoleMember
	return &brix.Profile{
		ID:          id,
		DisplayName: name,
		Role:        &role,
	}
}

func testSession(id uuid.UUID) *brix.Session {
	return &brix.Session{
		UserID:      id,
		Email:       "grower@example.com",
		AccessToken: "token-" + id.String(),
	}
}

func instantPolicy(attempts int) brix.RetryPolicy {
	return brix.RetryPolicy{
		MaxAttempts: attempts,
		Delay:       func(int) time.Duration { return 0 },
	}
}
