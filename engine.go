package brix

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// ErrEngineClosed is returned by operations issued after Close.
var ErrEngineClosed = errors.New("auth engine is closed", errors.CategoryOperation).
	WithTextCode("engine_closed")

// ErrEngineNotStarted is returned by operations issued before Start.
var ErrEngineNotStarted = errors.New("auth engine not started", errors.CategoryOperation).
	WithTextCode("engine_not_started")

// Engine reconciles the identity provider's session with the application
// profile record. "Authenticated" and "profile available" arrive as two
// independent facts; the engine holds the single composite state, serializes
// every session-change notification and mutation through one work queue, and
// lets a newer notification preempt an in-flight profile resolution.
//
// The engine is the only writer of its AuthState. Everything else reads
// snapshots via State or subscribes with OnStateChange.
type Engine struct {
	source   SessionSource
	store    ProfileStore
	resolver *ProfileResolver
	logger   Logger
	sink     ActivitySink
	now      func() time.Time

	tasks     chan task
	quit      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   bool

	mu      sync.RWMutex
	state   AuthState
	subs    []subscriber
	nextSub int

	// owned by the loop goroutine
	baseCtx   context.Context
	resGen    uint64
	resCancel context.CancelFunc
	unsub     Unsubscribe
}

type task struct {
	run  func()
	done chan struct{}
}

type subscriber struct {
	id int
	fn func(AuthState)
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithActivitySink sets the sink used to publish lifecycle events.
func WithActivitySink(sink ActivitySink) EngineOption {
	return func(e *Engine) {
		e.sink = normalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithResolver replaces the default profile resolver.
func WithResolver(resolver *ProfileResolver) EngineOption {
	return func(e *Engine) {
		if resolver != nil {
			e.resolver = resolver
		}
	}
}

// WithRetryPolicy rebuilds the default resolver with the given policy.
func WithRetryPolicy(policy RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.resolver = NewProfileResolver(e.store, WithResolverPolicy(policy), WithResolverLogger(e.logger))
	}
}

// WithQueueSize sets the work queue buffer.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.tasks = make(chan task, n)
		}
	}
}

// NewEngine wires a session source and a profile store into a consistency
// engine. Call Start to begin processing notifications.
func NewEngine(source SessionSource, store ProfileStore, opts ...EngineOption) *Engine {
	e := &Engine{
		source:   source,
		store:    store,
		logger:   defLogger{},
		sink:     noopActivitySink{},
		now:      time.Now,
		tasks:    make(chan task, 64),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		state:    InitialAuthState(),
	}
	e.resolver = NewProfileResolver(store)

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	return e
}

// Start launches the work loop, reads the current session once, and
// subscribes to the source's change stream. ctx governs background
// resolutions; cancelling it shuts the engine down.
func (e *Engine) Start(ctx context.Context) error {
	if e.source == nil {
		return errors.New("engine requires a session source", errors.CategoryInternal)
	}

	e.startOnce.Do(func() {
		e.baseCtx = ctx
		e.started = true

		go e.loop()

		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.quit:
			}
		}()

		e.unsub = e.source.Subscribe(func(sess *Session) {
			e.notifyAsync(sess)
		})

		// startup point read; the change stream covers everything after
		if sess, err := e.source.CurrentSession(ctx); err != nil {
			e.logger.Warn("startup session read failed: %v", err)
		} else if sess != nil {
			e.notifyAsync(sess)
		}
	})

	return nil
}

// Close stops the loop, detaches from the source, and cancels any in-flight
// resolution. It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}
		close(e.quit)
	})
}

// State returns a snapshot of the composite auth state.
func (e *Engine) State() AuthState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// IsAuthenticated reports whether a session exists and its profile loaded.
func (e *Engine) IsAuthenticated() bool {
	return e.State().IsAuthenticated()
}

// IsAdmin reports whether the loaded profile carries the admin role.
func (e *Engine) IsAdmin() bool {
	return e.State().IsAdmin()
}

// OnStateChange registers fn to be called with every published state. Calls
// arrive in publish order from the engine's own goroutine; keep fn fast.
func (e *Engine) OnStateChange(fn func(AuthState)) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) loop() {
	defer close(e.loopDone)

	for {
		select {
		case <-e.quit:
			e.cancelResolution()
			return
		case t := <-e.tasks:
			t.run()
			if t.done != nil {
				close(t.done)
			}
		}
	}
}

// notifyAsync queues a session-change notification. FIFO on a single channel
// with a single consumer gives the ordered processing the state machine
// requires.
func (e *Engine) notifyAsync(sess *Session) {
	t := task{run: func() { e.applyNotification(sess) }}
	select {
	case e.tasks <- t:
	case <-e.quit:
	}
}

// do queues run and waits until the loop applied it.
func (e *Engine) do(ctx context.Context, run func()) error {
	if !e.started {
		return ErrEngineNotStarted
	}

	t := task{run: run, done: make(chan struct{})}

	select {
	case e.tasks <- t:
	case <-e.quit:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-t.done:
		return nil
	case <-e.quit:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyNotification is the transition function. It runs on the loop goroutine.
func (e *Engine) applyNotification(sess *Session) {
	if sess == nil {
		// session gone: profile and profile status reset in the same update,
		// no stale profile is ever visible without a session
		hadSession := false
		e.publish(func(s *AuthState) {
			hadSession = s.SessionStatus != SessionAbsent
			*s = InitialAuthState()
		})
		e.cancelResolution()
		if hadSession {
			e.emit(ActivityEventSessionEnded, "", nil)
		}
		return
	}

	cur := e.State()
	if cur.SessionStatus == SessionEstablished && cur.Session.SameUser(sess) {
		// token rotation for the account we already track: the profile is not
		// expected to change because the token did, so never re-resolve here;
		// a resolution already in flight keeps running for this session
		e.publish(func(s *AuthState) {
			s.Session = cloneSession(sess)
		})
		if cur.ProfileStatus == ProfileLoaded {
			e.emit(ActivityEventSessionRefreshed, sess.UserID.String(), nil)
		}
		return
	}

	e.startResolution(sess)
}

// startResolution supersedes any in-flight resolution and begins one for
// sess. Runs on the loop goroutine.
func (e *Engine) startResolution(sess *Session) {
	e.cancelResolution()
	e.resGen++
	gen := e.resGen

	ctx, cancel := context.WithCancel(e.baseCtx)
	e.resCancel = cancel

	e.publish(func(s *AuthState) {
		s.SessionStatus = SessionEstablished
		s.Session = cloneSession(sess)
		s.ProfileStatus = ProfileLoading
		s.Profile = nil
		s.Err = ""
	})
	e.emit(ActivityEventSessionEstablished, sess.UserID.String(), nil)

	userID := sess.UserID
	go func() {
		profile, err := e.resolver.Resolve(ctx, userID)
		t := task{run: func() { e.applyResolution(gen, profile, err) }}
		select {
		case e.tasks <- t:
		case <-e.quit:
		}
	}()
}

// applyResolution commits a resolver result, unless a newer session
// notification superseded the attempt in the meantime. Runs on the loop
// goroutine.
func (e *Engine) applyResolution(gen uint64, profile *Profile, err error) {
	if gen != e.resGen {
		// superseded: discard silently, success or failure
		return
	}

	cur := e.State()
	if cur.SessionStatus != SessionEstablished {
		return
	}

	userID := ""
	if cur.Session != nil {
		userID = cur.Session.UserID.String()
	}

	switch {
	case err == nil:
		e.publish(func(s *AuthState) {
			s.ProfileStatus = ProfileLoaded
			s.Profile = profile.Clone()
			s.Err = ""
		})
		e.emit(ActivityEventProfileResolved, userID, nil)

	case stderrors.Is(err, context.Canceled):
		// shutdown race, nothing to record

	case IsProfileNotFound(err):
		e.publish(func(s *AuthState) {
			s.ProfileStatus = ProfileNotFound
			s.Profile = nil
			s.Err = userMessage(err)
		})
		e.emit(ActivityEventProfileMissing, userID, nil)

	default:
		e.publish(func(s *AuthState) {
			s.ProfileStatus = ProfileError
			s.Profile = nil
			s.Err = userMessage(err)
		})
		e.emit(ActivityEventProfileError, userID, map[string]any{"error": err.Error()})
	}
}

func (e *Engine) cancelResolution() {
	if e.resCancel != nil {
		e.resCancel()
		e.resCancel = nil
	}
	e.resGen++
}

// publish applies mutate atomically and hands the new snapshot to every
// subscriber, in registration order, on the loop goroutine.
func (e *Engine) publish(mutate func(*AuthState)) {
	e.mu.Lock()
	mutate(&e.state)
	snapshot := e.state.clone()
	subs := make([]subscriber, len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(snapshot.clone())
	}
}

func (e *Engine) emit(eventType ActivityEventType, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: e.now(),
	}

	ctx := e.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.sink.Record(ctx, event); err != nil {
		e.logger.Warn("activity sink record error: %v", err)
	}
}

func cloneSession(s *Session) *Session {
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
