package brix_test

import (
	"context"
	"testing"
	"time"

	"github.com/brixlog/go-brix"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, source *MockSessionSource, store *fakeStore, opts ...brix.EngineOption) (*brix.Engine, *stateRecorder) {
	t.Helper()

	recorder := &stateRecorder{}
	base := []brix.EngineOption{
		brix.WithLogger(nopLogger{}),
		brix.WithRetryPolicy(instantPolicy(3)),
	}
	engine := brix.NewEngine(source, store, append(base, opts...)...)
	engine.OnStateChange(recorder.record)

	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(engine.Close)

	return engine, recorder
}

func TestEngineStartsUnauthenticated(t *testing.T) {
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	engine, _ := newTestEngine(t, source, &fakeStore{})

	state := engine.State()
	assert.Equal(t, brix.ModeUnauthenticated, state.Mode())
	assert.Equal(t, brix.SessionAbsent, state.SessionStatus)
	assert.Equal(t, brix.ProfileNotApplicable, state.ProfileStatus)
	assert.False(t, engine.IsAuthenticated())
}

func TestEngineResolvesStartupSession(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(testSession(userID), nil)

	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			return testProfile(id, "Ana"), nil
		},
	}

	engine, _ := newTestEngine(t, source, store)

	require.True(t, waitFor(time.Second, engine.IsAuthenticated))
	state := engine.State()
	assert.Equal(t, brix.ModeAuthenticated, state.Mode())
	assert.Equal(t, userID, state.Profile.ID)
	assert.Equal(t, "Ana", state.Profile.DisplayName)
}

func TestEngineRetriesMissingProfileRow(t *testing.T) {
	// the backend trigger lags: two reads miss, the third finds the row
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	store := &fakeStore{
		readFn: func(call int, id uuid.UUID) (*brix.Profile, error) {
			if call < 3 {
				return nil, brix.ErrProfileNotFound
			}
			return testProfile(id, "Late"), nil
		},
	}

	sink := &captureSink{}
	engine, recorder := newTestEngine(t, source, store, brix.WithActivitySink(sink))

	source.Emit(testSession(userID))

	require.True(t, waitFor(time.Second, engine.IsAuthenticated))
	assert.Equal(t, 3, store.readCount())

	// the resolving state was observable before the profile landed
	sawResolving := false
	for _, s := range recorder.snapshot() {
		if s.Mode() == brix.ModeResolving {
			sawResolving = true
		}
	}
	assert.True(t, sawResolving)

	types := sink.types()
	assert.Contains(t, types, brix.ActivityEventSessionEstablished)
	assert.Contains(t, types, brix.ActivityEventProfileResolved)
}

func TestEngineProfileMissingAfterExhaustion(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	store := &fakeStore{} // every read misses

	sink := &captureSink{}
	engine, _ := newTestEngine(t, source, store, brix.WithActivitySink(sink))

	source.Emit(testSession(userID))

	require.True(t, waitFor(time.Second, func() bool {
		return engine.State().Mode() == brix.ModeProfileMissing
	}))

	state := engine.State()
	assert.Equal(t, 3, store.readCount())
	assert.Equal(t, brix.SessionEstablished, state.SessionStatus)
	assert.Equal(t, brix.ProfileNotFound, state.ProfileStatus)
	assert.Nil(t, state.Profile)
	assert.NotEmpty(t, state.Err)
	assert.False(t, engine.IsAuthenticated())
	assert.Contains(t, sink.types(), brix.ActivityEventProfileMissing)
}

func TestEngineRetryProfileExitsMissing(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	found := false
	store := &fakeStore{}
	store.readFn = func(_ int, id uuid.UUID) (*brix.Profile, error) {
		if !found {
			return nil, brix.ErrProfileNotFound
		}
		return testProfile(id, "Recovered"), nil
	}

	engine, _ := newTestEngine(t, source, store)
	source.Emit(testSession(userID))

	require.True(t, waitFor(time.Second, func() bool {
		return engine.State().Mode() == brix.ModeProfileMissing
	}))

	found = true
	require.NoError(t, engine.RetryProfile(context.Background()))

	require.True(t, waitFor(time.Second, engine.IsAuthenticated))
	assert.Equal(t, "Recovered", engine.State().Profile.DisplayName)
}

func TestEngineStructuralErrorShortCircuits(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	store := &fakeStore{
		readFn: func(_ int, _ uuid.UUID) (*brix.Profile, error) {
			return nil, assert.AnError
		},
	}

	engine, _ := newTestEngine(t, source, store)
	source.Emit(testSession(userID))

	require.True(t, waitFor(time.Second, func() bool {
		return engine.State().ProfileStatus == brix.ProfileError
	}))

	// no retry on a failure retrying cannot fix
	assert.Equal(t, 1, store.readCount())
	assert.NotEmpty(t, engine.State().Err)
}

func TestEngineSecondSessionSupersedesFirst(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	releaseA := make(chan struct{})
	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			if id == userA {
				<-releaseA
				return testProfile(userA, "First"), nil
			}
			return testProfile(userB, "Second"), nil
		},
	}

	engine, recorder := newTestEngine(t, source, store)

	source.Emit(testSession(userA))
	source.Emit(testSession(userB))

	require.True(t, waitFor(time.Second, func() bool {
		s := engine.State()
		return s.IsAuthenticated() && s.Session.UserID == userB
	}))

	// the first resolution completes late; its result must be discarded
	close(releaseA)
	time.Sleep(50 * time.Millisecond)

	state := engine.State()
	assert.Equal(t, userB, state.Session.UserID)
	assert.Equal(t, "Second", state.Profile.DisplayName)

	for _, s := range recorder.snapshot() {
		if s.Profile != nil {
			require.NotNil(t, s.Session)
			assert.Equal(t, s.Session.UserID, s.Profile.ID,
				"published a profile that does not belong to the session")
		}
	}
}

func TestEngineNeverPublishesProfileWithoutSession(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)
	source.On("SignOut", mock.Anything).Return(nil)

	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			return testProfile(id, "Ana"), nil
		},
	}

	engine, recorder := newTestEngine(t, source, store)

	source.Emit(testSession(userID))
	require.True(t, waitFor(time.Second, engine.IsAuthenticated))

	engine.Logout(context.Background())

	state := engine.State()
	assert.Equal(t, brix.ModeUnauthenticated, state.Mode())
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Session)

	for _, s := range recorder.snapshot() {
		if s.SessionStatus != brix.SessionEstablished {
			assert.Nil(t, s.Profile, "profile visible without an established session")
			assert.Equal(t, brix.ProfileNotApplicable, s.ProfileStatus)
		}
	}
}

func TestEngineLogoutResetsEvenWhenProviderFails(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)
	source.On("SignOut", mock.Anything).Return(assert.AnError)

	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			return testProfile(id, "Ana"), nil
		},
	}

	sink := &captureSink{}
	engine, _ := newTestEngine(t, source, store, brix.WithActivitySink(sink))

	source.Emit(testSession(userID))
	require.True(t, waitFor(time.Second, engine.IsAuthenticated))

	engine.Logout(context.Background())

	state := engine.State()
	assert.Equal(t, brix.SessionAbsent, state.SessionStatus)
	assert.Nil(t, state.Session)
	assert.Nil(t, state.Profile)
	assert.Contains(t, sink.types(), brix.ActivityEventSessionEnded)
}

func TestEngineLogoutDiscardsInFlightResolution(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)
	source.On("SignOut", mock.Anything).Return(nil)

	release := make(chan struct{})
	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			<-release
			return testProfile(id, "Slow"), nil
		},
	}

	engine, _ := newTestEngine(t, source, store)

	source.Emit(testSession(userID))
	require.True(t, waitFor(time.Second, func() bool {
		return engine.State().ProfileStatus == brix.ProfileLoading
	}))

	engine.Logout(context.Background())
	close(release)
	time.Sleep(50 * time.Millisecond)

	state := engine.State()
	assert.Equal(t, brix.ModeUnauthenticated, state.Mode())
	assert.Nil(t, state.Profile)
}

func TestEngineTokenRefreshKeepsProfile(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			return testProfile(id, "Ana"), nil
		},
	}

	sink := &captureSink{}
	engine, _ := newTestEngine(t, source, store, brix.WithActivitySink(sink))

	source.Emit(testSession(userID))
	require.True(t, waitFor(time.Second, engine.IsAuthenticated))
	reads := store.readCount()

	refreshed := testSession(userID)
	refreshed.AccessToken = "rotated"
	source.Emit(refreshed)

	require.True(t, waitFor(time.Second, func() bool {
		s := engine.State()
		return s.Session != nil && s.Session.AccessToken == "rotated"
	}))

	state := engine.State()
	assert.True(t, state.IsAuthenticated())
	assert.Equal(t, "Ana", state.Profile.DisplayName)
	assert.Equal(t, reads, store.readCount(), "token rotation must not refetch the profile")
	assert.Contains(t, sink.types(), brix.ActivityEventSessionRefreshed)
}

func TestEngineIsAdmin(t *testing.T) {
	userID := uuid.New()
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	admin := brix.RoleAdmin
	store := &fakeStore{
		readFn: func(_ int, id uuid.UUID) (*brix.Profile, error) {
			p := testProfile(id, "Root")
			p.Role = &admin
			return p, nil
		},
	}

	engine, _ := newTestEngine(t, source, store)
	assert.False(t, engine.IsAdmin())

	source.Emit(testSession(userID))
	require.True(t, waitFor(time.Second, engine.IsAdmin))
}

func TestEngineCloseStopsProcessing(t *testing.T) {
	source := &MockSessionSource{}
	source.On("CurrentSession", mock.Anything).Return(nil, nil)

	store := &fakeStore{}
	engine, _ := newTestEngine(t, source, store)

	engine.Close()

	err := engine.RetryProfile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, brix.ErrEngineClosed)
}
