package brix

// SessionStatus describes what we know about the identity provider session.
type SessionStatus string

const (
	// SessionAbsent means no session exists.
	SessionAbsent SessionStatus = "absent"
	// SessionEstablishing means a sign-in or sign-up is in flight.
	SessionEstablishing SessionStatus = "establishing"
	// SessionEstablished means the provider issued a session.
	SessionEstablished SessionStatus = "established"
)

// ProfileStatus describes what we know about the application profile record.
type ProfileStatus string

const (
	// ProfileNotApplicable is the profile status while no session exists.
	ProfileNotApplicable ProfileStatus = "not_applicable"
	// ProfileLoading means a resolution is in flight for the current session.
	ProfileLoading ProfileStatus = "loading"
	// ProfileLoaded means the profile record was read successfully.
	ProfileLoaded ProfileStatus = "loaded"
	// ProfileNotFound means the resolver exhausted its attempts without a record.
	ProfileNotFound ProfileStatus = "not_found"
	// ProfileError means the store reported a structural failure.
	ProfileError ProfileStatus = "error"
)

// Mode collapses session x profile status into the named engine states.
type Mode string

const (
	ModeUnauthenticated Mode = "unauthenticated"
	ModeResolving       Mode = "resolving"
	ModeAuthenticated   Mode = "authenticated"
	ModeProfileMissing  Mode = "profile_missing"
)

// AuthState is the single reconciled value the engine exposes. Snapshots are
// value copies; Profile and Session point at private clones so readers can
// hold them across state changes.
type AuthState struct {
	SessionStatus SessionStatus
	ProfileStatus ProfileStatus
	Session       *Session
	Profile       *Profile
	Err           string
}

// InitialAuthState is the state at process start and after logout.
func InitialAuthState() AuthState {
	return AuthState{
		SessionStatus: SessionAbsent,
		ProfileStatus: ProfileNotApplicable,
	}
}

// IsAuthenticated is true only when the session exists and the profile loaded.
func (s AuthState) IsAuthenticated() bool {
	return s.SessionStatus == SessionEstablished && s.ProfileStatus == ProfileLoaded
}

// IsAdmin reports whether the loaded profile carries the admin role. It is
// false whenever the profile is not loaded.
func (s AuthState) IsAdmin() bool {
	if !s.IsAuthenticated() || s.Profile == nil {
		return false
	}
	return s.Profile.HasRole(RoleAdmin)
}

// Mode maps the status pair onto the engine's named states.
func (s AuthState) Mode() Mode {
	if s.SessionStatus != SessionEstablished {
		return ModeUnauthenticated
	}

	switch s.ProfileStatus {
	case ProfileLoaded:
		return ModeAuthenticated
	case ProfileNotFound:
		return ModeProfileMissing
	default:
		return ModeResolving
	}
}

func (s AuthState) clone() AuthState {
	out := s
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.Profile != nil {
		out.Profile = s.Profile.Clone()
	}
	return out
}
