package brix

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the profile's role
type UserRole string

const (
	// RoleMember is a regular contributor (submit and browse measurements)
	RoleMember UserRole = "member"
	// RoleModerator can curate submissions
	RoleModerator UserRole = "moderator"
	// RoleAdmin can manage brands, stores and users
	RoleAdmin UserRole = "admin"
)

// Profile is the application-level view of a user. The row is materialized by
// a backend trigger shortly after sign-up, not synchronously, so it may lag
// the session.
type Profile struct {
	bun.BaseModel    `bun:"table:profiles,alias:pro"`
	ID               uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	DisplayName      string     `bun:"display_name,notnull" json:"display_name,omitempty"`
	Role             *UserRole  `bun:"user_role" json:"user_role,omitempty"`
	Points           int        `bun:"points,notnull,default:0" json:"points"`
	SubmissionCount  int        `bun:"submission_count,notnull,default:0" json:"submission_count"`
	LastSubmissionAt *time.Time `bun:"last_submission_at,nullzero" json:"last_submission_at,omitempty"`
	Country          *string    `bun:"country" json:"country,omitempty"`
	State            *string    `bun:"state" json:"state,omitempty"`
	City             *string    `bun:"city" json:"city,omitempty"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// HasRole compares the nullable role against the given one.
func (p *Profile) HasRole(role UserRole) bool {
	if p == nil || p.Role == nil {
		return false
	}
	return *p.Role == role
}

// Clone returns a deep copy so published snapshots never alias engine state.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}

	out := *p
	out.Role = clonePtr(p.Role)
	out.Country = clonePtr(p.Country)
	out.State = clonePtr(p.State)
	out.City = clonePtr(p.City)
	out.LastSubmissionAt = clonePtr(p.LastSubmissionAt)
	out.CreatedAt = clonePtr(p.CreatedAt)
	out.UpdatedAt = clonePtr(p.UpdatedAt)
	return &out
}

// Measurement is a single BRIX reading tied to a brand, store and location.
type Measurement struct {
	bun.BaseModel `bun:"table:measurements,alias:msr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	ProfileID     uuid.UUID  `bun:"profile_id,notnull,type:uuid" json:"profile_id,omitempty"`
	Profile       *Profile   `bun:"rel:belongs-to,join:profile_id=id" json:"profile,omitempty"`
	Crop          string     `bun:"crop,notnull" json:"crop,omitempty"`
	Variety       string     `bun:"variety" json:"variety,omitempty"`
	Brand         string     `bun:"brand" json:"brand,omitempty"`
	Store         string     `bun:"store" json:"store,omitempty"`
	Brix          float64    `bun:"brix,notnull" json:"brix"`
	Country       *string    `bun:"country" json:"country,omitempty"`
	State         *string    `bun:"state" json:"state,omitempty"`
	City          *string    `bun:"city" json:"city,omitempty"`
	PhotoURL      string     `bun:"photo_url" json:"photo_url,omitempty"`
	MeasuredAt    *time.Time `bun:"measured_at,nullzero" json:"measured_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
