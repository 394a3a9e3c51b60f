package brix

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LeaderboardScope narrows a ranking to a location. Zero value means global;
// each populated field narrows the cascade one level (country, then state,
// then city).
type LeaderboardScope struct {
	Country string
	State   string
	City    string
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank            int       `bun:"rank" json:"rank"`
	ProfileID       uuid.UUID `bun:"profile_id" json:"profile_id"`
	DisplayName     string    `bun:"display_name" json:"display_name"`
	Points          int       `bun:"points" json:"points"`
	SubmissionCount int       `bun:"submission_count" json:"submission_count"`
}

// Leaderboard ranks profiles by points within a cascading location scope.
// Read-only; display lives elsewhere.
type Leaderboard struct {
	db *bun.DB
}

func NewLeaderboard(db *bun.DB) *Leaderboard {
	return &Leaderboard{db: db}
}

// Top returns the first limit entries for the scope, ordered by points with
// submission count as the tie breaker.
func (l *Leaderboard) Top(ctx context.Context, scope LeaderboardScope, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	q := l.db.NewSelect().
		Model((*Profile)(nil)).
		ColumnExpr("?TableAlias.id AS profile_id").
		ColumnExpr("?TableAlias.display_name").
		ColumnExpr("?TableAlias.points").
		ColumnExpr("?TableAlias.submission_count").
		OrderExpr("?TableAlias.points DESC, ?TableAlias.submission_count DESC").
		Limit(limit)

	if scope.Country != "" {
		q = q.Where("?TableAlias.country = ?", scope.Country)
	}
	if scope.State != "" {
		q = q.Where("?TableAlias.state = ?", scope.State)
	}
	if scope.City != "" {
		q = q.Where("?TableAlias.city = ?", scope.City)
	}

	var entries []LeaderboardEntry
	if err := q.Scan(ctx, &entries); err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}
