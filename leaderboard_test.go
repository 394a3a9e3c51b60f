package brix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRankedProfile(t *testing.T, repo Profiles, name, country, city string, points, submissions int) *Profile {
	t.Helper()

	profile := seedProfile(t, repo, name)

	at := time.Now().UTC()
	for i := 0; i < submissions; i++ {
		require.NoError(t, repo.TrackSubmission(context.Background(), profile.ID, points/submissions, at))
	}

	if country != "" {
		require.NoError(t, repo.WriteProfileFields(context.Background(), profile.ID, map[string]any{
			"country": country,
			"city":    city,
		}))
	}

	return profile
}

func TestLeaderboardGlobalRanking(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProfilesRepository(db)
	board := NewLeaderboard(db)
	ctx := context.Background()

	seedRankedProfile(t, repo, "Ana", "PT", "Porto", 30, 3)
	seedRankedProfile(t, repo, "Rui", "PT", "Lisboa", 50, 5)
	seedRankedProfile(t, repo, "Eva", "ES", "Madrid", 10, 1)

	entries, err := board.Top(ctx, LeaderboardScope{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Rui", entries[0].DisplayName)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 50, entries[0].Points)
	assert.Equal(t, "Ana", entries[1].DisplayName)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, "Eva", entries[2].DisplayName)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestLeaderboardScopedRanking(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProfilesRepository(db)
	board := NewLeaderboard(db)
	ctx := context.Background()

	seedRankedProfile(t, repo, "Ana", "PT", "Porto", 30, 3)
	seedRankedProfile(t, repo, "Rui", "PT", "Lisboa", 50, 5)
	seedRankedProfile(t, repo, "Eva", "ES", "Madrid", 90, 9)

	entries, err := board.Top(ctx, LeaderboardScope{Country: "PT"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Rui", entries[0].DisplayName)

	entries, err = board.Top(ctx, LeaderboardScope{Country: "PT", City: "Porto"}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ana", entries[0].DisplayName)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestLeaderboardLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProfilesRepository(db)
	board := NewLeaderboard(db)

	seedRankedProfile(t, repo, "Ana", "", "", 30, 3)
	seedRankedProfile(t, repo, "Rui", "", "", 50, 5)

	entries, err := board.Top(context.Background(), LeaderboardScope{}, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Rui", entries[0].DisplayName)
}
