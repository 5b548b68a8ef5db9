package domain_test

import (
	"testing"
	"time"

	"github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConflict(t *testing.T) *domain.SyncConflict {
	t.Helper()
	apptID := uuid.New()
	connID := uuid.New()
	local := domain.ConflictSide{
		AppointmentID: &apptID,
		Range:         utcRange(t, 14, 15),
		Summary:       "Session",
		ModifiedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	external := domain.ConflictSide{
		ConnectionID: &connID,
		EventID:      "evt_9",
		Range:        utcRange(t, 14, 16),
		Summary:      "External hold",
		ModifiedAt:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	return domain.NewSyncConflict(uuid.New(), domain.KindOverlap, local, external)
}

func TestNewSyncConflict_DefaultsToManual(t *testing.T) {
	c := sampleConflict(t)

	assert.Equal(t, domain.StrategyManual, c.Strategy())
	assert.False(t, c.Resolved())
	assert.Nil(t, c.ResolvedAt())
	assert.Nil(t, c.Winner(), "manual strategy has no automatic winner")
}

func TestSyncConflict_Winner(t *testing.T) {
	c := sampleConflict(t)

	require.NoError(t, c.SetStrategy(domain.StrategyLocalWins))
	winner := c.Winner()
	require.NotNil(t, winner)
	assert.NotNil(t, winner.AppointmentID)

	require.NoError(t, c.SetStrategy(domain.StrategyExternalWins))
	winner = c.Winner()
	require.NotNil(t, winner)
	assert.Equal(t, "evt_9", winner.EventID)

	// External side was modified later, so newest-wins picks it.
	require.NoError(t, c.SetStrategy(domain.StrategyNewestWins))
	winner = c.Winner()
	require.NotNil(t, winner)
	assert.Equal(t, "evt_9", winner.EventID)
}

func TestSyncConflict_SetStrategy_Validation(t *testing.T) {
	c := sampleConflict(t)

	err := c.SetStrategy(domain.ResolutionStrategy("coin_flip"))
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	c.Resolve()
	err = c.SetStrategy(domain.StrategyLocalWins)
	assert.ErrorIs(t, err, domain.ErrConflictResolved)
}

func TestSyncConflict_Resolve(t *testing.T) {
	c := sampleConflict(t)

	c.Resolve()

	assert.True(t, c.Resolved())
	require.NotNil(t, c.ResolvedAt())

	first := *c.ResolvedAt()
	c.Resolve()
	assert.Equal(t, first, *c.ResolvedAt(), "resolving twice keeps the first timestamp")
}
