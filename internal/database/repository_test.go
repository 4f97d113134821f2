package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

const testUserID = "7f8c3a8e-2b9d-4f61-9a77-0c2d5e8f1b34"

func TestIncrementStatement(t *testing.T) {
	q, err := incrementStatement(usage.CounterConnections)
	require.NoError(t, err)
	assert.Contains(t, q, "connections_today = connections_today + 1")
	assert.Contains(t, q, "total_connections = total_connections + 1")

	q, err = incrementStatement(usage.CounterMessages)
	require.NoError(t, err)
	assert.Contains(t, q, "messages_today = messages_today + 1")
	assert.NotContains(t, q, "total_connections")

	_, err = incrementStatement(usage.Counter("likes; DROP TABLE licenses"))
	assert.ErrorIs(t, err, usage.ErrUnknownCounter)
}

func TestEveryCounterHasAColumn(t *testing.T) {
	for _, c := range usage.Counters() {
		_, ok := usageColumns[c]
		assert.True(t, ok, "counter %s has no column", c)
	}
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(ErrDuplicate))
	assert.True(t, IsDuplicate(fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolation})))
	assert.False(t, IsDuplicate(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicate(errors.New("boom")))
	assert.False(t, IsDuplicate(nil))
}

func TestValidID(t *testing.T) {
	assert.True(t, validID(testUserID))
	assert.False(t, validID("missing"))
	assert.False(t, validID(""))
}

func TestValidateLimits(t *testing.T) {
	ok := &models.DailyLimits{UserID: testUserID, MaxConnections: 20, DailyReset: time.Now()}
	require.NoError(t, validateLimits(ok))

	neg := *ok
	neg.MaxSearches = -1
	assert.ErrorIs(t, validateLimits(&neg), ErrInvalidData)

	noReset := *ok
	noReset.DailyReset = time.Time{}
	assert.ErrorIs(t, validateLimits(&noReset), ErrInvalidData)

	badID := *ok
	badID.UserID = "user-1"
	assert.ErrorIs(t, validateLimits(&badID), ErrInvalidData)
}

func TestValidateWarmup(t *testing.T) {
	ws := &models.WarmupState{UserID: testUserID, Phase: models.WarmupAuto, StartDate: time.Now()}
	require.NoError(t, validateWarmup(ws))

	ws.Phase = "week9"
	assert.ErrorIs(t, validateWarmup(ws), ErrInvalidData)

	ws.Phase = models.WarmupWeek2
	ws.StartDate = time.Time{}
	assert.ErrorIs(t, validateWarmup(ws), ErrInvalidData)
}

func TestEncodeSchedule(t *testing.T) {
	b, err := encodeSchedule(&models.WarmupState{})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = encodeSchedule(&models.WarmupState{Schedule: map[models.WarmupPhase]models.WarmupCaps{
		models.WarmupWeek1: {DailyConnections: 5, WeeklyConnections: 25, DailyMessages: 10},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"week1":{"daily_connections":5,"weekly_connections":25,"daily_messages":10}}`, string(b))
}

func TestValidBotState(t *testing.T) {
	assert.True(t, validBotState(models.BotPaused))
	assert.False(t, validBotState("crashed"))
}
