package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGoalStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    GoalStatus
		wantErr bool
	}{
		{in: "DRAFT", want: GoalStatusDraft},
		{in: "active", want: GoalStatusActive},
		{in: " COMPLETED ", want: GoalStatusCompleted},
		{in: "REFUNDED", want: GoalStatusRefunded},
		{in: "CANCELLED", want: GoalStatusCancelled},
		{in: "SAVED", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseGoalStatus(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoalStatusTransitions(t *testing.T) {
	next, err := GoalStatusDraft.Activate()
	require.NoError(t, err)
	assert.Equal(t, GoalStatusActive, next)

	next, err = GoalStatusActive.Complete()
	require.NoError(t, err)
	assert.Equal(t, GoalStatusCompleted, next)

	next, err = GoalStatusActive.Refund()
	require.NoError(t, err)
	assert.Equal(t, GoalStatusRefunded, next)

	illegal := []func() (GoalStatus, error){
		GoalStatusDraft.Complete,
		GoalStatusDraft.Refund,
		GoalStatusActive.Activate,
		GoalStatusCompleted.Refund,
		GoalStatusCompleted.Complete,
		GoalStatusRefunded.Activate,
		GoalStatusCancelled.Activate,
	}
	for _, fn := range illegal {
		_, err := fn()
		assert.ErrorIs(t, err, ErrConflict)
	}
}

func TestGoalStatusJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Status GoalStatus `json:"status"`
	}{Status: GoalStatusActive})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ACTIVE"}`, string(data))

	var decoded struct {
		Status GoalStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"draft"}`), &decoded))
	assert.Equal(t, GoalStatusDraft, decoded.Status)

	var zero GoalStatus
	assert.False(t, zero.Valid())
	_, err = zero.MarshalText()
	assert.Error(t, err)
}

func TestGoalApplySettlement(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	g := Goal{Status: GoalStatusActive, TargetAmount: decimal.NewFromInt(1000)}
	completed, err := g.ApplySettlement(decimal.RequireFromString("999.99"), now)
	require.NoError(t, err)
	assert.False(t, completed)
	assert.Equal(t, GoalStatusActive, g.Status)
	assert.Nil(t, g.CompletedAt)

	completed, err = g.ApplySettlement(decimal.NewFromInt(1000), now)
	require.NoError(t, err)
	assert.True(t, completed)
	assert.Equal(t, GoalStatusCompleted, g.Status)
	require.NotNil(t, g.CompletedAt)
	assert.Equal(t, now, *g.CompletedAt)
}

func TestGoalDeletable(t *testing.T) {
	assert.True(t, (&Goal{Status: GoalStatusDraft}).Deletable())
	assert.True(t, (&Goal{Status: GoalStatusActive, Saved: decimal.Zero}).Deletable())
	assert.False(t, (&Goal{Status: GoalStatusActive, Saved: decimal.NewFromInt(1)}).Deletable())
}

func TestPriceLockExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&PriceLock{}).Expired(now))
	assert.True(t, (&PriceLock{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&PriceLock{ExpiresAt: &future}).Expired(now))
}
