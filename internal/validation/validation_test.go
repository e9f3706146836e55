package validation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIsValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"400", true},
		{"0.01", true},
		{"999.99", true},
		{"10.10", true},
		{"0", false},
		{"-1", false},
		{"0.001", false},
		{"1.005", false},
		{"999999999999.99", true},
		{"1000000000000", false},
		{"1e15", false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidAmount(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestParseGoalID(t *testing.T) {
	id := uuid.New()

	got, ok := ParseGoalID(" " + id.String() + " ")
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = ParseGoalID("42")
	assert.False(t, ok)

	_, ok = ParseGoalID(uuid.Nil.String())
	assert.False(t, ok)
}

func TestParseGoalIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	ids, ok := ParseGoalIDs([]string{a.String(), b.String()})
	assert.True(t, ok)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	_, ok = ParseGoalIDs(nil)
	assert.False(t, ok)

	_, ok = ParseGoalIDs([]string{a.String(), "bad"})
	assert.False(t, ok)
}

func TestParseEndDate(t *testing.T) {
	d, ok := ParseEndDate("")
	assert.True(t, ok)
	assert.Nil(t, d)

	d, ok = ParseEndDate("2026-12-31")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), *d)

	d, ok = ParseEndDate("2026-12-31T10:00:00+03:00")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 12, 31, 7, 0, 0, 0, time.UTC), *d)

	_, ok = ParseEndDate("31.12.2026")
	assert.False(t, ok)
}
