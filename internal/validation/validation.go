// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAmount — наибольшая сумма, которую вмещает денежный столбец NUMERIC(14, 2).
var MaxAmount = decimal.RequireFromString("999999999999.99")

// IsValidAmount проверяет, что сумма положительна, указана не точнее копейки
// и помещается в хранилище.
func IsValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(2)) && amount.LessThanOrEqual(MaxAmount)
}

// ParseGoalID разбирает идентификатор цели.
func ParseGoalID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// ParseGoalIDs разбирает список идентификаторов целей. Пустой список недопустим.
func ParseGoalIDs(raw []string) ([]uuid.UUID, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, ok := ParseGoalID(s)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// ParseEndDate разбирает дату окончания цели в формате RFC 3339 или YYYY-MM-DD.
// Дата без времени означает конец этого дня по UTC.
func ParseEndDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		t = t.Add(24*time.Hour - time.Second)
		return &t, true
	}
	return nil, false
}
