package model

import (
	"fmt"
	"strings"
)

// GoalStatus описывает состояние цели накопления. Нулевое значение недопустимо,
// получить статус можно только через константы или ParseGoalStatus.
type GoalStatus uint8

const (
	goalStatusInvalid GoalStatus = iota
	GoalStatusDraft
	GoalStatusActive
	GoalStatusCompleted
	GoalStatusRefunded
	GoalStatusCancelled
)

var goalStatusNames = map[GoalStatus]string{
	GoalStatusDraft:     "DRAFT",
	GoalStatusActive:    "ACTIVE",
	GoalStatusCompleted: "COMPLETED",
	GoalStatusRefunded:  "REFUNDED",
	GoalStatusCancelled: "CANCELLED",
}

// ParseGoalStatus преобразует строковое представление в статус.
func ParseGoalStatus(s string) (GoalStatus, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for st, name := range goalStatusNames {
		if name == upper {
			return st, nil
		}
	}
	return goalStatusInvalid, fmt.Errorf("%w: unknown goal status %q", ErrValidation, s)
}

// String возвращает имя статуса в том виде, в котором оно хранится в БД.
func (s GoalStatus) String() string {
	if name, ok := goalStatusNames[s]; ok {
		return name
	}
	return "INVALID"
}

// Valid сообщает, является ли значение одним из известных статусов.
func (s GoalStatus) Valid() bool {
	_, ok := goalStatusNames[s]
	return ok
}

// MarshalText реализует encoding.TextMarshaler.
func (s GoalStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: invalid goal status", ErrValidation)
	}
	return []byte(s.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (s *GoalStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseGoalStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s GoalStatus) IsTerminal() bool {
	return s == GoalStatusCompleted || s == GoalStatusRefunded || s == GoalStatusCancelled
}

// AcceptsDeposits сообщает, можно ли зачислять средства на цель.
func (s GoalStatus) AcceptsDeposits() bool {
	return s == GoalStatusActive
}

// Activate переводит черновик в активную цель.
func (s GoalStatus) Activate() (GoalStatus, error) {
	return s.transition(GoalStatusDraft, GoalStatusActive)
}

// Complete фиксирует достижение цели.
func (s GoalStatus) Complete() (GoalStatus, error) {
	return s.transition(GoalStatusActive, GoalStatusCompleted)
}

// Refund отменяет цель, на которой уже есть средства.
func (s GoalStatus) Refund() (GoalStatus, error) {
	return s.transition(GoalStatusActive, GoalStatusRefunded)
}

func (s GoalStatus) transition(from, to GoalStatus) (GoalStatus, error) {
	if s != from {
		return s, fmt.Errorf("%w: goal status %s cannot become %s", ErrConflict, s, to)
	}
	return to, nil
}
