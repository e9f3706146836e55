package model

import "errors"

// Виды ошибок доменного уровня. Конкретные ошибки оборачивают их через fmt.Errorf("%w: ...").
var (
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation error")
	// ErrNotFound возвращается, если цель, товар или депозит не найдены.
	ErrNotFound = errors.New("not found")
	// ErrConflict возвращается, если операция нарушает инвариант состояния цели.
	ErrConflict = errors.New("conflict")
	// ErrForbidden возвращается, если пользователь не владеет ресурсом.
	ErrForbidden = errors.New("not authorized")
	// ErrTransient возвращается при временном сбое хранилища или внешней системы; операцию можно повторить.
	ErrTransient = errors.New("transient failure")
	// ErrGateway возвращается, если платёжная система отклонила запрос.
	ErrGateway = errors.New("payment gateway error")
)

// IsDomainError сообщает, относится ли ошибка к одному из известных видов.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrGateway)
}
