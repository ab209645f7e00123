package call

import "fmt"

// CallErrorCode определяет типизированные коды ошибок сессии вызова
type CallErrorCode int

const (
	// startCall при уже идущем вызове (connecting или active)
	ErrorCodeCallInProgress CallErrorCode = iota + 4000
	// Операция, допустимая только в активном вызове
	ErrorCodeCallNotActive
	// Операция над закрытым менеджером сессии
	ErrorCodeSessionClosed
)

// String возвращает строковое представление кода ошибки
func (code CallErrorCode) String() string {
	switch code {
	case ErrorCodeCallInProgress:
		return "CallInProgress"
	case ErrorCodeCallNotActive:
		return "CallNotActive"
	case ErrorCodeSessionClosed:
		return "SessionClosed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// CallError ошибка уровня сессии вызова.
// Ошибки нижних слоев (захват, транспорт, запись) не оборачиваются в
// CallError, а отдаются вызывающему как есть: их типы и коды являются
// частью контракта.
type CallError struct {
	Code    CallErrorCode
	Message string
	Wrapped error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("[вызов:%s] %s", e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *CallError) Is(target error) bool {
	if t, ok := target.(*CallError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewCallError создает ошибку сессии с указанным кодом
func NewCallError(code CallErrorCode, message string, wrapped error) *CallError {
	return &CallError{Code: code, Message: message, Wrapped: wrapped}
}
