package peer

import "fmt"

// TransportErrorCode определяет типизированные коды ошибок транспорта
type TransportErrorCode int

const (
	// Платформа не смогла выделить транспорт
	ErrorCodeTransportInit TransportErrorCode = iota + 2000
	// Ошибка согласования описаний сессии (offer/answer/remote description)
	ErrorCodeNegotiation
	// Операция над уже закрытым транспортом
	ErrorCodeTransportClosed
	// Фатальный переход соединения в состояние failed после установления
	ErrorCodeConnectionFailed
)

// String возвращает строковое представление кода ошибки
func (code TransportErrorCode) String() string {
	switch code {
	case ErrorCodeTransportInit:
		return "TransportInit"
	case ErrorCodeNegotiation:
		return "Negotiation"
	case ErrorCodeTransportClosed:
		return "TransportClosed"
	case ErrorCodeConnectionFailed:
		return "ConnectionFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// TransportError ошибка транспортного слоя.
// Поддерживает errors.Is по коду и errors.Unwrap для обернутых ошибок.
type TransportError struct {
	Code    TransportErrorCode
	Message string
	Wrapped error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("[транспорт:%s] %s", e.Code, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *TransportError) Is(target error) bool {
	if t, ok := target.(*TransportError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewTransportError создает ошибку транспорта с указанным кодом
func NewTransportError(code TransportErrorCode, message string, wrapped error) *TransportError {
	return &TransportError{Code: code, Message: message, Wrapped: wrapped}
}
