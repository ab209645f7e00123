package recorder

import "fmt"

// RecorderErrorCode определяет типизированные коды ошибок записи
type RecorderErrorCode int

const (
	// Start без потока-источника
	ErrorCodeNoStream RecorderErrorCode = iota + 3000
	// Start при уже идущей записи
	ErrorCodeAlreadyRecording
	// Stop без начатой записи
	ErrorCodeNotRecording
	// Ошибка контейнера (инициализация или финализация OGG)
	ErrorCodeContainerFailed
)

// String возвращает строковое представление кода ошибки
func (code RecorderErrorCode) String() string {
	switch code {
	case ErrorCodeNoStream:
		return "NoStream"
	case ErrorCodeAlreadyRecording:
		return "AlreadyRecording"
	case ErrorCodeNotRecording:
		return "NotRecording"
	case ErrorCodeContainerFailed:
		return "ContainerFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// RecorderError ошибка рекордера.
// Поддерживает errors.Is по коду и errors.Unwrap для обернутых ошибок.
type RecorderError struct {
	Code    RecorderErrorCode
	Message string
	Wrapped error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("[запись:%s] %s", e.Code, e.Message)
}

func (e *RecorderError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *RecorderError) Is(target error) bool {
	if t, ok := target.(*RecorderError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewRecorderError создает ошибку рекордера с указанным кодом
func NewRecorderError(code RecorderErrorCode, message string, wrapped error) *RecorderError {
	return &RecorderError{Code: code, Message: message, Wrapped: wrapped}
}
