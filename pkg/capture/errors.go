package capture

import "fmt"

// MediaErrorCode определяет типизированные коды ошибок захвата аудио
type MediaErrorCode int

const (
	// Устройство захвата отсутствует или занято другим процессом
	ErrorCodeDeviceUnavailable MediaErrorCode = iota + 1000
	// Доступ к устройству запрещен (permission denied)
	ErrorCodeDeviceAccessDenied
	// Операция над уже освобожденным потоком
	ErrorCodeStreamReleased
)

// String возвращает строковое представление кода ошибки
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeDeviceUnavailable:
		return "DeviceUnavailable"
	case ErrorCodeDeviceAccessDenied:
		return "DeviceAccessDenied"
	case ErrorCodeStreamReleased:
		return "StreamReleased"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError ошибка слоя захвата аудио.
// Поддерживает errors.Is по коду и errors.Unwrap для обернутых ошибок.
type MediaError struct {
	Code     MediaErrorCode
	Message  string
	StreamID string
	Wrapped  error
}

func (e *MediaError) Error() string {
	if e.StreamID != "" {
		return fmt.Sprintf("[захват:%s] поток %s: %s", e.Code, e.StreamID, e.Message)
	}
	return fmt.Sprintf("[захват:%s] %s", e.Code, e.Message)
}

func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *MediaError) Is(target error) bool {
	if t, ok := target.(*MediaError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewMediaError создает ошибку захвата с указанным кодом
func NewMediaError(code MediaErrorCode, message string, wrapped error) *MediaError {
	return &MediaError{Code: code, Message: message, Wrapped: wrapped}
}
