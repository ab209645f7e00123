package capture

import (
	"context"
	"sync"
	"time"
)

// Constraints фиксированные параметры захвата локального аудио.
// Соответствуют обработке, которую обязан выполнять бэкенд устройства
// до выдачи кадров.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints возвращает стандартный набор: все виды обработки включены
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device источник кадров локального аудио. Кадры должны быть
// уже закодированы в Opus с длительностью FrameDuration потока.
//
// Реализация обязана блокироваться в ReadFrame до готовности
// следующего кадра и уважать отмену контекста.
type Device interface {
	// ReadFrame возвращает следующий закодированный кадр
	ReadFrame(ctx context.Context) ([]byte, error)
	// Close освобождает устройство, должен быть идемпотентным
	Close() error
}

// DeviceOpener открывает устройство захвата под заданные ограничения.
// Ошибки открытия транслируются в MediaError кодами
// ErrorCodeDeviceUnavailable / ErrorCodeDeviceAccessDenied.
type DeviceOpener func(constraints Constraints) (Device, error)

// silentOpusFrame минимальный валидный Opus кадр тишины
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// ToneDevice встроенное устройство, выдающее кадры тишины с реальной
// частотой кадров. Используется в демонстрациях и loopback тестах,
// где настоящий микрофон недоступен.
type ToneDevice struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// NewToneDevice создает устройство тишины с заданной длительностью кадра
func NewToneDevice(frameDuration time.Duration) *ToneDevice {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	return &ToneDevice{
		ticker: time.NewTicker(frameDuration),
		done:   make(chan struct{}),
	}
}

// ToneOpener DeviceOpener поверх ToneDevice c кадром 20ms
func ToneOpener(Constraints) (Device, error) {
	return NewToneDevice(20 * time.Millisecond), nil
}

func (d *ToneDevice) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, context.Canceled
	case <-d.ticker.C:
		frame := make([]byte, len(silentOpusFrame))
		copy(frame, silentOpusFrame)
		return frame, nil
	}
}

func (d *ToneDevice) Close() error {
	d.once.Do(func() {
		d.ticker.Stop()
		close(d.done)
	})
	return nil
}
