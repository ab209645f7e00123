// Package capture реализует получение локального аудио потока для
// голосового вызова. Захват устройства абстрагирован интерфейсом Device,
// что позволяет подключать платформенные бэкенды и тестовые источники.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Config параметры Acquirer
type Config struct {
	// Constraints ограничения захвата, по умолчанию DefaultConstraints
	Constraints Constraints

	// Opener открывает устройство захвата, по умолчанию ToneOpener
	Opener DeviceOpener

	// FrameDuration длительность одного кадра (по умолчанию 20ms)
	FrameDuration time.Duration

	// Logger для диагностики, по умолчанию slog.Default
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Constraints:   DefaultConstraints(),
		Opener:        ToneOpener,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Acquirer получает локальный аудио поток под фиксированные ограничения
// захвата. Каждый Acquire открывает устройство заново и создает свежий
// Stream; владение устройством переходит потоку.
type Acquirer struct {
	config Config
	logger *slog.Logger
}

// NewAcquirer создает новый Acquirer
func NewAcquirer(config Config) *Acquirer {
	if config.Opener == nil {
		config.Opener = ToneOpener
	}
	if config.FrameDuration <= 0 {
		config.FrameDuration = 20 * time.Millisecond
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		config: config,
		logger: logger.With("component", "capture"),
	}
}

// Acquire открывает устройство и запускает накачку кадров в исходящий
// opus трек. Возвращает MediaError, если устройство недоступно или
// доступ запрещен.
func (a *Acquirer) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewMediaError(ErrorCodeDeviceUnavailable, "захват отменен", err)
	}

	device, err := a.config.Opener(a.config.Constraints)
	if err != nil {
		var mediaErr *MediaError
		if errors.As(err, &mediaErr) {
			return nil, err
		}
		return nil, NewMediaError(ErrorCodeDeviceUnavailable, "устройство захвата недоступно", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		"audio",
		"voice_call",
	)
	if err != nil {
		_ = device.Close()
		return nil, NewMediaError(ErrorCodeDeviceUnavailable, "не удалось создать локальный трек", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream := &Stream{
		id:            uuid.NewString(),
		constraints:   a.config.Constraints,
		frameDuration: a.config.FrameDuration,
		device:        device,
		track:         track,
		logger:        a.logger,
		sinks:         make(map[int]Sink),
		ctx:           streamCtx,
		cancel:        cancel,
	}

	stream.wg.Add(1)
	go stream.pump()

	a.logger.Info("локальный поток получен",
		"stream_id", stream.id,
		"echo_cancellation", a.config.Constraints.EchoCancellation,
		"noise_suppression", a.config.Constraints.NoiseSuppression,
		"auto_gain", a.config.Constraints.AutoGainControl,
	)
	return stream, nil
}
