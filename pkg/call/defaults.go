package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/arzzra/voice_call/internal/clock"
	"github.com/arzzra/voice_call/pkg/capture"
	"github.com/arzzra/voice_call/pkg/peer"
	"github.com/arzzra/voice_call/pkg/recorder"
)

// DefaultSessionConfig параметры продакшн сборки сессии
type DefaultSessionConfig struct {
	// Capture конфигурация слоя захвата
	Capture capture.Config

	// ICEServers список STUN/TURN серверов для транспорта
	ICEServers []string

	// StatsInterval период опроса статистики (по умолчанию 1s)
	StatsInterval time.Duration

	// Logger для всех слоев, по умолчанию slog.Default
	Logger *slog.Logger

	// Metrics сборщик метрик, nil означает без метрик
	Metrics *Metrics
}

// NewDefaultSession собирает сессию на продакшн слоях: захват из
// pkg/capture, транспорт из pkg/peer, рекордер из pkg/recorder.
func NewDefaultSession(config DefaultSessionConfig) (*Session, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Second
	}
	if config.Capture.Logger == nil {
		config.Capture.Logger = logger
	}

	acquirer := capture.NewAcquirer(config.Capture)
	peerConfig := peer.Config{ICEServers: config.ICEServers, Logger: logger}
	statsInterval := config.StatsInterval

	return NewSession(Config{
		Acquirer: acquirerAdapter{inner: acquirer},
		NewTransport: func(callbacks peer.Callbacks) Transport {
			return peer.NewNegotiator(peerConfig, callbacks)
		},
		NewMonitor: func(source peer.Source, onSnapshot func(peer.Snapshot)) StatsMonitor {
			return peer.NewMonitor(peer.MonitorConfig{
				Source:     source,
				Interval:   statsInterval,
				OnSnapshot: onSnapshot,
				Clock:      clock.New(),
				Logger:     logger,
			})
		},
		Recorder:      recorder.New(recorder.Config{Logger: logger}),
		StatsInterval: statsInterval,
		Logger:        logger,
		Metrics:       config.Metrics,
	})
}

// acquirerAdapter приводит *capture.Acquirer к интерфейсу Acquirer:
// конкретный *capture.Stream возвращается как LocalStream
type acquirerAdapter struct {
	inner *capture.Acquirer
}

func (a acquirerAdapter) Acquire(ctx context.Context) (LocalStream, error) {
	stream, err := a.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
