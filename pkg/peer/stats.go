package peer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/arzzra/voice_call/internal/clock"
)

// Source источник отчетов статистики транспорта.
// Negotiator реализует его; тесты подставляют фабрикуемые отчеты.
type Source interface {
	Stats() webrtc.StatsReport
}

// Snapshot неизменяемый срез статистики активного вызова.
// Счетчики байт берутся из аудио потоков, jitter из входящего аудио,
// RTT из успешной пары кандидатов.
type Snapshot struct {
	BytesSent     uint64
	BytesReceived uint64
	Jitter        time.Duration
	RoundTripTime time.Duration
	At            time.Time
}

// MonitorConfig параметры StatsMonitor
type MonitorConfig struct {
	// Source источник отчетов (обязателен)
	Source Source

	// Interval период опроса (по умолчанию 1s)
	Interval time.Duration

	// OnSnapshot получатель срезов, вызывается из горутины монитора
	OnSnapshot func(Snapshot)

	// Clock источник времени (по умолчанию системные часы)
	Clock clock.Clock

	// Logger для диагностики, по умолчанию slog.Default
	Logger *slog.Logger
}

// Monitor периодически опрашивает транспорт и сводит отчет к Snapshot.
// Жизненный цикл: NewMonitor → Start → Stop. После возврата из Stop
// эмиссий гарантированно больше нет; повторные Start/Stop безопасны.
type Monitor struct {
	config MonitorConfig
	logger *slog.Logger

	mu      sync.Mutex
	ticker  clock.Ticker
	stop    chan struct{}
	started bool
	wg      sync.WaitGroup
}

// NewMonitor создает монитор статистики
func NewMonitor(config MonitorConfig) *Monitor {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		config: config,
		logger: logger.With("component", "stats"),
	}
}

// Start запускает периодический опрос. Повторный Start без Stop
// игнорируется.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.ticker = m.config.Clock.NewTicker(m.config.Interval)
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.loop(m.ticker, m.stop)
	m.logger.Debug("мониторинг статистики запущен", "interval", m.config.Interval)
}

// Stop останавливает опрос и дожидается выхода горутины: после
// возврата из Stop новых срезов не будет. Идемпотентен.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.started {
		m.started = false
		close(m.stop)
		m.ticker.Stop()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop(ticker clock.Ticker, stop chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			snapshot := Reduce(m.config.Source.Stats(), m.config.Clock.Now())
			if m.config.OnSnapshot != nil {
				m.config.OnSnapshot(snapshot)
			}
		}
	}
}

// Reduce сводит отчет транспорта к одному Snapshot: входящее аудио
// дает bytesReceived и jitter, исходящее аудио дает bytesSent,
// успешная пара кандидатов дает текущий RTT.
func Reduce(report webrtc.StatsReport, at time.Time) Snapshot {
	snapshot := Snapshot{At: at}

	for _, entry := range report {
		switch stats := entry.(type) {
		case webrtc.InboundRTPStreamStats:
			if stats.Kind != "audio" {
				continue
			}
			snapshot.BytesReceived += stats.BytesReceived
			jitter := time.Duration(stats.Jitter * float64(time.Second))
			if jitter > snapshot.Jitter {
				snapshot.Jitter = jitter
			}
		case webrtc.OutboundRTPStreamStats:
			if stats.Kind != "audio" {
				continue
			}
			snapshot.BytesSent += stats.BytesSent
		case webrtc.ICECandidatePairStats:
			if stats.State != webrtc.StatsICECandidatePairStateSucceeded {
				continue
			}
			rtt := time.Duration(stats.CurrentRoundTripTime * float64(time.Second))
			if rtt > 0 {
				snapshot.RoundTripTime = rtt
			}
		}
	}
	return snapshot
}
