package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"

	"github.com/arzzra/voice_call/internal/clock"
	"github.com/arzzra/voice_call/pkg/peer"
	"github.com/arzzra/voice_call/pkg/recorder"
)

// State состояние сессии вызова
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
)

// События машины состояний
const (
	eventStart           = "start"
	eventRemoteStream    = "remote_stream"
	eventHangup          = "hangup"
	eventTransportFailed = "transport_failed"
	eventReset           = "reset"
)

// newCallFSM собирает машину состояний вызова.
// ended транзитное состояние: каждый teardown немедленно доводит
// машину до idle событием reset.
func newCallFSM() *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventRemoteStream, Src: []string{string(StateConnecting)}, Dst: string(StateActive)},
			{Name: eventHangup, Src: []string{string(StateConnecting), string(StateActive)}, Dst: string(StateEnded)},
			{Name: eventTransportFailed, Src: []string{string(StateConnecting), string(StateActive)}, Dst: string(StateEnded)},
			{Name: eventReset, Src: []string{string(StateEnded)}, Dst: string(StateIdle)},
		}, nil,
	)
}

// Config параметры Session
type Config struct {
	// Acquirer источник локального потока (обязателен, см. NewSession)
	Acquirer Acquirer

	// NewTransport фабрика транспорта попытки вызова
	NewTransport TransportFactory

	// NewMonitor фабрика монитора статистики
	NewMonitor MonitorFactory

	// Recorder рекордер локального потока
	Recorder Recorder

	// StatsInterval период опроса статистики (по умолчанию 1s)
	StatsInterval time.Duration

	// EventQueueSize размер очереди доставки событий (по умолчанию 256)
	EventQueueSize int

	// Clock источник времени (по умолчанию системные часы)
	Clock clock.Clock

	// Logger для диагностики, по умолчанию slog.Default
	Logger *slog.Logger

	// Metrics сборщик метрик, nil означает без метрик
	Metrics *Metrics
}

// Session менеджер сессии голосового вызова: в каждый момент не более
// одной попытки вызова в состоянии connecting/active. Попытка
// конструируется заново на каждый StartCall и уничтожается целиком при
// teardown; устаревшие эмиссии фоновых задач отбрасываются по номеру
// поколения.
//
// Session потокобезопасен.
type Session struct {
	config     Config
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *Metrics
	dispatcher *dispatcher

	// generation номер текущей попытки; инкремент при каждом teardown.
	// Фоновые задачи сверяют свое поколение перед каждым действием.
	generation atomic.Uint64

	// durationSeconds длительность активного вызова; атомарна, так как
	// инкрементируется горутиной счетчика без захвата mu
	durationSeconds atomic.Int64

	// lastSnapshot последний срез статистики; атомарен по той же причине
	lastSnapshot atomic.Pointer[peer.Snapshot]

	mu          sync.Mutex
	fsm         *fsm.FSM
	attemptID   string
	localStream LocalStream
	transport   Transport
	monitor     StatsMonitor
	remote      *peer.RemoteStream
	startedAt   time.Time
	lastErr     error
	closed      bool

	durationStop chan struct{}
	durationWG   sync.WaitGroup
}

// NewSession создает менеджер сессии. Config.Acquirer, NewTransport и
// NewMonitor обязательны; продакшн сборку со слоями по умолчанию дает
// NewDefaultSession.
func NewSession(config Config) (*Session, error) {
	if config.Acquirer == nil {
		return nil, fmt.Errorf("config.Acquirer обязателен")
	}
	if config.NewTransport == nil {
		return nil, fmt.Errorf("config.NewTransport обязателен")
	}
	if config.NewMonitor == nil {
		return nil, fmt.Errorf("config.NewMonitor обязателен")
	}
	if config.Recorder == nil {
		config.Recorder = recorder.New(recorder.DefaultConfig())
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "call")

	return &Session{
		config:     config,
		logger:     logger,
		clock:      config.Clock,
		metrics:    config.Metrics,
		dispatcher: newDispatcher(config.EventQueueSize, logger),
		fsm:        newCallFSM(),
	}, nil
}

// Subscribe подписывает получателя событий сессии. События доставляются
// в порядке возникновения; повторная подписка явно заменяет предыдущую
// (старый канал закрывается). Возвращенная функция снимает подписку.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.dispatcher.subscribe(buffer)
}

// State возвращает текущее состояние сессии
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

// DurationSeconds возвращает длительность активного вызова в секундах
func (s *Session) DurationSeconds() int {
	return int(s.durationSeconds.Load())
}

// LastError возвращает ошибку последнего вызова; очищается следующим StartCall
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RemoteStream возвращает поток удаленного участника, nil вне active
func (s *Session) RemoteStream() *peer.RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// GetStats возвращает последний срез статистики, nil вне активного вызова
func (s *Session) GetStats() *peer.Snapshot {
	return s.lastSnapshot.Load()
}

// StartCall начинает новую попытку вызова: захват устройства, создание
// транспорта, взведение монитора статистики. Ошибки установки
// возвращаются синхронно; частично занятые ресурсы освобождаются,
// сессия возвращается в idle. Повторный StartCall при connecting/active
// отклоняется, не трогая идущий вызов.
func (s *Session) StartCall(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewCallError(ErrorCodeSessionClosed, "менеджер сессии закрыт", nil)
	}
	if current := State(s.fsm.Current()); current != StateIdle {
		return NewCallError(ErrorCodeCallInProgress,
			fmt.Sprintf("вызов уже в состоянии %s", current), nil)
	}

	s.lastErr = nil
	s.attemptID = uuid.NewString()
	generation := s.generation.Load()
	logger := s.logger.With("attempt_id", s.attemptID)

	_ = s.fsm.Event(ctx, eventStart)
	s.metrics.CallStarted()
	logger.Info("попытка вызова начата")

	stream, err := s.config.Acquirer.Acquire(ctx)
	if err != nil {
		logger.Error("не удалось получить локальный поток", "error", err)
		s.teardownLocked(err, false)
		return err
	}
	s.localStream = stream

	transport := s.config.NewTransport(peer.Callbacks{
		OnRemoteTrack: func(remote peer.RemoteStream) {
			s.handleRemoteStream(generation, remote)
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			s.handleConnectionState(generation, state)
		},
		OnLocalCandidate: func(candidate webrtc.ICECandidateInit) {
			s.handleLocalCandidate(generation, candidate)
		},
	})
	if err := transport.CreateTransport(ctx, stream.Track()); err != nil {
		logger.Error("не удалось создать транспорт", "error", err)
		s.teardownLocked(err, false)
		return err
	}
	s.transport = transport

	// Монитор взведен, но запустится только при переходе в active
	s.monitor = s.config.NewMonitor(transport, func(snapshot peer.Snapshot) {
		s.handleSnapshot(generation, snapshot)
	})

	logger.Info("вызов в состоянии connecting", "stream_id", stream.ID())
	return nil
}

// EndCall завершает вызов и освобождает все ресурсы попытки.
// Единственная точка отмены: к моменту возврата обе фоновые задачи
// остановлены. В состоянии idle ничего не делает.
func (s *Session) EndCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.fsm.Current()) == StateIdle {
		return
	}
	s.logger.Info("завершение вызова", "attempt_id", s.attemptID)
	s.teardownLocked(nil, false)
}

// StartRecording начинает запись локального потока.
// Допустим только в активном вызове.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.fsm.Current()) != StateActive {
		return NewCallError(ErrorCodeCallNotActive, "запись возможна только в активном вызове", nil)
	}
	return s.config.Recorder.Start(s.localStream)
}

// StopRecording завершает запись и передает готовый блоб вызывающему.
// Без начатой записи возвращает RecorderError, состояние вызова не меняется.
func (s *Session) StopRecording() (*recorder.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Recorder.Stop()
}

// CreateOffer примитив согласования для хостов с собственным сигналингом
func (s *Session) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	transport, err := s.currentTransport()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return transport.CreateOffer(ctx)
}

// CreateAnswer примитив согласования для хостов с собственным сигналингом
func (s *Session) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	transport, err := s.currentTransport()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return transport.CreateAnswer(ctx)
}

// SetRemoteDescription фиксирует описание сессии удаленной стороны
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	transport, err := s.currentTransport()
	if err != nil {
		return err
	}
	return transport.SetRemoteDescription(desc)
}

// AddRemoteCandidate принимает кандидата связности удаленной стороны
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	transport, err := s.currentTransport()
	if err != nil {
		return err
	}
	return transport.AddRemoteCandidate(candidate)
}

// Close закрывает менеджер: завершает идущий вызов и останавливает
// доставку событий. Идемпотентен.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if current := State(s.fsm.Current()); current == StateConnecting || current == StateActive {
		s.teardownLocked(nil, false)
	}
	s.mu.Unlock()

	s.dispatcher.close()
}

func (s *Session) currentTransport() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return nil, NewCallError(ErrorCodeCallNotActive, "нет попытки вызова", nil)
	}
	return s.transport, nil
}

// handleRemoteStream переводит вызов connecting → active: запускает
// монитор статистики и секундный счетчик длительности
func (s *Session) handleRemoteStream(generation uint64, remote peer.RemoteStream) {
	if s.generation.Load() != generation {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Повторная проверка: teardown мог обогнать нас на мьютексе
	if s.generation.Load() != generation || State(s.fsm.Current()) != StateConnecting {
		return
	}

	_ = s.fsm.Event(context.Background(), eventRemoteStream)
	s.remote = &remote
	s.startedAt = s.clock.Now()

	s.dispatcher.publish(Event{Kind: EventRemoteStream, Remote: &remote})
	s.monitor.Start()

	// Тикер создается синхронно, чтобы виртуальные часы в тестах
	// видели его сразу после активации
	ticker := s.clock.NewTicker(time.Second)
	s.durationStop = make(chan struct{})
	s.durationWG.Add(1)
	go s.durationLoop(generation, ticker, s.durationStop)

	s.logger.Info("вызов активен",
		"attempt_id", s.attemptID,
		"remote_track", remote.ID,
		"kind", remote.Kind,
	)
}

// handleConnectionState реагирует только на фатальный переход в failed
func (s *Session) handleConnectionState(generation uint64, state webrtc.PeerConnectionState) {
	if state != webrtc.PeerConnectionStateFailed {
		return
	}
	if s.generation.Load() != generation {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation.Load() != generation {
		return
	}
	if current := State(s.fsm.Current()); current != StateConnecting && current != StateActive {
		return
	}

	cause := peer.NewTransportError(peer.ErrorCodeConnectionFailed, "соединение перешло в состояние failed", nil)
	s.logger.Error("фатальный отказ транспорта", "attempt_id", s.attemptID)
	s.teardownLocked(cause, true)
}

func (s *Session) handleLocalCandidate(generation uint64, candidate webrtc.ICECandidateInit) {
	if s.generation.Load() != generation {
		return
	}
	s.dispatcher.publish(Event{Kind: EventLocalCandidate, Candidate: &candidate})
}

// handleSnapshot вызывается горутиной монитора; намеренно не берет
// s.mu, иначе monitor.Stop() внутри teardown дождался бы сам себя
func (s *Session) handleSnapshot(generation uint64, snapshot peer.Snapshot) {
	if s.generation.Load() != generation {
		return
	}
	snap := snapshot
	s.lastSnapshot.Store(&snap)
	s.metrics.SnapshotObserved()
	s.dispatcher.publish(Event{Kind: EventStatsUpdate, Snapshot: &snap})
}

// durationLoop секундный счетчик длительности; работает на атомиках,
// s.mu не трогает (см. handleSnapshot)
func (s *Session) durationLoop(generation uint64, ticker clock.Ticker, stop chan struct{}) {
	defer s.durationWG.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if s.generation.Load() != generation {
				return
			}
			seconds := s.durationSeconds.Add(1)
			s.dispatcher.publish(Event{Kind: EventDurationTick, Duration: int(seconds)})
		}
	}
}

// teardownLocked полностью разбирает текущую попытку вызова.
// Вызывается под s.mu; каждый ресурс освобождается ровно один раз
// независимо от того, в каком состоянии случился сбой. Порядок:
// сначала глушатся источники эмиссий (поколение, монитор, счетчик),
// затем освобождаются транспорт и поток.
func (s *Session) teardownLocked(cause error, emitFailure bool) {
	current := State(s.fsm.Current())
	if current != StateConnecting && current != StateActive {
		return
	}

	// С этого момента все эмиссии старого поколения отбрасываются
	s.generation.Add(1)

	event := eventHangup
	if cause != nil {
		event = eventTransportFailed
	}
	_ = s.fsm.Event(context.Background(), event)

	if s.monitor != nil {
		s.monitor.Stop()
		s.monitor = nil
	}
	if s.durationStop != nil {
		close(s.durationStop)
		s.durationWG.Wait()
		s.durationStop = nil
	}
	if s.config.Recorder.Recording() {
		s.config.Recorder.Abort()
	}
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	if s.localStream != nil {
		s.localStream.Release()
		s.localStream = nil
	}

	callSeconds := s.durationSeconds.Load()
	s.remote = nil
	s.startedAt = time.Time{}
	s.durationSeconds.Store(0)
	s.lastSnapshot.Store(nil)

	if cause != nil {
		s.lastErr = cause
		s.metrics.CallFailed()
		if emitFailure {
			s.dispatcher.publish(Event{Kind: EventConnectionFailed, Err: cause})
		}
	}
	s.metrics.CallEnded(time.Duration(callSeconds) * time.Second)

	_ = s.fsm.Event(context.Background(), eventReset)
	s.logger.Info("ресурсы вызова освобождены",
		"attempt_id", s.attemptID,
		"duration_seconds", callSeconds,
		"failed", cause != nil,
	)
}
