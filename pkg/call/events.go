package call

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/arzzra/voice_call/pkg/peer"
)

// EventKind тип события сессии
type EventKind int

const (
	// Получен медиа поток удаленного участника, вызов стал активным
	EventRemoteStream EventKind = iota + 1
	// Транспорт фатально отказал, сессия завершила себя
	EventConnectionFailed
	// Очередной срез статистики активного вызова
	EventStatsUpdate
	// Секундный тик длительности активного вызова
	EventDurationTick
	// Локально собранный кандидат связности для доставки удаленной стороне
	EventLocalCandidate
)

// String возвращает строковое представление типа события
func (k EventKind) String() string {
	switch k {
	case EventRemoteStream:
		return "remote_stream"
	case EventConnectionFailed:
		return "connection_failed"
	case EventStatsUpdate:
		return "stats_update"
	case EventDurationTick:
		return "duration_tick"
	case EventLocalCandidate:
		return "local_candidate"
	default:
		return "unknown"
	}
}

// Event событие сессии вызова. Заполнены только поля,
// соответствующие Kind.
type Event struct {
	Kind      EventKind
	Remote    *peer.RemoteStream
	Snapshot  *peer.Snapshot
	Candidate *webrtc.ICECandidateInit
	Duration  int
	Err       error
}

// dispatcher доставляет события одному подписчику в порядке
// возникновения. Единственная горутина доставки гарантирует порядок;
// подписчик заменяем в любой момент, события без подписчика
// отбрасываются.
type dispatcher struct {
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	mu         sync.Mutex
	subscriber chan Event

	wg sync.WaitGroup
}

func newDispatcher(queueSize int, logger *slog.Logger) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// publish ставит событие в очередь доставки; не блокируется
func (d *dispatcher) publish(event Event) {
	select {
	case d.queue <- event:
	case <-d.done:
	default:
		d.logger.Warn("очередь событий переполнена, событие отброшено", "kind", event.Kind.String())
	}
}

// subscribe заменяет текущего подписчика новым каналом.
// Возвращенная функция снимает подписку и закрывает канал.
func (d *dispatcher) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	d.mu.Lock()
	if d.subscriber != nil {
		close(d.subscriber)
	}
	d.subscriber = ch
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.subscriber == ch {
			d.subscriber = nil
			close(ch)
		}
	}
	return ch, cancel
}

func (d *dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case event := <-d.queue:
			// Отдаем под мьютексом, чтобы не послать в закрытый
			// отменой подписки канал
			d.mu.Lock()
			if d.subscriber != nil {
				select {
				case d.subscriber <- event:
				default:
					d.logger.Warn("подписчик не читает события, событие отброшено", "kind", event.Kind.String())
				}
			}
			d.mu.Unlock()
		}
	}
}

// close останавливает доставку и закрывает подписку
func (d *dispatcher) close() {
	close(d.done)
	d.wg.Wait()

	d.mu.Lock()
	if d.subscriber != nil {
		close(d.subscriber)
		d.subscriber = nil
	}
	d.mu.Unlock()
}
