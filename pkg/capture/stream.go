package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Sink получатель сырых кадров локального потока.
// Вызывается из горутины накачки, обязан не блокироваться надолго.
// Алиас, чтобы Stream структурно удовлетворял узким интерфейсам
// потребителей (рекордер, сессия).
type Sink = func(frame []byte, duration time.Duration)

// Stream локальный аудио поток. Владеет устройством захвата и
// исходящим треком, который передается транспорту. Поток "одалживается"
// транспорту и рекордеру, но останавливать треки вправе только он сам.
//
// Stream потокобезопасен.
type Stream struct {
	id            string
	constraints   Constraints
	frameDuration time.Duration
	device        Device
	track         *webrtc.TrackLocalStaticSample
	logger        *slog.Logger

	sinksMutex sync.RWMutex
	sinks      map[int]Sink
	nextSinkID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	releaseMutex sync.Mutex
	released     bool
}

// ID возвращает идентификатор потока
func (s *Stream) ID() string { return s.id }

// Constraints возвращает ограничения, под которые открыто устройство
func (s *Stream) Constraints() Constraints { return s.constraints }

// Track возвращает исходящий трек для подключения к транспорту
func (s *Stream) Track() webrtc.TrackLocal { return s.track }

// AddSink регистрирует получателя кадров, возвращает его идентификатор
func (s *Stream) AddSink(sink Sink) int {
	s.sinksMutex.Lock()
	defer s.sinksMutex.Unlock()
	s.nextSinkID++
	s.sinks[s.nextSinkID] = sink
	return s.nextSinkID
}

// RemoveSink снимает регистрацию получателя кадров
func (s *Stream) RemoveSink(id int) {
	s.sinksMutex.Lock()
	defer s.sinksMutex.Unlock()
	delete(s.sinks, id)
}

// Release останавливает накачку и освобождает устройство.
// Идемпотентен: повторные вызовы не имеют эффекта.
func (s *Stream) Release() {
	s.releaseMutex.Lock()
	defer s.releaseMutex.Unlock()
	if s.released {
		return
	}
	s.released = true

	s.cancel()
	s.wg.Wait()
	if err := s.device.Close(); err != nil {
		s.logger.Warn("ошибка закрытия устройства захвата", "stream_id", s.id, "error", err)
	}
	s.logger.Debug("локальный поток освобожден", "stream_id", s.id)
}

// pump читает кадры устройства и раздает их в трек и зарегистрированные sinks
func (s *Stream) pump() {
	defer s.wg.Done()

	for {
		frame, err := s.device.ReadFrame(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
				return
			}
			s.logger.Error("чтение кадра с устройства прервано", "stream_id", s.id, "error", err)
			return
		}

		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: s.frameDuration}); err != nil {
			// Трек без подключенного транспорта это не ошибка
			s.logger.Debug("WriteSample", "stream_id", s.id, "error", err)
		}

		// Копируем список под RLock и зовем получателей без блокировки,
		// иначе RemoveSink из sink'а (рекордер) приводит к дедлоку
		s.sinksMutex.RLock()
		sinks := make([]Sink, 0, len(s.sinks))
		for _, sink := range s.sinks {
			sinks = append(sinks, sink)
		}
		s.sinksMutex.RUnlock()

		for _, sink := range sinks {
			sink(frame, s.frameDuration)
		}
	}
}
