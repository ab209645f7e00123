// Package call реализует менеджер сессии голосового вызова: машину
// состояний idle → connecting → active → ended, фоновые задачи
// (мониторинг статистики, счетчик длительности) и гарантированно
// полный teardown на всех путях выхода, включая ошибочные.
package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/arzzra/voice_call/pkg/peer"
	"github.com/arzzra/voice_call/pkg/recorder"
)

// LocalStream локальный аудио поток, одолженный сессии слоем захвата.
// Реализуется *capture.Stream; останавливать треки вправе только захват.
type LocalStream interface {
	ID() string
	Track() webrtc.TrackLocal
	AddSink(sink func(frame []byte, duration time.Duration)) int
	RemoveSink(id int)
	Release()
}

// Acquirer получает локальный поток под фиксированные ограничения захвата
type Acquirer interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// Transport транспорт одного вызова. Реализуется *peer.Negotiator.
// Экземпляр живет одну попытку вызова и не переиспользуется после Close.
type Transport interface {
	CreateTransport(ctx context.Context, track webrtc.TrackLocal) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error
	Stats() webrtc.StatsReport
	Close()
}

// TransportFactory создает транспорт попытки вызова с обработчиками сессии
type TransportFactory func(callbacks peer.Callbacks) Transport

// StatsMonitor периодический опрос статистики транспорта
type StatsMonitor interface {
	Start()
	Stop()
}

// MonitorFactory создает монитор статистики для попытки вызова
type MonitorFactory func(source peer.Source, onSnapshot func(peer.Snapshot)) StatsMonitor

// Recorder запись локального потока вызова
type Recorder interface {
	Start(source recorder.SampleSource) error
	Stop() (*recorder.Artifact, error)
	Abort()
	Recording() bool
}

// Signaling контракт внешнего коллаборатора сигналинга. Сессия
// производит описания сессии и кандидатов связности (события
// EventLocalCandidate и результаты CreateOffer/CreateAnswer); хост
// обязан доставить их удаленной стороне любым транспортом и вернуть
// ответные артефакты через SetRemoteDescription/AddRemoteCandidate.
// Сам механизм доставки этим пакетом не реализуется.
type Signaling interface {
	SendDescription(ctx context.Context, desc webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
}
