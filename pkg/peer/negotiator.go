// Package peer реализует транспортный слой голосового вызова поверх
// WebRTC peer connection: прикрепление локального трека, согласование
// описаний сессии, прием кандидатов связности и наблюдение за
// состоянием соединения. Доставка сигналинга удаленной стороне
// остается заботой хоста.
package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// RemoteStream описывает входящий медиа поток удаленного участника
type RemoteStream struct {
	Track *webrtc.TrackRemote
	ID    string
	Kind  string
}

// Callbacks обработчики событий транспорта. Все вызываются из горутин
// транспорта; владелец обязан сам отбрасывать устаревшие события после
// Close (см. семантику поколений в pkg/call).
type Callbacks struct {
	// OnRemoteTrack вызывается при появлении входящего аудио трека
	OnRemoteTrack func(RemoteStream)
	// OnStateChange вызывается при каждом переходе состояния соединения
	OnStateChange func(webrtc.PeerConnectionState)
	// OnLocalCandidate вызывается для каждого локально собранного кандидата
	OnLocalCandidate func(webrtc.ICECandidateInit)
}

// Config параметры Negotiator
type Config struct {
	// ICEServers список STUN/TURN серверов (URL)
	ICEServers []string

	// Logger для диагностики, по умолчанию slog.Default
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию с публичным STUN
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Negotiator владеет peer connection одного вызова. Экземпляр живет
// ровно одну попытку вызова и не переиспользуется после Close.
//
// Negotiator потокобезопасен.
type Negotiator struct {
	config    Config
	callbacks Callbacks
	logger    *slog.Logger

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	closed      bool
	connectedAt time.Time
}

// NewNegotiator создает новый Negotiator с заданными обработчиками
func NewNegotiator(config Config, callbacks Callbacks) *Negotiator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		config:    config,
		callbacks: callbacks,
		logger:    logger.With("component", "peer"),
	}
}

// CreateTransport создает peer connection, прикрепляет локальный трек
// и регистрирует обработчики. Возвращает TransportError с кодом
// ErrorCodeTransportInit, если платформа не смогла выделить транспорт.
func (n *Negotiator) CreateTransport(ctx context.Context, track webrtc.TrackLocal) error {
	if err := ctx.Err(); err != nil {
		return NewTransportError(ErrorCodeTransportInit, "создание транспорта отменено", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return NewTransportError(ErrorCodeTransportClosed, "транспорт уже закрыт", nil)
	}
	if n.pc != nil {
		return NewTransportError(ErrorCodeTransportInit, "транспорт уже создан", nil)
	}

	var iceServers []webrtc.ICEServer
	for _, url := range n.config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return NewTransportError(ErrorCodeTransportInit, "не удалось создать peer connection", err)
	}

	if track != nil {
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return NewTransportError(ErrorCodeTransportInit, "не удалось прикрепить локальный трек", err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.handleRemoteTrack(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.handleStateChange(state)
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil означает конец сбора кандидатов
		if candidate == nil {
			return
		}
		n.handleLocalCandidate(candidate.ToJSON())
	})

	n.pc = pc
	n.logger.Debug("транспорт создан", "ice_servers", len(iceServers))
	return nil
}

// CreateOffer формирует локальное описание сессии и фиксирует его как
// local description. Возвращает NegotiationError до CreateTransport.
func (n *Negotiator) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return n.createDescription(ctx, true)
}

// CreateAnswer формирует ответное описание сессии и фиксирует его как
// local description. Возвращает NegotiationError до CreateTransport.
func (n *Negotiator) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return n.createDescription(ctx, false)
}

func (n *Negotiator) createDescription(ctx context.Context, offer bool) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, NewTransportError(ErrorCodeNegotiation, "согласование отменено", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pc == nil || n.closed {
		return webrtc.SessionDescription{}, NewTransportError(ErrorCodeNegotiation, "транспорт не создан", nil)
	}

	var desc webrtc.SessionDescription
	var err error
	if offer {
		desc, err = n.pc.CreateOffer(nil)
	} else {
		desc, err = n.pc.CreateAnswer(nil)
	}
	if err != nil {
		return webrtc.SessionDescription{}, NewTransportError(ErrorCodeNegotiation, "не удалось сформировать описание сессии", err)
	}

	if err := n.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, NewTransportError(ErrorCodeNegotiation, "не удалось зафиксировать local description", err)
	}
	return desc, nil
}

// SetRemoteDescription фиксирует описание сессии удаленной стороны.
// Синтаксис SDP проверяется до передачи в транспорт; на мусорном входе
// состояние peer connection не меняется.
func (n *Negotiator) SetRemoteDescription(desc webrtc.SessionDescription) error {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return NewTransportError(ErrorCodeNegotiation, "некорректное описание сессии", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pc == nil || n.closed {
		return NewTransportError(ErrorCodeNegotiation, "транспорт не создан", nil)
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return NewTransportError(ErrorCodeNegotiation, "не удалось применить remote description", err)
	}
	return nil
}

// AddRemoteCandidate принимает кандидата связности удаленной стороны.
// Некорректные и опоздавшие кандидаты логируются и проглатываются:
// согласование может завершиться через остальных кандидатов.
func (n *Negotiator) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	n.mu.Lock()
	pc := n.pc
	closed := n.closed
	n.mu.Unlock()

	if pc == nil || closed {
		n.logger.Warn("кандидат отброшен: транспорт не готов", "candidate", candidate.Candidate)
		return nil
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		n.logger.Warn("кандидат отброшен", "candidate", candidate.Candidate, "error", err)
	}
	return nil
}

// Stats возвращает текущий отчет статистики транспорта
func (n *Negotiator) Stats() webrtc.StatsReport {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()

	if pc == nil {
		return webrtc.StatsReport{}
	}
	return pc.GetStats()
}

// Close освобождает транспорт и все связанные ресурсы. Идемпотентен.
// После Close обработчики событий больше не вызываются.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	pc := n.pc
	n.pc = nil
	n.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			n.logger.Warn("ошибка закрытия peer connection", "error", err)
		}
	}
	n.logger.Debug("транспорт закрыт")
}

func (n *Negotiator) handleRemoteTrack(remote *webrtc.TrackRemote) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	callback := n.callbacks.OnRemoteTrack
	n.mu.Unlock()

	stream := RemoteStream{
		Track: remote,
		ID:    remote.ID(),
		Kind:  remote.Kind().String(),
	}
	n.logger.Info("получен удаленный трек", "track_id", stream.ID, "kind", stream.Kind)

	if callback != nil {
		callback(stream)
	}
}

func (n *Negotiator) handleStateChange(state webrtc.PeerConnectionState) {
	n.mu.Lock()
	if n.closed {
		// Переход в closed после Close не интересен владельцу
		n.mu.Unlock()
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		n.connectedAt = time.Now()
	case webrtc.PeerConnectionStateDisconnected:
		// disconnected не фатален: временные сетевые сбои переживаются
		// без вмешательства, эскалацию в failed решает ICE
		since := time.Duration(0)
		if !n.connectedAt.IsZero() {
			since = time.Since(n.connectedAt)
		}
		n.logger.Warn("соединение в состоянии disconnected", "connected_for", since)
	}
	callback := n.callbacks.OnStateChange
	n.mu.Unlock()

	n.logger.Debug("переход состояния соединения", "state", state.String())
	if callback != nil {
		callback(state)
	}
}

func (n *Negotiator) handleLocalCandidate(candidate webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	callback := n.callbacks.OnLocalCandidate
	n.mu.Unlock()

	if callback != nil {
		callback(candidate)
	}
}
