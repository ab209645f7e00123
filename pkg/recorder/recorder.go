// Package recorder записывает локальный аудио поток вызова в
// контейнерный блоб. Кадры Opus пакуются в RTP и складываются в OGG
// контейнер в памяти; по Stop готовый блоб передается вызывающему,
// рекордер ссылок на него не сохраняет.
package recorder

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// MIMETypeOgg формат контейнера готовой записи
const MIMETypeOgg = "audio/ogg"

// SampleSource источник кадров для записи. Реализуется локальным
// потоком из pkg/capture; поток одалживается рекордеру, владение
// остается за захватом.
type SampleSource interface {
	ID() string
	AddSink(sink func(frame []byte, duration time.Duration)) int
	RemoveSink(id int)
}

// Artifact готовая запись. Владение блобом переходит вызывающему.
type Artifact struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Config параметры Recorder
type Config struct {
	// SampleRate частота дискретизации записываемого потока (по умолчанию 48000)
	SampleRate uint32

	// Channels количество каналов (по умолчанию 2)
	Channels uint16

	// PayloadType RTP payload type для Opus (по умолчанию 111)
	PayloadType uint8

	// MTU для пакетизации (по умолчанию 1200)
	MTU uint16

	// Logger для диагностики, по умолчанию slog.Default
	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		SampleRate:  48000,
		Channels:    2,
		PayloadType: 111,
		MTU:         1200,
	}
}

// Recorder пишет кадры одолженного потока в OGG контейнер.
// Валиден только во время активного вызова: жизненным циклом управляет
// сессия. Recorder потокобезопасен.
type Recorder struct {
	config Config
	logger *slog.Logger

	mu         sync.Mutex
	source     SampleSource
	sinkID     int
	buffer     *bytes.Buffer
	container  *oggwriter.OggWriter
	packetizer rtp.Packetizer
	recording  bool
	duration   time.Duration
}

// New создает рекордер
func New(config Config) *Recorder {
	if config.SampleRate == 0 {
		config.SampleRate = 48000
	}
	if config.Channels == 0 {
		config.Channels = 2
	}
	if config.PayloadType == 0 {
		config.PayloadType = 111
	}
	if config.MTU == 0 {
		config.MTU = 1200
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		config: config,
		logger: logger.With("component", "recorder"),
	}
}

// Recording сообщает, идет ли запись
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start начинает буферизацию кадров источника.
// Возвращает RecorderError, если источник не задан или запись уже идет.
func (r *Recorder) Start(source SampleSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if source == nil {
		return NewRecorderError(ErrorCodeNoStream, "источник записи не задан", nil)
	}
	if r.recording {
		return NewRecorderError(ErrorCodeAlreadyRecording, "запись уже идет", nil)
	}

	buffer := &bytes.Buffer{}
	container, err := oggwriter.NewWith(buffer, r.config.SampleRate, r.config.Channels)
	if err != nil {
		return NewRecorderError(ErrorCodeContainerFailed, "не удалось открыть OGG контейнер", err)
	}

	r.buffer = buffer
	r.container = container
	r.packetizer = rtp.NewPacketizer(
		r.config.MTU,
		r.config.PayloadType,
		randomSSRC(),
		&codecs.OpusPayloader{},
		rtp.NewRandomSequencer(),
		r.config.SampleRate,
	)
	r.source = source
	r.duration = 0
	r.recording = true
	r.sinkID = source.AddSink(r.handleFrame)

	r.logger.Info("запись начата", "stream_id", source.ID())
	return nil
}

// Stop финализирует контейнер и возвращает готовую запись.
// Возвращает RecorderError, если запись не шла.
func (r *Recorder) Stop() (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, NewRecorderError(ErrorCodeNotRecording, "запись не идет", nil)
	}

	r.source.RemoveSink(r.sinkID)
	r.recording = false

	if err := r.container.Close(); err != nil {
		r.reset()
		return nil, NewRecorderError(ErrorCodeContainerFailed, "не удалось финализировать OGG контейнер", err)
	}

	artifact := &Artifact{
		Data:     r.buffer.Bytes(),
		MIMEType: MIMETypeOgg,
		Duration: r.duration,
	}
	r.reset()

	r.logger.Info("запись завершена", "size_bytes", len(artifact.Data), "duration", artifact.Duration)
	return artifact, nil
}

// Abort прекращает запись, отбрасывая накопленные данные.
// Используется при teardown вызова; без активной записи ничего не делает.
func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	r.source.RemoveSink(r.sinkID)
	r.recording = false
	if err := r.container.Close(); err != nil {
		r.logger.Debug("закрытие контейнера при сбросе записи", "error", err)
	}
	r.reset()
	r.logger.Info("запись прервана, данные отброшены")
}

// reset очищает внутренние буферы; вызывается под r.mu
func (r *Recorder) reset() {
	r.buffer = nil
	r.container = nil
	r.packetizer = nil
	r.source = nil
	r.sinkID = 0
	r.duration = 0
}

// handleFrame вызывается горутиной накачки потока
func (r *Recorder) handleFrame(frame []byte, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Кадр, догнавший нас после Stop/Abort
	if !r.recording || len(frame) == 0 {
		return
	}

	samples := uint32(duration.Seconds() * float64(r.config.SampleRate))
	for _, packet := range r.packetizer.Packetize(frame, samples) {
		if err := r.container.WriteRTP(packet); err != nil {
			r.logger.Warn("кадр не записан в контейнер", "error", err)
		}
	}
	r.duration += duration
}

func randomSSRC() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0x55AA55AA
	}
	return binary.BigEndian.Uint32(buf[:])
}
