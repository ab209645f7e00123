package recorder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream источник кадров с ручной подачей
type fakeStream struct {
	mu     sync.Mutex
	sinks  map[int]func([]byte, time.Duration)
	nextID int
}

func newFakeStream() *fakeStream {
	return &fakeStream{sinks: make(map[int]func([]byte, time.Duration))}
}

func (s *fakeStream) ID() string { return "fake-stream" }

func (s *fakeStream) AddSink(sink func([]byte, time.Duration)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sinks[s.nextID] = sink
	return s.nextID
}

func (s *fakeStream) RemoveSink(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sinks, id)
}

func (s *fakeStream) push(frame []byte, duration time.Duration) {
	s.mu.Lock()
	sinks := make([]func([]byte, time.Duration), 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()
	for _, sink := range sinks {
		sink(frame, duration)
	}
}

func (s *fakeStream) sinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// кадр тишины Opus
var opusFrame = []byte{0xf8, 0xff, 0xfe}

func TestStartWithoutStream(t *testing.T) {
	r := New(DefaultConfig())

	err := r.Start(nil)
	require.Error(t, err)

	var recErr *RecorderError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, ErrorCodeNoStream, recErr.Code)
	assert.False(t, r.Recording())
}

func TestDoubleStart(t *testing.T) {
	r := New(DefaultConfig())
	stream := newFakeStream()

	require.NoError(t, r.Start(stream))

	err := r.Start(stream)
	require.Error(t, err)

	var recErr *RecorderError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, ErrorCodeAlreadyRecording, recErr.Code)
}

func TestStopWithoutStart(t *testing.T) {
	r := New(DefaultConfig())

	artifact, err := r.Stop()
	require.Error(t, err)
	assert.Nil(t, artifact)

	var recErr *RecorderError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, ErrorCodeNotRecording, recErr.Code)
}

func TestRecordProducesOggArtifact(t *testing.T) {
	r := New(DefaultConfig())
	stream := newFakeStream()

	require.NoError(t, r.Start(stream))
	require.True(t, r.Recording())

	for i := 0; i < 50; i++ {
		stream.push(opusFrame, 20*time.Millisecond)
	}

	artifact, err := r.Stop()
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, MIMETypeOgg, artifact.MIMEType)
	assert.Equal(t, time.Second, artifact.Duration)
	require.Greater(t, len(artifact.Data), 4)
	assert.Equal(t, []byte("OggS"), artifact.Data[:4], "блоб начинается с OGG magic")

	// Владение блобом передано, рекордер чист
	assert.False(t, r.Recording())
	assert.Equal(t, 0, stream.sinkCount(), "sink снят с потока")

	// Повторный цикл записи работает на свежем состоянии
	require.NoError(t, r.Start(stream))
	stream.push(opusFrame, 20*time.Millisecond)
	second, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, second.Duration)
}

func TestAbortDiscardsData(t *testing.T) {
	r := New(DefaultConfig())
	stream := newFakeStream()

	require.NoError(t, r.Start(stream))
	stream.push(opusFrame, 20*time.Millisecond)

	r.Abort()
	assert.False(t, r.Recording())
	assert.Equal(t, 0, stream.sinkCount())

	// Abort без записи безопасен
	r.Abort()

	_, err := r.Stop()
	require.Error(t, err)
}

func TestLateFrameAfterStopIgnored(t *testing.T) {
	r := New(DefaultConfig())
	stream := newFakeStream()

	require.NoError(t, r.Start(stream))

	var sink func([]byte, time.Duration)
	stream.mu.Lock()
	for _, s := range stream.sinks {
		sink = s
	}
	stream.mu.Unlock()

	_, err := r.Stop()
	require.NoError(t, err)

	// Кадр, пришедший после Stop, не должен паниковать или писаться
	sink(opusFrame, 20*time.Millisecond)
	assert.False(t, r.Recording())
}
