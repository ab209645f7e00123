package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_call/internal/clock"
)

// fakeSource источник с фабрикуемым отчетом
type fakeSource struct {
	mu     sync.Mutex
	report webrtc.StatsReport
	polls  int
}

func (s *fakeSource) Stats() webrtc.StatsReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.report
}

func testReport() webrtc.StatsReport {
	return webrtc.StatsReport{
		"inbound-audio": webrtc.InboundRTPStreamStats{
			Kind:          "audio",
			BytesReceived: 4096,
			Jitter:        0.015,
		},
		"inbound-video": webrtc.InboundRTPStreamStats{
			Kind:          "video",
			BytesReceived: 999999,
		},
		"outbound-audio": webrtc.OutboundRTPStreamStats{
			Kind:      "audio",
			BytesSent: 2048,
		},
		"pair-succeeded": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime: 0.042,
		},
		"pair-failed": webrtc.ICECandidatePairStats{
			State:                webrtc.StatsICECandidatePairStateFailed,
			CurrentRoundTripTime: 9.0,
		},
	}
}

func TestReduceSelectsTaggedReports(t *testing.T) {
	at := time.Unix(100, 0)
	snapshot := Reduce(testReport(), at)

	assert.Equal(t, uint64(4096), snapshot.BytesReceived, "видео потоки игнорируются")
	assert.Equal(t, uint64(2048), snapshot.BytesSent)
	assert.Equal(t, 15*time.Millisecond, snapshot.Jitter)
	assert.Equal(t, 42*time.Millisecond, snapshot.RoundTripTime, "RTT только из успешной пары")
	assert.Equal(t, at, snapshot.At)
}

func TestReduceEmptyReport(t *testing.T) {
	snapshot := Reduce(webrtc.StatsReport{}, time.Unix(0, 0))
	assert.Zero(t, snapshot.BytesSent)
	assert.Zero(t, snapshot.BytesReceived)
	assert.Zero(t, snapshot.Jitter)
	assert.Zero(t, snapshot.RoundTripTime)
}

func TestMonitorEmitsOncePerInterval(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	source := &fakeSource{report: testReport()}
	snapshots := make(chan Snapshot, 16)

	monitor := NewMonitor(MonitorConfig{
		Source:     source,
		Interval:   time.Second,
		Clock:      fc,
		OnSnapshot: func(s Snapshot) { snapshots <- s },
	})
	monitor.Start()

	fc.Advance(3 * time.Second)

	for i := 0; i < 3; i++ {
		select {
		case snapshot := <-snapshots:
			assert.Equal(t, uint64(2048), snapshot.BytesSent)
		case <-time.After(time.Second):
			t.Fatalf("не дождались среза %d", i+1)
		}
	}

	monitor.Stop()

	select {
	case <-snapshots:
		t.Fatal("лишний срез")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitorNoEmissionsAfterStop(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	source := &fakeSource{report: testReport()}

	var mu sync.Mutex
	emissions := 0
	monitor := NewMonitor(MonitorConfig{
		Source:   source,
		Interval: time.Second,
		Clock:    fc,
		OnSnapshot: func(Snapshot) {
			mu.Lock()
			emissions++
			mu.Unlock()
		},
	})
	monitor.Start()
	monitor.Stop()

	// Тики после Stop не должны приводить к эмиссиям
	fc.Advance(10 * time.Second)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, emissions)
}

func TestMonitorStopIdempotent(t *testing.T) {
	monitor := NewMonitor(MonitorConfig{Source: &fakeSource{}})
	monitor.Start()
	monitor.Stop()
	monitor.Stop()
	monitor.Stop()
}

func TestMonitorStartTwice(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	source := &fakeSource{report: testReport()}
	snapshots := make(chan Snapshot, 16)

	monitor := NewMonitor(MonitorConfig{
		Source:     source,
		Interval:   time.Second,
		Clock:      fc,
		OnSnapshot: func(s Snapshot) { snapshots <- s },
	})
	monitor.Start()
	monitor.Start() // игнорируется

	fc.Advance(time.Second)

	select {
	case <-snapshots:
	case <-time.After(time.Second):
		t.Fatal("не дождались среза")
	}
	select {
	case <-snapshots:
		t.Fatal("повторный Start не должен удваивать эмиссии")
	case <-time.After(50 * time.Millisecond):
	}

	monitor.Stop()
}
