// Package clock предоставляет абстракцию времени для компонентов с
// периодическими задачами. Продакшн код использует системные часы,
// тесты подставляют управляемые Fake часы и продвигают время вручную.
package clock

import (
	"sync"
	"time"
)

// Clock абстракция источника времени
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker абстракция периодического таймера
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// New возвращает часы на основе системного времени
func New() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) C() <-chan time.Time { return t.ticker.C }
func (t *systemTicker) Stop()               { t.ticker.Stop() }

// Fake управляемые часы для тестов. Время продвигается только через
// Advance; все тикеры, срок которых наступил, получают тик в
// хронологическом порядке.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake создает фейковые часы с указанным начальным временем
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: ticker interval must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		clock:    f,
		interval: d,
		next:     f.now.Add(d),
		// Буфер достаточен, чтобы Advance не блокировался, если
		// потребитель еще не успел прочитать предыдущий тик.
		ch: make(chan time.Time, 64),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance продвигает время на d, доставляя тики в порядке наступления
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	for {
		var earliest *fakeTicker
		for _, t := range f.tickers {
			if t.stopped || t.next.After(target) {
				continue
			}
			if earliest == nil || t.next.Before(earliest.next) {
				earliest = t
			}
		}
		if earliest == nil {
			break
		}
		f.now = earliest.next
		earliest.next = earliest.next.Add(earliest.interval)
		select {
		case earliest.ch <- f.now:
		default:
			// Потребитель безнадежно отстал, тик теряется как и у time.Ticker
		}
	}
	f.now = target
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}
