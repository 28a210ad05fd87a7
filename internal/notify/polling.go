package notify

import (
	"sync"
	"time"
)

// Polling fires every subscriber on a fixed timer regardless of real
// activity. It degrades workers to bounded-latency polling where
// cross-process push is unavailable.
type Polling struct {
	interval time.Duration
	mem      *Memory

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

var _ Notifier = (*Polling)(nil)

func NewPolling(interval time.Duration) *Polling {
	if interval <= 0 {
		interval = time.Second
	}
	return &Polling{
		interval: interval,
		mem:      NewMemory(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Emit is a no-op: the timer is the only signal source.
func (p *Polling) Emit(string) error { return nil }

func (p *Polling) Subscribe(name string, fn func()) (func(), error) {
	p.ensureStarted()
	return p.mem.Subscribe(name, fn)
}

func (p *Polling) ensureStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.fireAll()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *Polling) fireAll() {
	p.mem.mu.RLock()
	var fns []func()
	for _, subs := range p.mem.subs {
		for _, fn := range subs {
			fns = append(fns, fn)
		}
	}
	p.mem.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (p *Polling) Close() error {
	p.mu.Lock()
	if p.started {
		select {
		case <-p.stop:
		default:
			close(p.stop)
		}
		p.mu.Unlock()
		<-p.done
	} else {
		p.mu.Unlock()
	}
	return p.mem.Close()
}
