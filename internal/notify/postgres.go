package notify

import (
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Channel names are interpolated into LISTEN/NOTIFY statements, so they are
// validated against a strict identifier pattern first.
var channelPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidateChannel reports whether name is safe to use as a notification
// channel.
func ValidateChannel(name string) error {
	if !channelPattern.MatchString(name) {
		return fmt.Errorf("invalid notification channel name %q", name)
	}
	return nil
}

// Postgres wakes workers through LISTEN/NOTIFY. A dedicated pq.Listener
// connection receives notifications whose payload is the queue name; Emit
// issues NOTIFY on the shared pool.
type Postgres struct {
	db       *sql.DB
	listener *pq.Listener

	mu     sync.Mutex
	mem    *Memory
	closed bool
	done   chan struct{}
}

var _ Notifier = (*Postgres)(nil)

const pgChannel = "driftq_jobs"

// NewPostgres opens a listener connection on the given DSN and starts
// dispatching notifications. db is used for NOTIFY.
func NewPostgres(db *sql.DB, dsn string) (*Postgres, error) {
	listener := pq.NewListener(dsn, 250*time.Millisecond, 30*time.Second,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				slog.Warn("postgres listener event", "event", ev, "error", err)
			}
		})
	if err := listener.Listen(pgChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", pgChannel, err)
	}

	p := &Postgres{
		db:       db,
		listener: listener,
		mem:      NewMemory(),
		done:     make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

func (p *Postgres) dispatch() {
	defer close(p.done)
	for {
		select {
		case n, ok := <-p.listener.Notify:
			if !ok {
				return
			}
			// nil notifications signal a reconnect; re-poll everything.
			if n == nil {
				p.mem.fireEverything()
				continue
			}
			_ = p.mem.Emit(n.Extra)
		case <-time.After(90 * time.Second):
			go func() { _ = p.listener.Ping() }()
		}
	}
}

func (m *Memory) fireEverything() {
	m.mu.RLock()
	var fns []func()
	for _, subs := range m.subs {
		for _, fn := range subs {
			fns = append(fns, fn)
		}
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Postgres) Emit(name string) error {
	if err := ValidateChannel(name); err != nil {
		return err
	}
	// The payload carries the queue name; the channel itself is fixed.
	_, err := p.db.Exec(fmt.Sprintf("NOTIFY %s, '%s'", pgChannel, name))
	if err != nil {
		return fmt.Errorf("notify %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) Subscribe(name string, fn func()) (func(), error) {
	if err := ValidateChannel(name); err != nil {
		return nil, err
	}
	return p.mem.Subscribe(name, fn)
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.listener.Close()
	<-p.done
	_ = p.mem.Close()
	return err
}
