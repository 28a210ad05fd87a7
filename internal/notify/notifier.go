// Package notify wakes idle workers when new work arrives. Three
// interchangeable implementations: Postgres LISTEN/NOTIFY for near-instant
// cross-process wakeups, an in-process fan-out for tests and single-process
// deployments, and a polling fallback for stores without push (SQLite with
// multiple worker processes).
package notify

// Notifier is the push/pull abstraction between producers and workers.
// Channel names are queue names.
type Notifier interface {
	// Emit signals that work arrived on the named channel. Best effort;
	// workers always fall back to their poll interval.
	Emit(name string) error
	// Subscribe registers a callback for the named channel and returns an
	// unsubscribe function.
	Subscribe(name string, fn func()) (func(), error)
	Close() error
}
