package relational

import (
	"gorm.io/gorm"

	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
)

// Store implements the queue.Client, queue.JobStore, and
// queue.ScheduleStore contracts against a gorm database.
type Store struct {
	db       *gorm.DB
	notifier notify.Notifier
}

var (
	_ queue.Client        = (*Store)(nil)
	_ queue.JobStore      = (*Store)(nil)
	_ queue.ScheduleStore = (*Store)(nil)
)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SetNotifier wires a notification channel; Enqueue will emit the queue
// name whenever an immediately-claimable job is created.
func (s *Store) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

func (s *Store) emit(queueName string) {
	if s.notifier != nil {
		_ = s.notifier.Emit(queueName)
	}
}
