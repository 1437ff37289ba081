package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

const (
	entryStatusPending = "pending"
	entryStatusSent    = "sent"
	entryStatusFailed  = "failed"

	maxPullBatch = 100
)

// outboxEntry — одно событие вместе со статусом доставки.
type outboxEntry struct {
	msg       domain.OutboxMessage
	status    string
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// outboxRepositoryInMemory держит события бронирования в памяти процесса.
// Подходит для тестов и запуска без PostgreSQL.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{entries: make(map[string]*outboxEntry)}
}

// Enqueue сохраняет событие со статусом pending, генерируя ID при необходимости.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	entry := &outboxEntry{
		msg:       msg,
		status:    entryStatusPending,
		createdAt: now,
		updatedAt: now,
	}

	r.mu.Lock()
	r.entries[msg.ID] = entry
	r.mu.Unlock()

	return msg, nil
}

// pendingEntries собирает pending-записи, старые первыми; вызывать под lock.
func (r *outboxRepositoryInMemory) pendingEntries() []*outboxEntry {
	pending := make([]*outboxEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.status == entryStatusPending {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].createdAt.Equal(pending[j].createdAt) {
			return pending[i].createdAt.Before(pending[j].createdAt)
		}
		return pending[i].msg.ID < pending[j].msg.ID
	})
	return pending
}

// PullPending возвращает до limit необработанных событий в порядке создания.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = maxPullBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingEntries()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, entry := range pending {
		result = append(result, entry.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog'а и время самой старой pending-записи.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	if pending := r.pendingEntries(); len(pending) > 0 {
		stats.PendingCount = len(pending)
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.transition(id, entryStatusSent)
}

// MarkFailed фиксирует окончательный провал публикации.
func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.transition(id, entryStatusFailed)
}

func (r *outboxRepositoryInMemory) transition(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}

	entry.status = status
	entry.attempts++
	entry.updatedAt = time.Now().UTC()
	return nil
}

// AllPending возвращает копию всех pending-событий; нужен тестам.
func (r *outboxRepositoryInMemory) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.pendingEntries()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, entry := range pending {
		result = append(result, entry.msg)
	}
	return result
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
