package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

// auditRepositoryInMemory хранит аудит-журнал в памяти (для разработки/тестов).
type auditRepositoryInMemory struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewAuditRepository создаёт in-memory реализацию AuditRepository.
func NewAuditRepository() *auditRepositoryInMemory {
	return &auditRepositoryInMemory{}
}

// Append добавляет запись в журнал.
func (r *auditRepositoryInMemory) Append(entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.entries = append(r.entries, cloneAuditEntry(entry))
	return nil
}

// List возвращает записи по ресурсу в хронологическом порядке.
func (r *auditRepositoryInMemory) List(resourceID string) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.AuditEntry, 0)
	for _, entry := range r.entries {
		if entry.ResourceID != resourceID {
			continue
		}
		result = append(result, cloneAuditEntry(entry))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// All возвращает копию всего журнала (используется в тестах).
func (r *auditRepositoryInMemory) All() []domain.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.AuditEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		result = append(result, cloneAuditEntry(entry))
	}
	return result
}

// ByAction возвращает записи с заданным action-тегом (используется в тестах).
func (r *auditRepositoryInMemory) ByAction(action string) []domain.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.AuditEntry, 0)
	for _, entry := range r.entries {
		if entry.Action == action {
			result = append(result, cloneAuditEntry(entry))
		}
	}
	return result
}

func cloneAuditEntry(src domain.AuditEntry) domain.AuditEntry {
	dst := src
	if src.Details != nil {
		dst.Details = make(map[string]interface{}, len(src.Details))
		for k, v := range src.Details {
			dst.Details[k] = v
		}
	}
	return dst
}

var _ domain.AuditRepository = (*auditRepositoryInMemory)(nil)
