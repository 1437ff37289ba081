package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

// tattooRequestRepositoryInMemory — in-memory реализация TattooRequestRepository.
type tattooRequestRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.TattooRequest
}

// NewTattooRequestRepository создаёт in-memory репозиторий заявок на эскиз.
func NewTattooRequestRepository() domain.TattooRequestRepository {
	return &tattooRequestRepositoryInMemory{items: make(map[string]domain.TattooRequest)}
}

// Create сохраняет новую заявку, присваивая идентификатор при необходимости.
func (r *tattooRequestRepositoryInMemory) Create(tr domain.TattooRequest) (domain.TattooRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Status == "" {
		tr.Status = domain.TattooRequestStatusNew
	}
	now := time.Now().UTC()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = now
	}
	tr.UpdatedAt = now

	r.items[tr.ID] = tr
	return tr, nil
}

// Get возвращает заявку или ErrTattooRequestNotFound.
func (r *tattooRequestRepositoryInMemory) Get(id string) (domain.TattooRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tr, ok := r.items[id]
	if !ok {
		return domain.TattooRequest{}, domain.ErrTattooRequestNotFound
	}
	return tr, nil
}

var _ domain.TattooRequestRepository = (*tattooRequestRepositoryInMemory)(nil)
