package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

// appointmentRepositoryInMemory — простая in-memory реализация AppointmentRepository.
type appointmentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Appointment
}

// NewAppointmentRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewAppointmentRepository() domain.AppointmentRepository {
	return &appointmentRepositoryInMemory{
		items: make(map[string]domain.Appointment),
	}
}

// Create сохраняет новую запись, присваивая идентификатор и временные метки.
func (r *appointmentRepositoryInMemory) Create(appt domain.Appointment) (domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	} else if _, exists := r.items[appt.ID]; exists {
		return domain.Appointment{}, domain.ErrAppointmentVersionConflict
	}

	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	appt.Version = 0

	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[appt.ID] = appt
	return appt, nil
}

// Get возвращает запись или ErrBookingNotFound, если её нет.
func (r *appointmentRepositoryInMemory) Get(id string) (domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	appt, ok := r.items[id]
	if !ok {
		return domain.Appointment{}, domain.ErrBookingNotFound
	}
	return appt, nil
}

// Save перезаписывает запись, проверяя версию (optimistic locking).
func (r *appointmentRepositoryInMemory) Save(appt domain.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[appt.ID]
	if !ok {
		return domain.ErrBookingNotFound
	}
	if current.Version != appt.Version {
		return domain.ErrAppointmentVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	appt.Version++
	appt.UpdatedAt = time.Now().UTC()
	r.items[appt.ID] = appt
	return nil
}

// ListByCustomer возвращает записи клиента, ограничивая выборку limit (если >0).
func (r *appointmentRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Appointment, 0, len(r.items))
	for _, appt := range r.items {
		if appt.CustomerID != customerID {
			continue
		}
		result = append(result, appt)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ListUnmirrored возвращает записи без внешнего зеркала, старые первыми,
// чтобы фоновый ресинк добирался до самых давних разрывов.
func (r *appointmentRepositoryInMemory) ListUnmirrored(limit int) ([]domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Appointment, 0)
	for _, appt := range r.items {
		if !appt.NeedsMirror() {
			continue
		}
		result = append(result, appt)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.AppointmentRepository = (*appointmentRepositoryInMemory)(nil)
