package domain

import "time"

// Customer — клиент студии.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
	// ExternalProviderID — идентификатор клиента у внешнего провайдера
	// расписаний; пустое значение означает, что клиент там не заведён.
	ExternalProviderID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TattooRequestStatus описывает состояние заявки на эскиз.
type TattooRequestStatus string

const (
	TattooRequestStatusNew      TattooRequestStatus = "new"
	TattooRequestStatusApproved TattooRequestStatus = "approved"
	TattooRequestStatusRejected TattooRequestStatus = "rejected"
)

// TattooRequest — заявка на эскиз, поданная до записи на сеанс.
// CustomerID может быть пустым: анонимная заявка присоединяется к клиенту
// при первой записи.
type TattooRequest struct {
	ID          string
	CustomerID  string
	Description string
	Placement   string
	Size        string
	Status      TattooRequestStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
