package domain

// AppointmentRepository описывает требования к хранилищу записей.
type AppointmentRepository interface {
	// Create сохраняет новую запись. Пустой ID заполняется хранилищем;
	// возвращается сохранённая версия записи.
	Create(appt Appointment) (Appointment, error)
	// Get возвращает запись по идентификатору или ErrBookingNotFound.
	Get(id string) (Appointment, error)
	// Save применяет обновления с учётом optimistic locking: несовпадение
	// Version даёт ErrAppointmentVersionConflict.
	Save(appt Appointment) error
	// ListByCustomer возвращает записи клиента, новые первыми.
	ListByCustomer(customerID string, limit int) ([]Appointment, error)
	// ListUnmirrored возвращает не отменённые записи без внешнего зеркала —
	// кандидатов для фонового ресинка.
	ListUnmirrored(limit int) ([]Appointment, error)
}

// CustomerRepository описывает требования к хранилищу клиентов.
type CustomerRepository interface {
	// Create сохраняет нового клиента; пустой ID заполняется хранилищем.
	Create(c Customer) (Customer, error)
	// Get возвращает клиента или ErrCustomerNotFound.
	Get(id string) (Customer, error)
}

// TattooRequestRepository описывает требования к хранилищу заявок на эскиз.
type TattooRequestRepository interface {
	// Create сохраняет новую заявку; пустой ID заполняется хранилищем.
	Create(tr TattooRequest) (TattooRequest, error)
	// Get возвращает заявку или ErrTattooRequestNotFound.
	Get(id string) (TattooRequest, error)
}
