package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
	"github.com/inkwellstudio/bms/internal/service/booking"
)

const (
	maxRequestBody = 1 << 20 // 1 MiB

	availabilityDateLayout = "2006-01-02"
)

// Server реализует JSON API поверх booking-оркестратора. Слой тонкий:
// вся доменная логика живёт в оркестраторе, здесь только декодирование,
// маппинг ошибок и идемпотентность мутаций.
type Server struct {
	orchestrator booking.Orchestrator
	appointments domain.AppointmentRepository
	audits       domain.AuditRepository
	idemRepo     domain.IdempotencyRepository
	logger       *log.Entry
}

// NewServer конструирует HTTP-фасад с зависимостями. idemRepo может быть nil:
// тогда заголовок Idempotency-Key игнорируется.
func NewServer(
	orchestrator booking.Orchestrator,
	appointments domain.AppointmentRepository,
	audits domain.AuditRepository,
	idemRepo domain.IdempotencyRepository,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	return &Server{
		orchestrator: orchestrator,
		appointments: appointments,
		audits:       audits,
		idemRepo:     idemRepo,
		logger:       logger,
	}
}

// Routes собирает маршруты API.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/bookings", s.handleCreateBooking)
	mux.HandleFunc("GET /v1/bookings/{id}", s.handleGetBooking)
	mux.HandleFunc("PATCH /v1/bookings/{id}", s.handleUpdateBooking)
	mux.HandleFunc("GET /v1/bookings/{id}/audit", s.handleBookingAudit)
	mux.HandleFunc("GET /v1/customers/{id}/bookings", s.handleCustomerBookings)
	mux.HandleFunc("GET /v1/availability", s.handleAvailability)
	return mux
}

type createBookingRequest struct {
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
	CustomerID      string    `json:"customer_id,omitempty"`
	ContactEmail    string    `json:"contact_email,omitempty"`
	ContactPhone    string    `json:"contact_phone,omitempty"`
	BookingType     string    `json:"booking_type"`
	ArtistID        string    `json:"artist_id,omitempty"`
	TattooRequestID string    `json:"tattoo_request_id,omitempty"`
	PriceQuoteMinor int64     `json:"price_quote_minor,omitempty"`
	Note            string    `json:"note,omitempty"`
}

type updateBookingRequest struct {
	StartAt         *time.Time `json:"start_at,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Status          *string    `json:"status,omitempty"`
	ArtistID        *string    `json:"artist_id,omitempty"`
	Note            *string    `json:"note,omitempty"`
	PriceQuoteMinor *int64     `json:"price_quote_minor,omitempty"`
}

type appointmentPayload struct {
	ID                  string    `json:"id"`
	CustomerID          string    `json:"customer_id,omitempty"`
	ContactEmail        string    `json:"contact_email,omitempty"`
	ContactPhone        string    `json:"contact_phone,omitempty"`
	ArtistID            string    `json:"artist_id,omitempty"`
	TattooRequestID     string    `json:"tattoo_request_id,omitempty"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	DurationMinutes     int       `json:"duration_minutes"`
	Type                string    `json:"type"`
	Status              string    `json:"status"`
	ExternalReferenceID string    `json:"external_reference_id,omitempty"`
	PriceQuoteMinor     int64     `json:"price_quote_minor,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	Version             int64     `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type externalBookingPayload struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type bookingResponse struct {
	Booking  appointmentPayload      `json:"booking"`
	External *externalBookingPayload `json:"external,omitempty"`
}

type auditEntryPayload struct {
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

type availabilitySlotPayload struct {
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type availabilityResponse struct {
	Success        bool                      `json:"success"`
	Date           string                    `json:"date"`
	AvailableSlots []availabilitySlotPayload `json:"available_slots"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	var req createBookingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	s.withIdempotency(w, r, body, func() (int, interface{}) {
		result, err := s.orchestrator.CreateBooking(r.Context(), booking.CreateBookingParams{
			StartAt:         req.StartAt,
			Duration:        req.DurationMinutes,
			CustomerID:      req.CustomerID,
			ContactEmail:    req.ContactEmail,
			ContactPhone:    req.ContactPhone,
			BookingType:     domain.BookingType(req.BookingType),
			ArtistID:        req.ArtistID,
			TattooRequestID: req.TattooRequestID,
			PriceQuoteMinor: req.PriceQuoteMinor,
			Note:            req.Note,
		})
		if err != nil {
			return mapDomainError(err)
		}
		return http.StatusCreated, toBookingResponse(result)
	})
}

func (s *Server) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := r.PathValue("id")

	body, err := readBody(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	var req updateBookingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	var status *domain.AppointmentStatus
	if req.Status != nil {
		converted := domain.AppointmentStatus(*req.Status)
		status = &converted
	}

	s.withIdempotency(w, r, body, func() (int, interface{}) {
		result, err := s.orchestrator.UpdateBooking(r.Context(), booking.UpdateBookingParams{
			BookingID:       bookingID,
			StartAt:         req.StartAt,
			Duration:        req.DurationMinutes,
			Status:          status,
			ArtistID:        req.ArtistID,
			Note:            req.Note,
			PriceQuoteMinor: req.PriceQuoteMinor,
		})
		if err != nil {
			return mapDomainError(err)
		}
		return http.StatusOK, toBookingResponse(result)
	})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	appt, err := s.appointments.Get(r.PathValue("id"))
	if err != nil {
		code, payload := mapDomainError(err)
		s.respond(w, code, payload)
		return
	}

	s.respond(w, http.StatusOK, bookingResponse{Booking: toAppointmentPayload(appt)})
}

func (s *Server) handleBookingAudit(w http.ResponseWriter, r *http.Request) {
	bookingID := r.PathValue("id")
	if _, err := s.appointments.Get(bookingID); err != nil {
		code, payload := mapDomainError(err)
		s.respond(w, code, payload)
		return
	}

	entries, err := s.audits.List(bookingID)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).Error("failed to list audit entries")
		s.respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to list audit entries"})
		return
	}

	payload := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, auditEntryPayload{
			Action:       entry.Action,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Details:      entry.Details,
			Timestamp:    entry.Timestamp,
		})
	}

	s.respond(w, http.StatusOK, payload)
}

const defaultCustomerBookingsLimit = 20

func (s *Server) handleCustomerBookings(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("id")

	limit := defaultCustomerBookingsLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			s.respond(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	appts, err := s.appointments.ListByCustomer(customerID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customerID).Error("failed to list customer bookings")
		s.respond(w, http.StatusInternalServerError, errorResponse{Error: "failed to list bookings"})
		return
	}

	payload := make([]appointmentPayload, 0, len(appts))
	for _, appt := range appts {
		payload = append(payload, toAppointmentPayload(appt))
	}

	s.respond(w, http.StatusOK, payload)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	rawDate := r.URL.Query().Get("date")
	if rawDate == "" {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "date query parameter is required"})
		return
	}

	date, err := time.Parse(availabilityDateLayout, rawDate)
	if err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "date must be in YYYY-MM-DD format"})
		return
	}

	result := s.orchestrator.GetAvailability(r.Context(), date, r.URL.Query().Get("artist_id"))

	slots := make([]availabilitySlotPayload, 0, len(result.AvailableSlots))
	for _, slot := range result.AvailableSlots {
		slots = append(slots, availabilitySlotPayload{
			StartAt:         slot.StartAt,
			DurationMinutes: slot.DurationMinutes,
		})
	}

	s.respond(w, http.StatusOK, availabilityResponse{
		Success:        result.Success,
		Date:           result.Date,
		AvailableSlots: slots,
	})
}

// mapDomainError переводит доменные ошибки в HTTP-статусы. Отсутствующие
// сущности отдаются как 404, прочие ошибки валидации как 400, конфликт
// версий как 409.
func mapDomainError(err error) (int, interface{}) {
	switch {
	case errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrTattooRequestNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error()}
	case domain.IsValidation(err):
		return http.StatusBadRequest, errorResponse{Error: err.Error()}
	case domain.IsVersionConflict(err):
		return http.StatusConflict, errorResponse{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}

func toBookingResponse(result booking.BookingResult) bookingResponse {
	resp := bookingResponse{Booking: toAppointmentPayload(result.Booking)}

	external := result.ExternalBookingUpdated
	if external == nil {
		external = result.ExternalBooking
	}
	if external != nil {
		resp.External = &externalBookingPayload{ID: external.ID, Status: external.Status}
	}

	return resp
}

func toAppointmentPayload(appt domain.Appointment) appointmentPayload {
	return appointmentPayload{
		ID:                  appt.ID,
		CustomerID:          appt.CustomerID,
		ContactEmail:        appt.ContactEmail,
		ContactPhone:        appt.ContactPhone,
		ArtistID:            appt.ArtistID,
		TattooRequestID:     appt.TattooRequestID,
		StartTime:           appt.StartTime,
		EndTime:             appt.EndTime,
		DurationMinutes:     appt.Duration,
		Type:                string(appt.Type),
		Status:              string(appt.Status),
		ExternalReferenceID: appt.ExternalReferenceID,
		PriceQuoteMinor:     appt.PriceQuoteMinor,
		Notes:               appt.Notes,
		Version:             appt.Version,
		CreatedAt:           appt.CreatedAt,
		UpdatedAt:           appt.UpdatedAt,
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
}

func (s *Server) respond(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}
