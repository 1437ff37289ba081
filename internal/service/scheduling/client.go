package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
)

// Config — настройки HTTP-клиента провайдера расписаний.
type Config struct {
	// BaseURL — корень API провайдера, например https://connect.provider.example.
	BaseURL string
	// Token — bearer-токен доступа.
	Token string
	// Timeout ограничивает каждый HTTP-запрос; 0 = 10 секунд.
	Timeout time.Duration
}

// Client — HTTP JSON клиент внешнего провайдера расписаний.
// Реализует domain.ExternalSchedulingClient поверх bookings REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиент провайдера расписаний.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.New().WithField("component", "scheduling-client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type wireSegment struct {
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	TeamMemberID    string `json:"team_member_id,omitempty"`
}

type wireBooking struct {
	ID                  string        `json:"id,omitempty"`
	Status              string        `json:"status,omitempty"`
	StartAt             string        `json:"start_at,omitempty"`
	LocationID          string        `json:"location_id,omitempty"`
	CustomerID          string        `json:"customer_id,omitempty"`
	CustomerNote        string        `json:"customer_note,omitempty"`
	Version             int64         `json:"version,omitempty"`
	AppointmentSegments []wireSegment `json:"appointment_segments,omitempty"`
	CreatedAt           string        `json:"created_at,omitempty"`
	UpdatedAt           string        `json:"updated_at,omitempty"`
}

type wireError struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type bookingEnvelope struct {
	Booking wireBooking `json:"booking"`
	Errors  []wireError `json:"errors,omitempty"`
}

type createRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Booking        wireBooking `json:"booking"`
}

type updateRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Booking        wireBooking `json:"booking"`
}

// Create создаёт бронь у провайдера.
func (c *Client) Create(ctx context.Context, req domain.ReservationRequest) (domain.ExternalBooking, error) {
	body := createRequest{
		IdempotencyKey: req.IdempotencyKey,
		Booking: wireBooking{
			StartAt:      req.StartAt.UTC().Format(time.RFC3339),
			LocationID:   req.LocationID,
			CustomerID:   req.CustomerID,
			CustomerNote: req.Note,
			AppointmentSegments: []wireSegment{{
				DurationMinutes: req.DurationMinutes,
				TeamMemberID:    req.StaffID,
			}},
		},
	}

	envelope, err := c.do(ctx, http.MethodPost, "/v2/bookings", body)
	if err != nil {
		return domain.ExternalBooking{}, err
	}
	return envelope.Booking.toDomain(), nil
}

// Get возвращает текущее состояние брони.
func (c *Client) Get(ctx context.Context, externalID string) (domain.ExternalBooking, error) {
	envelope, err := c.do(ctx, http.MethodGet, "/v2/bookings/"+externalID, nil)
	if err != nil {
		return domain.ExternalBooking{}, err
	}
	return envelope.Booking.toDomain(), nil
}

// Update изменяет бронь. Провайдер выдаёт новый идентификатор брони:
// вызывающий код обязан заместить им прежний.
func (c *Client) Update(ctx context.Context, externalID string, changes domain.BookingChanges, idempotencyKey string) (domain.ExternalBooking, error) {
	booking := wireBooking{
		CustomerID:   changes.CustomerID,
		CustomerNote: changes.Note,
	}
	if changes.StartAt != nil {
		booking.StartAt = changes.StartAt.UTC().Format(time.RFC3339)
	}
	if changes.DurationMinutes > 0 {
		booking.AppointmentSegments = []wireSegment{{DurationMinutes: changes.DurationMinutes}}
	}

	envelope, err := c.do(ctx, http.MethodPut, "/v2/bookings/"+externalID, updateRequest{
		IdempotencyKey: idempotencyKey,
		Booking:        booking,
	})
	if err != nil {
		return domain.ExternalBooking{}, err
	}
	return envelope.Booking.toDomain(), nil
}

// Cancel отменяет бронь у провайдера.
func (c *Client) Cancel(ctx context.Context, externalID string) (domain.ExternalBooking, error) {
	envelope, err := c.do(ctx, http.MethodPost, "/v2/bookings/"+externalID+"/cancel", struct{}{})
	if err != nil {
		return domain.ExternalBooking{}, err
	}
	return envelope.Booking.toDomain(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*bookingEnvelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrExternalUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("scheduling provider server error")
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrExternalUnavailable, resp.StatusCode, errorDetail(data))
	}
	if resp.StatusCode >= 400 {
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("scheduling provider rejected request")
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrExternalRejected, resp.StatusCode, errorDetail(data))
	}

	var envelope bookingEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrExternalUnavailable, err)
	}
	return &envelope, nil
}

func errorDetail(data []byte) string {
	var envelope bookingEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Errors) > 0 {
		return envelope.Errors[0].Detail
	}
	return strings.TrimSpace(string(data))
}

func (w wireBooking) toDomain() domain.ExternalBooking {
	eb := domain.ExternalBooking{
		ID:         w.ID,
		Status:     w.Status,
		CustomerID: w.CustomerID,
		LocationID: w.LocationID,
		Version:    w.Version,
	}
	if t, err := time.Parse(time.RFC3339, w.StartAt); err == nil {
		eb.StartAt = t
	}
	if len(w.AppointmentSegments) > 0 {
		eb.DurationMinutes = w.AppointmentSegments[0].DurationMinutes
		eb.StaffID = w.AppointmentSegments[0].TeamMemberID
	}
	if t, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
		eb.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, w.UpdatedAt); err == nil {
		eb.UpdatedAt = t
	}
	return eb
}

var _ domain.ExternalSchedulingClient = (*Client)(nil)
