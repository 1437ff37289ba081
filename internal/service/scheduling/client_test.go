package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/inkwellstudio/bms/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		BaseURL: server.URL,
		Token:   "test-token",
	}, log.New().WithField("test", t.Name()))
}

func TestClient_Create(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/bookings" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header: %q", got)
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.IdempotencyKey != "key-1" {
			t.Errorf("unexpected idempotency key: %q", req.IdempotencyKey)
		}
		if len(req.Booking.AppointmentSegments) != 1 || req.Booking.AppointmentSegments[0].DurationMinutes != 60 {
			t.Errorf("unexpected segments: %+v", req.Booking.AppointmentSegments)
		}

		json.NewEncoder(w).Encode(bookingEnvelope{Booking: wireBooking{
			ID:         "ext-1",
			Status:     "ACCEPTED",
			StartAt:    "2026-09-14T12:00:00Z",
			LocationID: "studio-main",
			CustomerID: "provider-customer-1",
			Version:    1,
			AppointmentSegments: []wireSegment{{
				DurationMinutes: 60,
				TeamMemberID:    "artist-1",
			}},
		}})
	})

	booking, err := client.Create(context.Background(), domain.ReservationRequest{
		StartAt:         time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		LocationID:      "studio-main",
		CustomerID:      "provider-customer-1",
		StaffID:         "artist-1",
		IdempotencyKey:  "key-1",
		Note:            "consultation",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if booking.ID != "ext-1" {
		t.Fatalf("expected id ext-1, got %q", booking.ID)
	}
	if booking.DurationMinutes != 60 {
		t.Fatalf("expected duration 60, got %d", booking.DurationMinutes)
	}
	if booking.StaffID != "artist-1" {
		t.Fatalf("expected staff artist-1, got %q", booking.StaffID)
	}
	want := time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC)
	if !booking.StartAt.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, booking.StartAt)
	}
}

func TestClient_Create_Rejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(bookingEnvelope{Errors: []wireError{{
			Category: "INVALID_REQUEST_ERROR",
			Code:     "BAD_REQUEST",
			Detail:   "start_at is in the past",
		}}})
	})

	_, err := client.Create(context.Background(), domain.ReservationRequest{IdempotencyKey: "key-1"})
	if !errors.Is(err, domain.ErrExternalRejected) {
		t.Fatalf("expected ErrExternalRejected, got %v", err)
	}
}

func TestClient_Get_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Get(context.Background(), "ext-1")
	if !errors.Is(err, domain.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
}

func TestClient_Update_ReturnsNewID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v2/bookings/ext-old" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(bookingEnvelope{Booking: wireBooking{
			ID:     "ext-new",
			Status: "ACCEPTED",
		}})
	})

	newStart := time.Date(2026, 9, 16, 10, 0, 0, 0, time.UTC)
	booking, err := client.Update(context.Background(), "ext-old", domain.BookingChanges{
		StartAt: &newStart,
	}, "key-2")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if booking.ID != "ext-new" {
		t.Fatalf("expected new id ext-new, got %q", booking.ID)
	}
}

func TestClient_Cancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/bookings/ext-1/cancel" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(bookingEnvelope{Booking: wireBooking{
			ID:     "ext-1",
			Status: "CANCELLED_BY_SELLER",
		}})
	})

	booking, err := client.Cancel(context.Background(), "ext-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if booking.Status != "CANCELLED_BY_SELLER" {
		t.Fatalf("unexpected status %q", booking.Status)
	}
}

func TestClient_NetworkError(t *testing.T) {
	client := NewClient(Config{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	}, log.New().WithField("test", t.Name()))

	_, err := client.Get(context.Background(), "ext-1")
	if !errors.Is(err, domain.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
}
