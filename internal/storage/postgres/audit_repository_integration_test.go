package postgres

import (
	"testing"
	"time"

	"github.com/inkwellstudio/bms/internal/domain"
)

func TestAuditRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAuditRepository(store)

	first := domain.NewAuditEntry(domain.AuditBookingCreated, "appt-audit-1", map[string]interface{}{
		"type": "consultation",
	})
	if err := repo.Append(first); err != nil {
		t.Fatalf("append first entry: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	second := domain.NewAuditEntry(domain.AuditBookingUpdated, "appt-audit-1", nil)
	if err := repo.Append(second); err != nil {
		t.Fatalf("append second entry: %v", err)
	}

	if err := repo.Append(domain.NewAuditEntry(domain.AuditBookingCreated, "appt-audit-2", nil)); err != nil {
		t.Fatalf("append other resource entry: %v", err)
	}

	entries, err := repo.List("appt-audit-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Action != domain.AuditBookingCreated || entries[1].Action != domain.AuditBookingUpdated {
		t.Fatalf("unexpected entry order: %s, %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].Details["type"] != "consultation" {
		t.Fatalf("details not round-tripped: %+v", entries[0].Details)
	}

	empty, err := repo.List("missing-resource")
	if err != nil {
		t.Fatalf("list missing resource: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(empty))
	}
}

func TestCustomerAndTattooRequestRepositories_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	customers := NewCustomerRepository(store)
	requests := NewTattooRequestRepository(store)

	customer, err := customers.Create(domain.Customer{
		Name:               "Ivan",
		Email:              "ivan@example.com",
		ExternalProviderID: "provider-customer-1",
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if customer.ID == "" {
		t.Fatal("expected generated customer id")
	}

	gotCustomer, err := customers.Get(customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if gotCustomer.ExternalProviderID != "provider-customer-1" {
		t.Fatalf("unexpected customer: %+v", gotCustomer)
	}
	if _, err := customers.Get("missing"); err == nil {
		t.Fatal("expected error for missing customer")
	}

	request, err := requests.Create(domain.TattooRequest{
		CustomerID:  customer.ID,
		Description: "dragon on the shoulder",
		Placement:   "shoulder",
		Size:        "medium",
	})
	if err != nil {
		t.Fatalf("create tattoo request: %v", err)
	}
	if request.Status != domain.TattooRequestStatusNew {
		t.Fatalf("expected default status new, got %s", request.Status)
	}

	gotRequest, err := requests.Get(request.ID)
	if err != nil {
		t.Fatalf("get tattoo request: %v", err)
	}
	if gotRequest.CustomerID != customer.ID || gotRequest.Placement != "shoulder" {
		t.Fatalf("unexpected tattoo request: %+v", gotRequest)
	}
	if _, err := requests.Get("missing"); err == nil {
		t.Fatal("expected error for missing tattoo request")
	}
}
