package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellstudio/bms/internal/domain"
)

type tattooRequestRepository struct {
	db *sql.DB
}

// NewTattooRequestRepository создаёт PostgreSQL-реализацию TattooRequestRepository.
func NewTattooRequestRepository(store *Store) domain.TattooRequestRepository {
	return &tattooRequestRepository{db: store.DB()}
}

func (r *tattooRequestRepository) Create(tr domain.TattooRequest) (domain.TattooRequest, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tattoo_requests (
			id, customer_id, description, placement, size, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		tr.ID, tr.CustomerID, tr.Description, tr.Placement, tr.Size, string(tr.Status), tr.CreatedAt, tr.UpdatedAt,
	)
	if err != nil {
		return domain.TattooRequest{}, fmt.Errorf("insert tattoo request: %w", err)
	}

	return tr, nil
}

func (r *tattooRequestRepository) Get(id string) (domain.TattooRequest, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		tr     domain.TattooRequest
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, description, placement, size, status, created_at, updated_at
		FROM tattoo_requests
		WHERE id = $1
	`, id).Scan(
		&tr.ID, &tr.CustomerID, &tr.Description, &tr.Placement, &tr.Size, &status, &tr.CreatedAt, &tr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TattooRequest{}, domain.ErrTattooRequestNotFound
		}
		return domain.TattooRequest{}, fmt.Errorf("select tattoo request: %w", err)
	}

	tr.Status = domain.TattooRequestStatus(status)
	return tr, nil
}

var _ domain.TattooRequestRepository = (*tattooRequestRepository)(nil)
