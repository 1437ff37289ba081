package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inkwellstudio/bms/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	appointmentColumns = `
		id, customer_id, contact_email, contact_phone, artist_id, tattoo_request_id,
		start_time, end_time, duration_minutes, type, status,
		external_reference_id, price_quote_minor, notes, version, created_at, updated_at`
)

type appointmentRepository struct {
	db *sql.DB
}

// NewAppointmentRepository создаёт PostgreSQL-реализацию AppointmentRepository.
func NewAppointmentRepository(store *Store) domain.AppointmentRepository {
	return &appointmentRepository{db: store.DB()}
}

func (r *appointmentRepository) Create(appt domain.Appointment) (domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	appt.Version = 0

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appointments (
			id, customer_id, contact_email, contact_phone, artist_id, tattoo_request_id,
			start_time, end_time, duration_minutes, type, status,
			external_reference_id, price_quote_minor, notes, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		appt.ID, appt.CustomerID, appt.ContactEmail, appt.ContactPhone, appt.ArtistID, appt.TattooRequestID,
		appt.StartTime, appt.EndTime, appt.Duration, string(appt.Type), string(appt.Status),
		appt.ExternalReferenceID, appt.PriceQuoteMinor, appt.Notes, appt.Version, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Appointment{}, domain.ErrAppointmentVersionConflict
		}
		return domain.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	return appt, nil
}

func (r *appointmentRepository) Get(id string) (domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, domain.ErrBookingNotFound
		}
		return domain.Appointment{}, fmt.Errorf("select appointment: %w", err)
	}

	return appt, nil
}

func (r *appointmentRepository) Save(appt domain.Appointment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE appointments
		SET customer_id = $1,
		    contact_email = $2,
		    contact_phone = $3,
		    artist_id = $4,
		    tattoo_request_id = $5,
		    start_time = $6,
		    end_time = $7,
		    duration_minutes = $8,
		    type = $9,
		    status = $10,
		    external_reference_id = $11,
		    price_quote_minor = $12,
		    notes = $13,
		    version = version + 1,
		    updated_at = $14
		WHERE id = $15
		  AND version = $16
	`,
		appt.CustomerID, appt.ContactEmail, appt.ContactPhone, appt.ArtistID, appt.TattooRequestID,
		appt.StartTime, appt.EndTime, appt.Duration, string(appt.Type), string(appt.Status),
		appt.ExternalReferenceID, appt.PriceQuoteMinor, appt.Notes,
		time.Now().UTC(), appt.ID, appt.Version,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.appointmentExists(ctx, appt.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrBookingNotFound
		}
		return domain.ErrAppointmentVersionConflict
	}

	return nil
}

func (r *appointmentRepository) ListByCustomer(customerID string, limit int) ([]domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT` + appointmentColumns + `
		FROM appointments
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *appointmentRepository) ListUnmirrored(limit int) ([]domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT` + appointmentColumns + `
		FROM appointments
		WHERE external_reference_id = ''
		  AND status <> $1
		ORDER BY created_at ASC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)

	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", string(domain.AppointmentStatusCancelled), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, string(domain.AppointmentStatusCancelled))
	}
	if err != nil {
		return nil, fmt.Errorf("list unmirrored appointments: %w", err)
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *appointmentRepository) appointmentExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM appointments WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check appointment exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var (
		appt        domain.Appointment
		bookingType string
		status      string
	)

	if err := row.Scan(
		&appt.ID, &appt.CustomerID, &appt.ContactEmail, &appt.ContactPhone, &appt.ArtistID, &appt.TattooRequestID,
		&appt.StartTime, &appt.EndTime, &appt.Duration, &bookingType, &status,
		&appt.ExternalReferenceID, &appt.PriceQuoteMinor, &appt.Notes, &appt.Version, &appt.CreatedAt, &appt.UpdatedAt,
	); err != nil {
		return domain.Appointment{}, err
	}

	appt.Type = domain.BookingType(bookingType)
	appt.Status = domain.AppointmentStatus(status)
	return appt, nil
}

func collectAppointments(rows *sql.Rows) ([]domain.Appointment, error) {
	result := make([]domain.Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment row: %w", err)
		}
		result = append(result, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate appointment rows: %w", err)
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.AppointmentRepository = (*appointmentRepository)(nil)
