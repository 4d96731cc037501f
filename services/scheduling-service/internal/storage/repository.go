package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinika/clinicsched/libs/db"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/model"
	"github.com/clinika/clinicsched/services/scheduling-service/internal/outbox"
)

// Repository is the pgx-backed implementation of scheduling.Store.
//
// Booking relies on two layers of protection: the day's rows are locked
// FOR UPDATE so the caller's conflict check sees committed state, and a
// partial unique index on (provider_id, date, start_time) for non-terminal
// appointments catches any race the lock ordering misses. Either way the
// loser gets model.ErrConflict.
type Repository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outboxRepo: outboxRepo}
}

const appointmentColumns = `id::text, provider_id, patient_id, date, start_time, end_time, status, COALESCE(comment, ''), comment_updated_at, created_at`

func (r *Repository) ListWindows(ctx context.Context, providerID string) ([]model.AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, provider_id, weekday, start_minute, end_minute
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.ProviderID, &w.Weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}

func (r *Repository) AddWindow(ctx context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	w.ID = uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_windows (id, provider_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5)
	`, w.ID, w.ProviderID, w.Weekday, w.StartMinute, w.EndMinute)
	if err != nil {
		return model.AvailabilityWindow{}, err
	}
	return w, nil
}

func (r *Repository) ListDayAppointments(ctx context.Context, providerID string, date time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND date = $2
		ORDER BY start_time
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *Repository) BookAppointment(ctx context.Context, appt model.Appointment, check func(existing []model.Appointment) error) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND date = $2
		ORDER BY start_time
		FOR UPDATE
	`, appt.ProviderID, appt.Date)
	if err != nil {
		return model.Appointment{}, err
	}
	existing, err := scanAppointments(rows)
	rows.Close()
	if err != nil {
		return model.Appointment{}, err
	}

	if err := check(existing); err != nil {
		return model.Appointment{}, err
	}

	appt.ID = uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, provider_id, patient_id, date, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, appt.ID, appt.ProviderID, appt.PatientID, appt.Date, appt.StartTime, appt.EndTime, appt.Status).Scan(&appt.CreatedAt)
	if err != nil {
		if isUniquenessViolation(err) {
			return model.Appointment{}, fmt.Errorf("%w: a concurrent booking took this time", model.ErrConflict)
		}
		return model.Appointment{}, err
	}

	if err := r.insertAppointmentEvent(ctx, tx, outbox.EventAppointmentRequested, appt); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniquenessViolation(err) {
			return model.Appointment{}, fmt.Errorf("%w: a concurrent booking took this time", model.ErrConflict)
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *Repository) TransitionAppointment(ctx context.Context, appointmentID string, apply func(model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var appt model.Appointment
	err = scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID), &appt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, appointmentID)
		}
		return model.Appointment{}, err
	}

	updated, err := apply(appt)
	if err != nil {
		return model.Appointment{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			comment = NULLIF($3, ''),
			comment_updated_at = $4
		WHERE id = $1
	`, updated.ID, updated.Status, updated.Comment, updated.CommentedAt)
	if err != nil {
		return model.Appointment{}, err
	}

	eventType := outbox.EventAppointmentStatusChanged
	if updated.Status == model.StatusCompleted {
		eventType = outbox.EventAppointmentCompleted
	}
	if err := r.insertAppointmentEvent(ctx, tx, eventType, updated); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

// ListProviderAppointments returns a provider's appointments ordered by
// start time. A zero from returns the full schedule.
func (r *Repository) ListProviderAppointments(ctx context.Context, providerID string, from time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND ($2::timestamptz IS NULL OR start_time >= $2)
		ORDER BY date, start_time
	`, providerID, nullableTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *Repository) ListPatientAppointments(ctx context.Context, patientID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *Repository) insertAppointmentEvent(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date.Format("2006-01-02"),
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		return err
	}
	return r.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner, appt *model.Appointment) error {
	var commentedAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ProviderID,
		&appt.PatientID,
		&appt.Date,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Status,
		&appt.Comment,
		&commentedAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return err
	}
	appt.CommentedAt = commentedAt
	return nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := scanAppointment(rows, &appt); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniquenessViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 23505: unique_violation (partial unique index on provider/date/start
	// for non-terminal statuses). 23P01: exclusion_violation, when the
	// schema carries a range-overlap exclusion constraint instead.
	return pgErr.Code == "23505" || pgErr.Code == "23P01"
}
