package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, subject_id, display_name, room_id, state, priority, created_at, service_ends_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var roomID *string
	var serviceEndsAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.SubjectID,
		&a.DisplayName,
		&roomID,
		&a.State,
		&a.Priority,
		&a.CreatedAt,
		&serviceEndsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.RoomID = roomID
	a.ServiceEndsAt = serviceEndsAt
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, subject_id, display_name, room_id, state, priority, created_at, service_ends_at)
		VALUES ($1, $2, $3, NULL, 'waiting', $4, $5, NULL)
		RETURNING `+appointmentColumns+`
	`, id, a.SubjectID, a.DisplayName, a.Priority, a.CreatedAt)

	return scanAppointment(row)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindAll(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindBySubject(ctx context.Context, subjectID int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE subject_id = $1
		ORDER BY created_at DESC
	`, subjectID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindWaiting(ctx context.Context) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE state = 'waiting'
		ORDER BY
			CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END ASC,
			created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) OccupiedRooms(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT room_id
		FROM appointments
		WHERE state = 'active' AND room_id IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occupied []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, err
		}
		occupied = append(occupied, roomID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return occupied, nil
}

func (r *PgRepository) AssignRoom(ctx context.Context, id uuid.UUID, roomID string, serviceEndsAt time.Time) (*Appointment, error) {
	// The state guard is the compare-and-swap: if another scheduler instance
	// already assigned this appointment, zero rows match and the caller sees
	// ErrAppointmentNotFound.
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET room_id = $2,
		    state = 'active',
		    service_ends_at = $3
		WHERE id = $1
		  AND state = 'waiting'
		RETURNING `+appointmentColumns+`
	`, id, roomID, serviceEndsAt)

	return scanAppointment(row)
}

func (r *PgRepository) CompleteExpired(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE appointments
		SET state = 'completed'
		WHERE state = 'active'
		  AND service_ends_at IS NOT NULL
		  AND service_ends_at <= $1
		RETURNING `+appointmentColumns+`
	`, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}
