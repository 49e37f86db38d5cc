package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// uniqueViolation is the Postgres SQLSTATE for a unique index violation. The
// appointment table carries a partial unique index on (doctor_id, date, time)
// for non-cancelled rows.
const uniqueViolation = "23505"

type appointmentRepoPG struct{ db queryable }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{db: pool}
}

const apptCols = `id, patient_id, doctor_id, date, time, duration_minutes,
	type, status, notes, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a                  Appointment
		date               time.Time
		typ, status, notes string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &a.Time, &a.DurationMinutes,
		&typ, &status, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = DateOf(date)
	a.Type = AppointmentType(typ)
	a.Status = Status(status)
	a.Notes = notes
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, date, time, duration_minutes,
			type, status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.PatientID, a.DoctorID, a.Date.Time(), a.Time, a.DurationMinutes,
		string(a.Type), string(a.Status), a.Notes, a.CreatedAt, a.UpdatedAt)
	return mapPGError(err, a)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.db.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return a, err
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointment SET date=$2, time=$3, duration_minutes=$4, type=$5,
			status=$6, notes=$7, updated_at=$8
		WHERE id = $1`,
		a.ID, a.Date.Time(), a.Time, a.DurationMinutes, string(a.Type),
		string(a.Status), a.Notes, a.UpdatedAt)
	if err != nil {
		return mapPGError(err, a)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, a.ID)
	}
	return nil
}

func (r *appointmentRepoPG) ListActive(ctx context.Context) ([]*Appointment, error) {
	return r.collect(ctx, `SELECT `+apptCols+` FROM appointment WHERE status <> 'cancelled'`)
}

func (r *appointmentRepoPG) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, ``, limit, offset)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, `WHERE patient_id = $1`, limit, offset, patientID)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Appointment, int, error) {
	return r.page(ctx, `WHERE doctor_id = $1`, limit, offset, doctorID)
}

func (r *appointmentRepoPG) ListByStatusBetween(ctx context.Context, status Status, from, to Date) ([]*Appointment, error) {
	return r.collect(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE status = $1 AND date BETWEEN $2 AND $3 ORDER BY date, time`,
		string(status), from.Time(), to.Time())
}

func (r *appointmentRepoPG) page(ctx context.Context, where string, limit, offset int, args ...interface{}) ([]*Appointment, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM appointment %s ORDER BY date DESC, time DESC, created_at LIMIT $%d OFFSET $%d`,
		apptCols, where, n+1, n+2)
	items, err := r.collect(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func mapPGError(err error, a *Appointment) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s on %s at %s", ErrSlotConflict, a.DoctorID, a.Date, a.Time)
	}
	return err
}
