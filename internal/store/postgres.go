package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	_ appointment.Repository = (*Postgres)(nil)
	_ schedule.Repository    = (*Postgres)(nil)
	_ Directory              = (*Postgres)(nil)
)

const uniqueViolation = "23505"

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const slotColumns = `id, doctor_id, clinic_id, room_id, slot_date, slot_time, duration_minutes, status, created_at, updated_at`

const appointmentColumns = `id, patient_id, doctor_id, clinic_id, room_id, slot_id, slot_date, slot_time, status,
	payment_amount, payment_method, payment_status, payment_transaction_id, payment_timestamp, notes,
	confirmed_at, completed_at, cancelled_at, cancelled_by, cancellation_reason, created_at, updated_at`

const scheduleColumns = `id, doctor_id, day_of_week, clinic_id, room_id, start_time, end_time,
	slot_duration_minutes, is_active, created_at, updated_at`

// Helpers

func scanSlot(row pgx.Row) (*appointment.Slot, error) {
	var s appointment.Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.ClinicID,
		&s.RoomID,
		&s.Date,
		&s.Time,
		&s.DurationMinutes,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = s.Date.UTC()
	return &s, nil
}

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var a appointment.Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ClinicID,
		&a.RoomID,
		&a.SlotID,
		&a.SlotDate,
		&a.SlotTime,
		&a.Status,
		&a.Payment.Amount,
		&a.Payment.Method,
		&a.Payment.Status,
		&a.Payment.TransactionID,
		&a.Payment.Timestamp,
		&a.Notes,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotDate = a.SlotDate.UTC()
	return &a, nil
}

func scanScheduleDay(row pgx.Row) (*schedule.ScheduleDay, error) {
	var d schedule.ScheduleDay
	var dow int16

	err := row.Scan(
		&d.ID,
		&d.DoctorID,
		&dow,
		&d.ClinicID,
		&d.RoomID,
		&d.StartTime,
		&d.EndTime,
		&d.SlotDurationMinutes,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.DayOfWeek = time.Weekday(dow)
	return &d, nil
}

func collectSlots(rows pgx.Rows) ([]appointment.Slot, error) {
	defer rows.Close()

	var result []appointment.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]appointment.Appointment, error) {
	defer rows.Close()

	var result []appointment.Appointment
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Directory

func (r *Postgres) GetPatientByID(ctx context.Context, id uuid.UUID) (*appointment.Patient, error) {
	var p appointment.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Postgres) GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	var d appointment.Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Postgres) GetClinicByID(ctx context.Context, id uuid.UUID) (*appointment.Clinic, error) {
	var c appointment.Clinic
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, address, created_at
		FROM clinics
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Address, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *Postgres) GetRoomByID(ctx context.Context, id uuid.UUID) (*appointment.Room, error) {
	var rm appointment.Room
	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, created_at
		FROM rooms
		WHERE id = $1
	`, id).Scan(&rm.ID, &rm.ClinicID, &rm.Name, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *Postgres) CreatePatient(ctx context.Context, p *appointment.Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, p.ID, p.Name, p.Email)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *Postgres) CreateDoctor(ctx context.Context, d *appointment.Doctor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialty, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
	`, d.ID, d.Name, d.Specialty)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *Postgres) CreateClinic(ctx context.Context, c *appointment.Clinic) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinics (id, name, address, created_at)
		VALUES ($1, $2, $3, now())
	`, c.ID, c.Name, c.Address)
	if err != nil {
		return fmt.Errorf("insert clinic: %w", err)
	}
	return nil
}

func (r *Postgres) CreateRoom(ctx context.Context, rm *appointment.Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, clinic_id, name, created_at)
		VALUES ($1, $2, $3, now())
	`, rm.ID, rm.ClinicID, rm.Name)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// Schedule

func (r *Postgres) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []schedule.ScheduleDay) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace schedule: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_days WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}

	for _, d := range days {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_days (`+scheduleColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, d.ID, doctorID, int16(d.DayOfWeek), d.ClinicID, d.RoomID, d.StartTime, d.EndTime,
			d.SlotDurationMinutes, d.IsActive, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert schedule day %d: %w", d.DayOfWeek, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace schedule: %w", err)
	}
	return nil
}

func (r *Postgres) ListSchedule(ctx context.Context, doctorID uuid.UUID) ([]schedule.ScheduleDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedule_days
		WHERE doctor_id = $1
		ORDER BY day_of_week, created_at
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.ScheduleDay
	for rows.Next() {
		d, err := scanScheduleDay(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertSlotsIfAbsent sends every candidate in one batch. ON CONFLICT DO
// NOTHING on the slot key leaves existing slots, booked or not, as they are.
func (r *Postgres) InsertSlotsIfAbsent(ctx context.Context, slots []appointment.Slot) ([]appointment.Slot, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO slots (id, doctor_id, clinic_id, room_id, slot_date, slot_time, duration_minutes, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'available', now(), now())
			ON CONFLICT (doctor_id, clinic_id, slot_date, slot_time) DO NOTHING
			RETURNING `+slotColumns,
			uuid.New(), s.DoctorID, s.ClinicID, s.RoomID, s.Date, s.Time, s.DurationMinutes)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var created []appointment.Slot
	for range slots {
		s, err := scanSlot(br.QueryRow())
		if errors.Is(err, appointment.ErrSlotNotFound) {
			continue // already present
		}
		if err != nil {
			return nil, fmt.Errorf("insert slot: %w", err)
		}
		created = append(created, *s)
	}

	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close slot batch: %w", err)
	}
	return created, nil
}

// Slots

func (r *Postgres) GetSlotByID(ctx context.Context, id uuid.UUID) (*appointment.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *Postgres) ListSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, status *appointment.SlotStatus) ([]appointment.Slot, error) {
	var st *string
	if status != nil {
		v := string(*status)
		st = &v
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND ($3::text IS NULL OR status = $3::text)
		ORDER BY slot_time
	`, doctorID, date, st)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// ClaimSlot is the booking critical section: the status check and the
// status change are one UPDATE, so Postgres row locking decides the winner.
func (r *Postgres) ClaimSlot(ctx context.Context, c appointment.SlotClaim) (*appointment.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = 'booked',
		    updated_at = now()
		WHERE id = $1
		  AND doctor_id = $2
		  AND clinic_id = $3
		  AND room_id IS NOT DISTINCT FROM $4::uuid
		  AND status = 'available'
		RETURNING `+slotColumns,
		c.SlotID, c.DoctorID, c.ClinicID, c.RoomID)

	s, err := scanSlot(row)
	if errors.Is(err, appointment.ErrSlotNotFound) {
		return nil, appointment.ErrSlotUnavailable
	}
	return s, err
}

func (r *Postgres) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'available',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'booked'
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments
		      WHERE slot_id = $1 AND status <> 'cancelled'
		  )
	`, slotID)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Postgres) FindOrphanedSlots(ctx context.Context, bookedBefore time.Time) ([]appointment.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots s
		WHERE s.status = 'booked'
		  AND s.updated_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments a
		      WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
		ORDER BY s.updated_at
	`, bookedBefore)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

// Appointments

func (r *Postgres) CreateAppointment(ctx context.Context, a *appointment.Appointment, p *appointment.PaymentRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, clinic_id, room_id, slot_id, slot_date, slot_time, status,
			payment_amount, payment_method, payment_status, payment_transaction_id, payment_timestamp,
			notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, a.ID, a.PatientID, a.DoctorID, a.ClinicID, a.RoomID, a.SlotID, a.SlotDate, a.SlotTime, string(a.Status),
		a.Payment.Amount, string(a.Payment.Method), string(a.Payment.Status), a.Payment.TransactionID, a.Payment.Timestamp,
		a.Notes, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slot %s already has a live appointment: %w", a.SlotID, err)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, doctor_id, amount, method, status, transaction_id, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.AppointmentID, p.PatientID, p.DoctorID, p.Amount, string(p.Method), string(p.Status),
		p.TransactionID, p.Timestamp, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit appointment: %w", err)
	}
	return nil
}

func (r *Postgres) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *Postgres) ListAppointments(ctx context.Context, q appointment.ListQuery) ([]appointment.Appointment, error) {
	var where []string
	var args []any

	if q.PatientID != nil {
		args = append(args, *q.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if q.DoctorID != nil {
		args = append(args, *q.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if q.Status != nil {
		args = append(args, string(*q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, q.Limit, q.Offset)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *Postgres) TransitionAppointment(ctx context.Context, id uuid.UUID, from []appointment.AppointmentStatus, t appointment.Transition) (*appointment.Appointment, error) {
	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2::text,
		    updated_at = $3::timestamptz,
		    confirmed_at = CASE WHEN $2::text = 'confirmed' THEN $3::timestamptz ELSE confirmed_at END,
		    completed_at = CASE WHEN $2::text = 'completed' THEN $3::timestamptz ELSE completed_at END,
		    cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $3::timestamptz ELSE cancelled_at END,
		    cancelled_by = CASE WHEN $2::text = 'cancelled' THEN $4::uuid ELSE cancelled_by END,
		    cancellation_reason = CASE WHEN $2::text = 'cancelled' THEN $5::text ELSE cancellation_reason END
		WHERE id = $1
		  AND status = ANY($6::text[])
		RETURNING `+appointmentColumns,
		id, string(t.To), t.At, t.By, t.Reason, fromStates)

	a, err := scanAppointment(row)
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, fmt.Errorf("%w: appointment %s is not in %v", appointment.ErrInvalidTransition, id, fromStates)
	}
	return a, err
}

func (r *Postgres) FindUnconfirmedBefore(ctx context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'booked'
		  AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// Ratings

func (r *Postgres) CreateRating(ctx context.Context, rt *appointment.Rating) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO ratings (id, appointment_id, patient_id, doctor_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appointment_id) DO NOTHING
	`, rt.ID, rt.AppointmentID, rt.PatientID, rt.DoctorID, rt.Score, rt.Comment, rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return appointment.ErrAlreadyRated
	}
	return nil
}

func (r *Postgres) ListRatingsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]appointment.Rating, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, score, comment, created_at
		FROM ratings
		WHERE doctor_id = $1
		ORDER BY created_at DESC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []appointment.Rating
	for rows.Next() {
		var rt appointment.Rating
		var score int16
		if err := rows.Scan(&rt.ID, &rt.AppointmentID, &rt.PatientID, &rt.DoctorID, &score, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, err
		}
		rt.Score = int(score)
		result = append(result, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Events

func (r *Postgres) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
