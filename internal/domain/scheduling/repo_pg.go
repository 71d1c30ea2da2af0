package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/db"
	"github.com/medibook/booking/pkg/clock"
)

type appointmentRepoPG struct {
	pool db.Querier
}

func NewRepo(pool db.Querier) Repository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `a.id, a.doctor_id, a.patient_id, a.appointment_date, a.start_time, a.end_time,
	a.status, COALESCE(a.reason, ''), COALESCE(a.notes, ''), a.created_at, a.is_updated, a.update_date`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.StartTime, &a.EndTime,
		&a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.IsUpdated, &a.UpdateDate)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// writeErr maps constraint violations raised by inserts and updates.
func writeErr(op string, err error) error {
	switch {
	case db.HasCode(err, db.CodeExclusionViolation):
		return apperr.Conflict("overlaps with an existing appointment")
	case db.HasCode(err, db.CodeForeignKeyViolation):
		return apperr.NotFound("doctor or patient not found")
	}
	return apperr.Persistence(op, err)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, start_time, end_time,
			status, reason, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))
		RETURNING created_at`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.StartTime, a.EndTime,
		string(a.Status), a.Reason, a.Notes,
	).Scan(&a.CreatedAt)
	if err != nil {
		return writeErr("insert appointment", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, apperr.Persistence("get appointment", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET appointment_date = $2, start_time = $3, end_time = $4,
			status = $5, reason = NULLIF($6, ''), notes = NULLIF($7, ''),
			is_updated = $8, update_date = $9
		WHERE id = $1`,
		a.ID, a.Date, a.StartTime, a.EndTime,
		string(a.Status), a.Reason, a.Notes, a.IsUpdated, a.UpdateDate,
	)
	if err != nil {
		return writeErr("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

func (r *appointmentRepoPG) FindConflicting(ctx context.Context, doctorID uuid.UUID, date clock.Date, iv clock.Interval, excludeID uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a
		WHERE a.doctor_id = $1 AND a.appointment_date = $2 AND a.id <> $3
			AND a.start_time < $5 AND $4 < a.end_time
		ORDER BY a.start_time LIMIT 1`, doctorID, date, excludeID, iv.Start, iv.End))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Persistence("find conflicting appointment", err)
	}
	return a, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching term literally anywhere
// in a value.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// elapsedSQL is clock.Elapsed over the appointments table; $d is today and
// $t the current time of day.
const elapsedSQL = `(a.appointment_date < %[1]s OR (a.appointment_date = %[1]s AND a.end_time < %[2]s))`

func (r *appointmentRepoPG) List(ctx context.Context, f Filter) ([]*Appointment, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	from := `FROM appointments a`
	if f.DoctorID != uuid.Nil {
		where = append(where, "a.doctor_id = "+arg(f.DoctorID))
	}
	if f.PatientID != uuid.Nil {
		where = append(where, "a.patient_id = "+arg(f.PatientID))
	}
	if f.Date != nil {
		where = append(where, "a.appointment_date = "+arg(*f.Date))
	}
	if f.Status != "" {
		where = append(where, "a.status = "+arg(string(f.Status)))
	}
	if f.NameContains != "" {
		from += `
			JOIN doctor_profiles dp ON dp.id = a.doctor_id JOIN users du ON du.id = dp.user_id
			JOIN patient_profiles pp ON pp.id = a.patient_id JOIN users pu ON pu.id = pp.user_id`
		p := arg(containsPattern(f.NameContains))
		where = append(where, fmt.Sprintf(
			"(du.first_name || ' ' || du.last_name ILIKE %[1]s OR pu.first_name || ' ' || pu.last_name ILIKE %[1]s)", p))
	}
	order := "a.appointment_date, a.start_time"
	switch f.When {
	case Past:
		where = append(where, fmt.Sprintf(elapsedSQL, arg(f.Now.Date), arg(f.Now.Time)))
		order = "a.appointment_date DESC, a.start_time DESC"
	case Upcoming:
		where = append(where, "NOT "+fmt.Sprintf(elapsedSQL, arg(f.Now.Date), arg(f.Now.Time)))
	}

	query := `SELECT ` + apptCols + ` ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ` + order

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence("list appointments", err)
	}
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, apperr.Persistence("scan appointment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list appointments", err)
	}
	return out, nil
}

func (r *appointmentRepoPG) Lock(ctx context.Context, doctorID uuid.UUID, date clock.Date) error {
	return db.AdvisoryLock(ctx, fmt.Sprintf("appointments:%s:%s", doctorID, date))
}
