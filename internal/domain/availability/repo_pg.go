package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/db"
	"github.com/medibook/booking/pkg/clock"
)

type slotRepoPG struct {
	pool db.Querier
}

func NewRepo(pool db.Querier) Repository {
	return &slotRepoPG{pool: pool}
}

const slotCols = `id, doctor_id, availability_date, start_time, end_time,
	start_time2, end_time2, start_time3, end_time3, is_available, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime,
		&s.StartTime2, &s.EndTime2, &s.StartTime3, &s.EndTime3,
		&s.IsAvailable, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *slotRepoPG) list(ctx context.Context, op, query string, args ...interface{}) ([]*Slot, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	defer rows.Close()
	var out []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, apperr.Persistence(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return out, nil
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability_slots (id, doctor_id, availability_date, start_time, end_time,
			start_time2, end_time2, start_time3, end_time3, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime,
		s.StartTime2, s.EndTime2, s.StartTime3, s.EndTime3, s.IsAvailable,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if db.HasCode(err, db.CodeForeignKeyViolation) {
			return apperr.NotFound("doctor not found")
		}
		return apperr.Persistence("insert availability slot", err)
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+` FROM availability_slots WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("availability slot not found")
		}
		return nil, apperr.Persistence("get availability slot", err)
	}
	return s, nil
}

func (r *slotRepoPG) Update(ctx context.Context, s *Slot) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE availability_slots SET availability_date = $2, start_time = $3, end_time = $4,
			start_time2 = $5, end_time2 = $6, start_time3 = $7, end_time3 = $8,
			is_available = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Date, s.StartTime, s.EndTime,
		s.StartTime2, s.EndTime2, s.StartTime3, s.EndTime3, s.IsAvailable,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("availability slot not found")
		}
		return apperr.Persistence("update availability slot", err)
	}
	return nil
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete availability slot", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("availability slot not found")
	}
	return nil
}

func (r *slotRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error) {
	return r.list(ctx, "list availability", `SELECT `+slotCols+` FROM availability_slots
		WHERE doctor_id = $1 ORDER BY availability_date, start_time`, doctorID)
}

func (r *slotRepoPG) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date clock.Date) ([]*Slot, error) {
	return r.list(ctx, "list availability by date", `SELECT `+slotCols+` FROM availability_slots
		WHERE doctor_id = $1 AND availability_date = $2 ORDER BY start_time`, doctorID, date)
}

func (r *slotRepoPG) FindOverlapping(ctx context.Context, doctorID uuid.UUID, date clock.Date, iv clock.Interval, excludeID uuid.UUID) (*Slot, error) {
	s, err := scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM availability_slots
		WHERE doctor_id = $1 AND availability_date = $2 AND id <> $3
			AND start_time < $5 AND $4 < end_time
		ORDER BY start_time LIMIT 1`, doctorID, date, excludeID, iv.Start, iv.End))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, apperr.Persistence("find overlapping availability", err)
	}
	return s, nil
}

func (r *slotRepoPG) ListAvailableOn(ctx context.Context, date clock.Date) ([]*Slot, error) {
	return r.list(ctx, "list available slots", `SELECT `+slotCols+` FROM availability_slots
		WHERE availability_date = $1 AND is_available ORDER BY doctor_id, start_time`, date)
}

func (r *slotRepoPG) Lock(ctx context.Context, doctorID uuid.UUID, date clock.Date) error {
	return db.AdvisoryLock(ctx, fmt.Sprintf("availability:%s:%s", doctorID, date))
}
