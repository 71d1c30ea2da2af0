package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/db"
)

type directoryPG struct {
	pool db.Querier
}

func NewDirectory(pool db.Querier) Directory {
	return &directoryPG{pool: pool}
}

const personCols = `p.id, u.id, u.first_name, u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')`

const doctorFrom = ` FROM doctor_profiles p JOIN users u ON u.id = p.user_id`

const patientFrom = ` FROM patient_profiles p JOIN users u ON u.id = p.user_id`

func scanPerson(row pgx.Row) (*Person, error) {
	var p Person
	if err := row.Scan(&p.ProfileID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.Phone); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *directoryPG) Doctor(ctx context.Context, doctorID uuid.UUID) (*Person, error) {
	p, err := scanPerson(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+personCols+doctorFrom+` WHERE p.id = $1`, doctorID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("doctor not found")
		}
		return nil, apperr.Persistence("get doctor", err)
	}
	return p, nil
}

func (r *directoryPG) Patient(ctx context.Context, patientID uuid.UUID) (*Person, error) {
	p, err := scanPerson(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+personCols+patientFrom+` WHERE p.id = $1`, patientID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient not found")
		}
		return nil, apperr.Persistence("get patient", err)
	}
	return p, nil
}

func (r *directoryPG) PatientByFullName(ctx context.Context, fullName string) (*Person, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+personCols+patientFrom+` WHERE u.first_name || ' ' || u.last_name = $1 LIMIT 2`, fullName)
	if err != nil {
		return nil, apperr.Persistence("find patient by name", err)
	}
	defer rows.Close()

	var found []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, apperr.Persistence("scan patient", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("find patient by name", err)
	}

	switch len(found) {
	case 0:
		return nil, apperr.NotFound("patient %q not found", fullName)
	case 1:
		return found[0], nil
	default:
		return nil, apperr.NotFound("no unique patient named %q", fullName)
	}
}

func (r *directoryPG) Doctors(ctx context.Context, doctorIDs []uuid.UUID) (map[uuid.UUID]*Person, error) {
	out := make(map[uuid.UUID]*Person, len(doctorIDs))
	if len(doctorIDs) == 0 {
		return out, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+personCols+doctorFrom+` WHERE p.id = ANY($1)`, doctorIDs)
	if err != nil {
		return nil, apperr.Persistence("list doctors", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, apperr.Persistence("scan doctor", err)
		}
		out[p.ProfileID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list doctors", err)
	}
	return out, nil
}
