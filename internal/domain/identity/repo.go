package identity

import (
	"context"

	"github.com/google/uuid"
)

// Directory resolves the doctors and patients referenced by bookings. It is
// read-only; accounts and profiles are managed elsewhere.
type Directory interface {
	Doctor(ctx context.Context, doctorID uuid.UUID) (*Person, error)
	Patient(ctx context.Context, patientID uuid.UUID) (*Person, error)
	// PatientByFullName matches "first last" exactly and case-sensitively.
	PatientByFullName(ctx context.Context, fullName string) (*Person, error)
	Doctors(ctx context.Context, doctorIDs []uuid.UUID) (map[uuid.UUID]*Person, error)
}
