package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/booking/pkg/clock"
)

type Repository interface {
	Create(ctx context.Context, s *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	Update(ctx context.Context, s *Slot) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date clock.Date) ([]*Slot, error)

	// FindOverlapping returns a slot of the doctor on date, other than
	// excludeID, whose primary interval overlaps iv, or nil.
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, date clock.Date, iv clock.Interval, excludeID uuid.UUID) (*Slot, error)

	// ListAvailableOn returns the is_available records on date.
	ListAvailableOn(ctx context.Context, date clock.Date) ([]*Slot, error)

	// Lock serializes writers for one doctor and date until the surrounding
	// transaction ends.
	Lock(ctx context.Context, doctorID uuid.UUID, date clock.Date) error
}
