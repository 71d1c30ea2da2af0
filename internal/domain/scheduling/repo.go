package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/booking/internal/domain/availability"
	"github.com/medibook/booking/pkg/clock"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes every mutable field of a.
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error

	// FindConflicting returns an appointment of the doctor on date, other
	// than excludeID, whose interval overlaps iv, or nil.
	FindConflicting(ctx context.Context, doctorID uuid.UUID, date clock.Date, iv clock.Interval, excludeID uuid.UUID) (*Appointment, error)

	// List returns the appointments matching f. Past listings are newest
	// first, everything else oldest first.
	List(ctx context.Context, f Filter) ([]*Appointment, error)

	// Lock serializes bookings for one doctor and date until the surrounding
	// transaction ends.
	Lock(ctx context.Context, doctorID uuid.UUID, date clock.Date) error
}

// SlotSource is the part of the availability store scheduling reads.
type SlotSource interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*availability.Slot, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date clock.Date) ([]*availability.Slot, error)
}
