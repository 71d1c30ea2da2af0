package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/pkg/clock"
)

// DefaultDuration is the length of an appointment booked without an end time.
const DefaultDuration = time.Hour

const msgOverlapsAppointment = "overlaps with an existing appointment"

// Engine decides whether a doctor can be booked for an interval on a date.
// Callers that write afterwards must hold the (doctor, date) lock for the
// check to stay valid until commit.
type Engine struct {
	appointments Repository
	slots        SlotSource
}

func NewEngine(appointments Repository, slots SlotSource) *Engine {
	return &Engine{appointments: appointments, slots: slots}
}

// Normalize builds the requested interval. Times are already whole minutes;
// a missing end defaults to DefaultDuration after start.
func Normalize(start clock.TimeOfDay, end *clock.TimeOfDay) (clock.Interval, error) {
	if end == nil {
		e, ok := start.Add(DefaultDuration)
		if !ok {
			return clock.Interval{}, apperr.Validation("default end time would cross midnight; provide end_time")
		}
		return clock.Interval{Start: start, End: e}, nil
	}
	iv := clock.Interval{Start: start, End: *end}
	if !iv.Valid() {
		return clock.Interval{}, apperr.Validation("start time must be before end time")
	}
	return iv, nil
}

// Check returns a Conflict error when iv overlaps another appointment of the
// doctor on date (excludeID aside) or one of the doctor's blocked intervals.
// Every unavailable record on the date is checked. A date without records is
// open.
func (e *Engine) Check(ctx context.Context, doctorID uuid.UUID, date clock.Date, iv clock.Interval, excludeID uuid.UUID) error {
	existing, err := e.appointments.FindConflicting(ctx, doctorID, date, iv, excludeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Conflict(msgOverlapsAppointment)
	}

	slots, err := e.slots.ListByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if ni, hit := s.Collision(iv); hit {
			return apperr.Conflict("requested time collides with doctor's unavailability (%s slot %s)", ni.Name, ni.Interval)
		}
	}
	return nil
}
