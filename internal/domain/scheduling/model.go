package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/booking/internal/domain/availability"
	"github.com/medibook/booking/pkg/clock"
)

// Appointment is a booked visit of a patient with a doctor. Times are whole
// minutes on Date in the business time zone.
type Appointment struct {
	ID         uuid.UUID       `json:"id"`
	DoctorID   uuid.UUID       `json:"doctor_id"`
	PatientID  uuid.UUID       `json:"patient_id"`
	Date       clock.Date      `json:"appointment_date"`
	StartTime  clock.TimeOfDay `json:"start_time"`
	EndTime    clock.TimeOfDay `json:"end_time"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	IsUpdated  bool            `json:"is_updated"`
	UpdateDate *time.Time      `json:"update_date,omitempty"`
}

func (a *Appointment) Interval() clock.Interval {
	return clock.Interval{Start: a.StartTime, End: a.EndTime}
}

// Elapsed reports whether the appointment ended before now.
func (a *Appointment) Elapsed(now clock.Now) bool {
	return clock.Elapsed(a.Date, a.EndTime, now)
}

// BookRequest is the body of POST /appointments. EndTime defaults to one
// hour after StartTime.
type BookRequest struct {
	DoctorID  uuid.UUID        `json:"doctor_id" validate:"required"`
	Date      clock.Date       `json:"appointment_date" validate:"required"`
	StartTime *clock.TimeOfDay `json:"start_time" validate:"required"`
	EndTime   *clock.TimeOfDay `json:"end_time"`
	Reason    string           `json:"reason" validate:"max=1000"`
	Notes     string           `json:"notes" validate:"max=4000"`
}

// BookByNameRequest is the body of POST /appointments/by-fullname.
type BookByNameRequest struct {
	PatientFullName string           `json:"patient_full_name" validate:"required"`
	Date            clock.Date       `json:"appointment_date" validate:"required"`
	StartTime       *clock.TimeOfDay `json:"start_time" validate:"required"`
	EndTime         *clock.TimeOfDay `json:"end_time"`
	Reason          string           `json:"reason" validate:"max=1000"`
	Notes           string           `json:"notes" validate:"max=4000"`
}

// UpdateRequest is the body of PUT /appointments/:id. Nil fields keep their
// current value.
type UpdateRequest struct {
	Date      *clock.Date      `json:"appointment_date"`
	StartTime *clock.TimeOfDay `json:"start_time"`
	EndTime   *clock.TimeOfDay `json:"end_time"`
	Reason    *string          `json:"reason" validate:"omitempty,max=1000"`
	Notes     *string          `json:"notes" validate:"omitempty,max=4000"`
}

func (r *UpdateRequest) movesTime() bool {
	return r.Date != nil || r.StartTime != nil || r.EndTime != nil
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// Timeframe restricts a listing relative to the current time.
type Timeframe int

const (
	AnyTime Timeframe = iota
	Past
	Upcoming
)

// Filter selects appointments for listings. Zero fields do not filter.
type Filter struct {
	DoctorID     uuid.UUID
	PatientID    uuid.UUID
	Date         *clock.Date
	Status       Status
	NameContains string
	When         Timeframe
	Now          clock.Now
}

// Match applies the filter to a single appointment. Name matching needs the
// party names and is left to the caller.
func (f Filter) Match(a *Appointment) bool {
	if f.DoctorID != uuid.Nil && a.DoctorID != f.DoctorID {
		return false
	}
	if f.PatientID != uuid.Nil && a.PatientID != f.PatientID {
		return false
	}
	if f.Date != nil && a.Date != *f.Date {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	switch f.When {
	case Past:
		return a.Elapsed(f.Now)
	case Upcoming:
		return !a.Elapsed(f.Now)
	}
	return true
}

// Calendar is the public view of a doctor's schedule.
type Calendar struct {
	DoctorID     uuid.UUID            `json:"doctor_id"`
	Availability []*availability.Slot `json:"availabilities"`
	Busy         []BusyInterval       `json:"appointments"`
}

// BusyInterval is a booked time without the patient's details.
type BusyInterval struct {
	Date      clock.Date      `json:"appointment_date"`
	StartTime clock.TimeOfDay `json:"start_time"`
	EndTime   clock.TimeOfDay `json:"end_time"`
	Status    Status          `json:"status"`
}
