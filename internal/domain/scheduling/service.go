package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/domain/availability"
	"github.com/medibook/booking/internal/domain/identity"
	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/internal/platform/db"
	"github.com/medibook/booking/internal/platform/notification"
	"github.com/medibook/booking/pkg/clock"
)

// Service is the entry point for every appointment mutation. Writes run in a
// transaction holding the (doctor, date) lock; notifications are queued only
// after commit.
type Service struct {
	appointments Repository
	slots        SlotSource
	engine       *Engine
	directory    identity.Directory
	tx           db.TxRunner
	notify       *notifier
	now          func() time.Time
	loc          *time.Location
	logger       zerolog.Logger
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the business time zone used for "today" and "now".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(appointments Repository, slots SlotSource, directory identity.Directory, tx db.TxRunner,
	events notification.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	logger = logger.With().Str("component", "scheduling").Logger()
	s := &Service{
		appointments: appointments,
		slots:        slots,
		engine:       NewEngine(appointments, slots),
		directory:    directory,
		tx:           tx,
		notify:       &notifier{directory: directory, events: events, logger: logger},
		now:          time.Now,
		loc:          time.UTC,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clockNow() (time.Time, clock.Now) {
	t := s.now()
	return t, clock.At(t, s.loc)
}

// changedBy maps an actor to the tag recorded on status changes.
func changedBy(actor *auth.Actor) (ChangedBy, error) {
	switch {
	case actor.IsAdmin():
		return ByAdmin, nil
	case actor.IsDoctor():
		return ByDoctor, nil
	case actor.IsPatient():
		return ByPatient, nil
	}
	return "", apperr.Forbidden("unknown actor")
}

// isParty reports whether actor is the appointment's doctor or patient.
func isParty(actor *auth.Actor, a *Appointment) bool {
	return (actor.IsDoctor() && actor.DoctorID == a.DoctorID) ||
		(actor.IsPatient() && actor.PatientID == a.PatientID)
}

// canSee reports whether actor may read or delete a. Anyone else is told the
// appointment does not exist.
func canSee(actor *auth.Actor, a *Appointment) bool {
	return actor.IsAdmin() || isParty(actor, a)
}

// scope restricts a filter to what actor may list: doctors and patients see
// their own appointments, admins see everything.
func scope(actor *auth.Actor, f Filter) (Filter, error) {
	switch {
	case actor.IsAdmin():
	case actor.IsDoctor():
		f.DoctorID = actor.DoctorID
	case actor.IsPatient():
		f.PatientID = actor.PatientID
	default:
		return f, apperr.Forbidden("not allowed to list appointments")
	}
	return f, nil
}

// book runs the scheduling check and insert under the (doctor, date) lock.
func (s *Service) book(ctx context.Context, a *Appointment) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Lock(ctx, a.DoctorID, a.Date); err != nil {
			return apperr.Persistence("lock appointments", err)
		}
		if err := s.engine.Check(ctx, a.DoctorID, a.Date, a.Interval(), uuid.Nil); err != nil {
			return err
		}
		return s.appointments.Create(ctx, a)
	})
}

// Book creates a pending appointment for the calling patient.
func (s *Service) Book(ctx context.Context, actor *auth.Actor, req *BookRequest) (*Appointment, error) {
	if !actor.IsPatient() {
		return nil, apperr.Forbidden("only patients can book appointments")
	}
	if req.StartTime == nil {
		return nil, apperr.Validation("start_time is required")
	}
	iv, err := Normalize(*req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if _, err := s.directory.Doctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	a := &Appointment{
		DoctorID:  req.DoctorID,
		PatientID: actor.PatientID,
		Date:      req.Date,
		StartTime: iv.Start,
		EndTime:   iv.End,
		Status:    StatusPending,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
	if err := s.book(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.Date.String()).
		Str("interval", iv.String()).
		Msg("appointment booked")
	at, _ := s.clockNow()
	s.notify.created(ctx, a, at)
	return a, nil
}

// BookByFullName lets a doctor book a confirmed appointment for a patient
// found by exact full name.
func (s *Service) BookByFullName(ctx context.Context, actor *auth.Actor, req *BookByNameRequest) (*Appointment, error) {
	if !actor.IsDoctor() {
		return nil, apperr.Forbidden("only doctors can book by patient name")
	}
	if req.StartTime == nil {
		return nil, apperr.Validation("start_time is required")
	}
	iv, err := Normalize(*req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	patient, err := s.directory.PatientByFullName(ctx, req.PatientFullName)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		DoctorID:  actor.DoctorID,
		PatientID: patient.ProfileID,
		Date:      req.Date,
		StartTime: iv.Start,
		EndTime:   iv.End,
		Status:    StatusConfirmed,
		Reason:    req.Reason,
		Notes:     req.Notes,
	}
	if err := s.book(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("patient_id", a.PatientID.String()).
		Msg("appointment booked by doctor")
	at, _ := s.clockNow()
	s.notify.created(ctx, a, at)
	return a, nil
}

// Get returns an appointment visible to actor. Appointments the actor may not
// see are reported as not found.
func (s *Service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(actor, a) {
		return nil, apperr.NotFound("appointment not found")
	}
	return a, nil
}

func (s *Service) list(ctx context.Context, actor *auth.Actor, f Filter) ([]*Appointment, error) {
	f, err := scope(actor, f)
	if err != nil {
		return nil, err
	}
	return s.appointments.List(ctx, f)
}

// ListMine returns the calling doctor's or patient's appointments.
func (s *Service) ListMine(ctx context.Context, actor *auth.Actor) ([]*Appointment, error) {
	if !actor.IsDoctor() && !actor.IsPatient() {
		return nil, apperr.Forbidden("only doctors and patients have own appointments")
	}
	return s.list(ctx, actor, Filter{})
}

// ListByDate returns the calling doctor's appointments on date.
func (s *Service) ListByDate(ctx context.Context, actor *auth.Actor, date clock.Date) ([]*Appointment, error) {
	if !actor.IsDoctor() {
		return nil, apperr.Forbidden("only doctors can list appointments by date")
	}
	return s.list(ctx, actor, Filter{Date: &date})
}

func (s *Service) ListByStatus(ctx context.Context, actor *auth.Actor, status Status) ([]*Appointment, error) {
	if !status.Valid() {
		return nil, apperr.Validation("invalid status %q, allowed: %s", status, allowedList())
	}
	return s.list(ctx, actor, Filter{Status: status})
}

// ListPast returns elapsed appointments, newest first.
func (s *Service) ListPast(ctx context.Context, actor *auth.Actor) ([]*Appointment, error) {
	_, now := s.clockNow()
	return s.list(ctx, actor, Filter{When: Past, Now: now})
}

// ListUpcoming returns appointments that have not ended yet, soonest first.
func (s *Service) ListUpcoming(ctx context.Context, actor *auth.Actor) ([]*Appointment, error) {
	_, now := s.clockNow()
	return s.list(ctx, actor, Filter{When: Upcoming, Now: now})
}

// Search matches name against either party's full name. Doctors only see
// their own appointments.
func (s *Service) Search(ctx context.Context, actor *auth.Actor, name string) ([]*Appointment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if !actor.IsDoctor() && !actor.IsAdmin() {
		return nil, apperr.Forbidden("not allowed to search appointments")
	}
	return s.list(ctx, actor, Filter{NameContains: name})
}

// UpdateStatus moves an appointment to status to on behalf of actor.
func (s *Service) UpdateStatus(ctx context.Context, actor *auth.Actor, id uuid.UUID, to Status) (*Appointment, error) {
	return s.transition(ctx, actor, id, to, "", "")
}

// Cancel cancels one of the calling patient's appointments. A non-empty
// reason is kept in the notes.
func (s *Service) Cancel(ctx context.Context, actor *auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	if !actor.IsPatient() {
		return nil, apperr.Forbidden("only patients can cancel appointments")
	}
	reason = strings.TrimSpace(reason)
	note := ""
	if reason != "" {
		note = "Cancelled by patient: " + reason
	}
	return s.transition(ctx, actor, id, StatusCancelled, reason, note)
}

func (s *Service) transition(ctx context.Context, actor *auth.Actor, id uuid.UUID, to Status, reason, note string) (*Appointment, error) {
	by, err := changedBy(actor)
	if err != nil {
		return nil, err
	}
	at, now := s.clockNow()

	var (
		a   *Appointment
		old Status
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if by != ByAdmin && !isParty(actor, a) {
			return apperr.Forbidden("appointment does not belong to you")
		}
		if err := CheckTransition(by, a.Status, to, a.Elapsed(now)); err != nil {
			return err
		}
		old = applyTransition(a, to, at, note)
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("old_status", string(old)).
		Str("new_status", string(to)).
		Str("changed_by", string(by)).
		Msg("appointment status changed")
	s.notify.statusChanged(ctx, a, old, by, reason, at)
	return a, nil
}

// UpdateFields edits an appointment. Moving it in time re-runs the scheduling
// check against the new values, ignoring the appointment itself.
func (s *Service) UpdateFields(ctx context.Context, actor *auth.Actor, id uuid.UUID, req *UpdateRequest) (*Appointment, error) {
	if !actor.IsDoctor() && !actor.IsAdmin() {
		return nil, apperr.Forbidden("only doctors and admins can edit appointments")
	}
	at, _ := s.clockNow()

	var a *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !isParty(actor, a) {
			return apperr.Forbidden("appointment does not belong to you")
		}

		if req.movesTime() {
			date, start, end := a.Date, a.StartTime, a.EndTime
			if req.Date != nil {
				date = *req.Date
			}
			if req.StartTime != nil {
				start = *req.StartTime
			}
			if req.EndTime != nil {
				end = *req.EndTime
			}
			iv, err := Normalize(start, &end)
			if err != nil {
				return err
			}
			if err := s.appointments.Lock(ctx, a.DoctorID, date); err != nil {
				return apperr.Persistence("lock appointments", err)
			}
			if err := s.engine.Check(ctx, a.DoctorID, date, iv, a.ID); err != nil {
				return err
			}
			a.Date, a.StartTime, a.EndTime = date, iv.Start, iv.End
		}
		if req.Reason != nil {
			a.Reason = *req.Reason
		}
		if req.Notes != nil {
			a.Notes = *req.Notes
		}
		a.IsUpdated = true
		a.UpdateDate = &at
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Msg("appointment updated")
	s.notify.updated(ctx, a, at)
	return a, nil
}

// Delete removes an appointment. Only its doctor, its patient or an admin
// may do so.
func (s *Service) Delete(ctx context.Context, actor *auth.Actor, id uuid.UUID) error {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canSee(actor, a) {
		return apperr.NotFound("appointment not found")
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment deleted")
	return nil
}

// DoctorCalendar returns a doctor's availability and booked times without
// patient details.
func (s *Service) DoctorCalendar(ctx context.Context, doctorID uuid.UUID) (*Calendar, error) {
	if _, err := s.directory.Doctor(ctx, doctorID); err != nil {
		return nil, err
	}
	slots, err := s.slots.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.List(ctx, Filter{DoctorID: doctorID})
	if err != nil {
		return nil, err
	}
	cal := &Calendar{DoctorID: doctorID, Availability: slots, Busy: make([]BusyInterval, 0, len(appts))}
	if cal.Availability == nil {
		cal.Availability = []*availability.Slot{}
	}
	for _, a := range appts {
		cal.Busy = append(cal.Busy, BusyInterval{Date: a.Date, StartTime: a.StartTime, EndTime: a.EndTime, Status: a.Status})
	}
	return cal, nil
}
