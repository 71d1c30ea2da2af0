package availability

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/domain/identity"
	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/internal/platform/auth"
	"github.com/medibook/booking/internal/platform/db"
	"github.com/medibook/booking/pkg/clock"
)

type Service struct {
	slots     Repository
	directory identity.Directory
	tx        db.TxRunner
	logger    zerolog.Logger
}

func NewService(slots Repository, directory identity.Directory, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		slots:     slots,
		directory: directory,
		tx:        tx,
		logger:    logger.With().Str("component", "availability").Logger(),
	}
}

func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Slot, error) {
	return s.slots.ListByDoctor(ctx, doctorID)
}

func (s *Service) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date clock.Date) ([]*Slot, error) {
	return s.slots.ListByDoctorAndDate(ctx, doctorID, date)
}

// authorize allows admins and the doctor who owns the slots.
func authorize(actor *auth.Actor, doctorID uuid.UUID) error {
	if actor.IsAdmin() || (actor.IsDoctor() && actor.DoctorID == doctorID) {
		return nil
	}
	return apperr.Forbidden("not allowed to manage availability for this doctor")
}

// Create validates and stores a new slot. Doctors create slots for
// themselves; admins name the doctor in the request.
func (s *Service) Create(ctx context.Context, actor *auth.Actor, req *CreateRequest) (*Slot, error) {
	doctorID := req.DoctorID
	if actor.IsDoctor() {
		doctorID = actor.DoctorID
	}
	if doctorID == uuid.Nil {
		return nil, apperr.Validation("doctor_id is required")
	}
	if err := authorize(actor, doctorID); err != nil {
		return nil, err
	}
	if req.StartTime == nil || req.EndTime == nil {
		return nil, apperr.Validation("start_time and end_time are required")
	}

	slot := &Slot{
		DoctorID:    doctorID,
		Date:        req.Date,
		StartTime:   *req.StartTime,
		EndTime:     *req.EndTime,
		StartTime2:  req.StartTime2,
		EndTime2:    req.EndTime2,
		StartTime3:  req.StartTime3,
		EndTime3:    req.EndTime3,
		IsAvailable: true,
	}
	if req.IsAvailable != nil {
		slot.IsAvailable = *req.IsAvailable
	}
	if err := slot.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.directory.Doctor(ctx, doctorID); err != nil {
		return nil, err
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, slot, uuid.Nil); err != nil {
			return err
		}
		return s.slots.Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", doctorID.String()).
		Str("date", slot.Date.String()).
		Bool("is_available", slot.IsAvailable).
		Msg("availability slot created")
	return slot, nil
}

// Update applies req to an existing slot and re-validates the result as a
// whole.
func (s *Service) Update(ctx context.Context, actor *auth.Actor, id uuid.UUID, req *UpdateRequest) (*Slot, error) {
	var updated Slot
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.slots.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(actor, current.DoctorID); err != nil {
			return err
		}
		updated = req.apply(*current)
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, &updated, id); err != nil {
			return err
		}
		return s.slots.Update(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", id.String()).Msg("availability slot updated")
	return &updated, nil
}

func (s *Service) Delete(ctx context.Context, actor *auth.Actor, id uuid.UUID) error {
	current, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.DoctorID); err != nil {
		return err
	}
	if err := s.slots.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("slot_id", id.String()).Msg("availability slot deleted")
	return nil
}

// checkOverlap rejects slot when its primary interval overlaps the primary
// interval of another slot of the same doctor and date.
func (s *Service) checkOverlap(ctx context.Context, slot *Slot, excludeID uuid.UUID) error {
	if err := s.slots.Lock(ctx, slot.DoctorID, slot.Date); err != nil {
		return apperr.Persistence("lock availability", err)
	}
	other, err := s.slots.FindOverlapping(ctx, slot.DoctorID, slot.Date, slot.PrimaryInterval(), excludeID)
	if err != nil {
		return err
	}
	if other != nil {
		return apperr.Validation("this time slot overlaps with an existing availability slot")
	}
	return nil
}

// FindAvailableDoctors returns the doctors with an available slot on date
// that fully covers [start, end).
func (s *Service) FindAvailableDoctors(ctx context.Context, date clock.Date, start, end clock.TimeOfDay) ([]AvailableDoctor, error) {
	want := clock.Interval{Start: start, End: end}
	if !want.Valid() {
		return nil, apperr.Validation("start time must be before end time")
	}
	slots, err := s.slots.ListAvailableOn(ctx, date)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, sl := range slots {
		if !seen[sl.DoctorID] && sl.Covers(want) {
			seen[sl.DoctorID] = true
			ids = append(ids, sl.DoctorID)
		}
	}
	if len(ids) == 0 {
		return []AvailableDoctor{}, nil
	}

	people, err := s.directory.Doctors(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableDoctor, 0, len(ids))
	for _, id := range ids {
		p, ok := people[id]
		if !ok {
			s.logger.Warn().Str("doctor_id", id.String()).Msg("available doctor has no profile")
			continue
		}
		out = append(out, AvailableDoctor{DoctorID: id, Name: p.DisplayDoctor(), Email: p.Email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
