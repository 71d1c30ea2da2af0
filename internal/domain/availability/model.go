package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/booking/internal/platform/apperr"
	"github.com/medibook/booking/pkg/clock"
)

// Slot is one availability record for a doctor on a date. It holds a
// primary interval and up to two optional ones. With IsAvailable false the
// intervals are blocked time that bookings must avoid; with IsAvailable true
// the record is informational.
type Slot struct {
	ID          uuid.UUID        `json:"id"`
	DoctorID    uuid.UUID        `json:"doctor_id"`
	Date        clock.Date       `json:"availability_date"`
	StartTime   clock.TimeOfDay  `json:"start_time"`
	EndTime     clock.TimeOfDay  `json:"end_time"`
	StartTime2  *clock.TimeOfDay `json:"start_time2,omitempty"`
	EndTime2    *clock.TimeOfDay `json:"end_time2,omitempty"`
	StartTime3  *clock.TimeOfDay `json:"start_time3,omitempty"`
	EndTime3    *clock.TimeOfDay `json:"end_time3,omitempty"`
	IsAvailable bool             `json:"is_available"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Names of the interval positions within a slot.
const (
	Primary   = "primary"
	Secondary = "secondary"
	Tertiary  = "tertiary"
)

// NamedInterval is an interval tagged with its position in the slot.
type NamedInterval struct {
	Name string
	clock.Interval
}

// PrimaryInterval returns the slot's required interval.
func (s *Slot) PrimaryInterval() clock.Interval {
	return clock.Interval{Start: s.StartTime, End: s.EndTime}
}

// Intervals returns the primary interval followed by whichever optional
// intervals are set.
func (s *Slot) Intervals() []NamedInterval {
	out := []NamedInterval{{Name: Primary, Interval: s.PrimaryInterval()}}
	if s.StartTime2 != nil && s.EndTime2 != nil {
		out = append(out, NamedInterval{Name: Secondary, Interval: clock.Interval{Start: *s.StartTime2, End: *s.EndTime2}})
	}
	if s.StartTime3 != nil && s.EndTime3 != nil {
		out = append(out, NamedInterval{Name: Tertiary, Interval: clock.Interval{Start: *s.StartTime3, End: *s.EndTime3}})
	}
	return out
}

// Collision returns the first blocked interval that overlaps iv. Available
// records never collide.
func (s *Slot) Collision(iv clock.Interval) (NamedInterval, bool) {
	if s.IsAvailable {
		return NamedInterval{}, false
	}
	for _, ni := range s.Intervals() {
		if ni.Overlaps(iv) {
			return ni, true
		}
	}
	return NamedInterval{}, false
}

// Covers reports whether any interval of the slot fully contains iv.
func (s *Slot) Covers(iv clock.Interval) bool {
	for _, ni := range s.Intervals() {
		if ni.Contains(iv) {
			return true
		}
	}
	return false
}

// Validate checks that every interval has start before end, that optional
// intervals are complete pairs, and that the intervals do not overlap each
// other.
func (s *Slot) Validate() error {
	if !s.PrimaryInterval().Valid() {
		return apperr.Validation("start time must be before end time")
	}
	intervals := []clock.Interval{s.PrimaryInterval()}
	optional := []struct{ start, end *clock.TimeOfDay }{
		{s.StartTime2, s.EndTime2},
		{s.StartTime3, s.EndTime3},
	}
	for i, pair := range optional {
		if pair.start == nil && pair.end == nil {
			continue
		}
		if pair.start == nil || pair.end == nil || *pair.start >= *pair.end {
			return apperr.Validation("interval %d: both start and end time must be provided and start must be before end", i+2)
		}
		intervals = append(intervals, clock.Interval{Start: *pair.start, End: *pair.end})
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })
	for i := 1; i < len(intervals); i++ {
		if intervals[i].Start < intervals[i-1].End {
			return apperr.Validation("intervals overlap with each other")
		}
	}
	return nil
}

// CreateRequest is the body of POST /availability. DoctorID is only read for
// admins; doctors always create slots for themselves.
type CreateRequest struct {
	DoctorID    uuid.UUID        `json:"doctor_id"`
	Date        clock.Date       `json:"availability_date" validate:"required"`
	StartTime   *clock.TimeOfDay `json:"start_time" validate:"required"`
	EndTime     *clock.TimeOfDay `json:"end_time" validate:"required"`
	StartTime2  *clock.TimeOfDay `json:"start_time2"`
	EndTime2    *clock.TimeOfDay `json:"end_time2"`
	StartTime3  *clock.TimeOfDay `json:"start_time3"`
	EndTime3    *clock.TimeOfDay `json:"end_time3"`
	IsAvailable *bool            `json:"is_available"`
}

// UpdateRequest is the body of PUT /availability/:id. Nil fields keep their
// current value.
type UpdateRequest struct {
	Date        *clock.Date      `json:"availability_date"`
	StartTime   *clock.TimeOfDay `json:"start_time"`
	EndTime     *clock.TimeOfDay `json:"end_time"`
	StartTime2  *clock.TimeOfDay `json:"start_time2"`
	EndTime2    *clock.TimeOfDay `json:"end_time2"`
	StartTime3  *clock.TimeOfDay `json:"start_time3"`
	EndTime3    *clock.TimeOfDay `json:"end_time3"`
	IsAvailable *bool            `json:"is_available"`
}

// apply returns a copy of s with the non-nil fields of req applied.
func (req *UpdateRequest) apply(s Slot) Slot {
	if req.Date != nil {
		s.Date = *req.Date
	}
	if req.StartTime != nil {
		s.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		s.EndTime = *req.EndTime
	}
	if req.StartTime2 != nil {
		s.StartTime2 = req.StartTime2
	}
	if req.EndTime2 != nil {
		s.EndTime2 = req.EndTime2
	}
	if req.StartTime3 != nil {
		s.StartTime3 = req.StartTime3
	}
	if req.EndTime3 != nil {
		s.EndTime3 = req.EndTime3
	}
	if req.IsAvailable != nil {
		s.IsAvailable = *req.IsAvailable
	}
	return s
}

// AvailableDoctor is one result of the available-doctors search.
type AvailableDoctor struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
}
