package scheduling

import (
	"time"

	"github.com/medibook/booking/internal/platform/apperr"
)

// Reasons recorded in notes by the reconciliation job.
const (
	autoReasonConfirmed = "Automatically marked as undetermined (confirmed) as the appointment time has passed."
	autoReasonPending   = "Automatically marked as undetermined (pending) as the appointment time has passed."
)

// systemTargets maps the statuses the reconciliation job resolves to the
// status it moves them to.
var systemTargets = map[Status]Status{
	StatusConfirmed: StatusUndeterminedConfirmed,
	StatusPending:   StatusUndeterminedPending,
}

// terminal statuses end an appointment's lifecycle. Patients may cancel
// from anything else.
var terminal = map[Status]bool{
	StatusDone:      true,
	StatusCancelled: true,
	StatusAbsent:    true,
}

// SystemTarget returns the status the reconciliation job moves from to, and
// false when from is not something the job touches.
func SystemTarget(from Status) (Status, bool) {
	to, ok := systemTargets[from]
	return to, ok
}

func autoReason(to Status) string {
	if to == StatusUndeterminedConfirmed {
		return autoReasonConfirmed
	}
	return autoReasonPending
}

// CheckTransition enforces who may move an appointment from one status to
// another. Doctors and admins may set any valid status. Patients may only
// cancel, and only from a non-terminal status. The system may only move a
// pending or confirmed appointment to its undetermined counterpart, and only
// once the appointment has elapsed.
func CheckTransition(by ChangedBy, from, to Status, elapsed bool) error {
	if !to.Valid() {
		return apperr.Validation("invalid status %q, allowed: %s", to, allowedList())
	}
	switch by {
	case ByDoctor, ByAdmin:
		return nil
	case ByPatient:
		if to != StatusCancelled {
			return apperr.Forbidden("patients may only cancel appointments")
		}
		if terminal[from] {
			return apperr.Conflict("appointment in status %s cannot be cancelled", from)
		}
		return nil
	case BySystem:
		want, ok := systemTargets[from]
		if !ok || want != to {
			return apperr.Validation("automatic transition %s -> %s is not allowed", from, to)
		}
		if !elapsed {
			return apperr.Validation("appointment has not ended yet")
		}
		return nil
	}
	return apperr.Forbidden("unknown actor %q", by)
}

// applyTransition records the new status on a. A non-empty note is appended
// to the existing notes on its own line.
func applyTransition(a *Appointment, to Status, at time.Time, note string) Status {
	old := a.Status
	a.Status = to
	a.IsUpdated = true
	a.UpdateDate = &at
	if note != "" {
		if a.Notes == "" {
			a.Notes = note
		} else {
			a.Notes += "\n" + note
		}
	}
	return old
}
