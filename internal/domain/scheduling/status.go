package scheduling

import (
	"strings"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending               Status = "pending"
	StatusConfirmed             Status = "confirmed"
	StatusDone                  Status = "done"
	StatusCancelled             Status = "cancelled"
	StatusAbsent                Status = "absent"
	StatusUndeterminedPending   Status = "undetermined_pending"
	StatusUndeterminedConfirmed Status = "undetermined_confirmed"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusDone,
	StatusCancelled,
	StatusAbsent,
	StatusUndeterminedPending,
	StatusUndeterminedConfirmed,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// allowedList renders the valid statuses for error messages.
func allowedList() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// ChangedBy tags who made a status change.
type ChangedBy string

const (
	ByDoctor  ChangedBy = "doctor"
	ByPatient ChangedBy = "patient"
	ByAdmin   ChangedBy = "admin"
	BySystem  ChangedBy = "system"
)
