// Package notification fans appointment lifecycle events out to the live
// connection registry and, when configured, to email and SMS. Delivery is
// asynchronous and best-effort: failures are logged here and never reach the
// operation that produced the event.
package notification

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeAppointmentCreated           Type = "appointment_created"
	TypeAppointmentUpdated           Type = "appointment_updated"
	TypeAppointmentStatusChanged     Type = "appointment_status_changed"
	TypeAppointmentAutoStatusChanged Type = "appointment_auto_status_changed"
)

// ChangedBySystem marks transitions made by the reconciliation job.
const ChangedBySystem = "system"

// AppointmentData is the appointment as shown to clients. Times are "HH:MM"
// and the date is "YYYY-MM-DD".
type AppointmentData struct {
	ID              string `json:"id"`
	DoctorID        string `json:"doctor_id"`
	PatientID       string `json:"patient_id"`
	DoctorName      string `json:"doctor_name"`
	PatientName     string `json:"patient_name"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	AppointmentDate string `json:"appointment_date"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

type StatusChange struct {
	AppointmentID string `json:"appointment_id"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
	ChangedBy     string `json:"changed_by"`
	Reason        string `json:"reason,omitempty"`
}

// Payload is the JSON document pushed to clients.
type Payload struct {
	Type         Type             `json:"type"`
	Timestamp    time.Time        `json:"timestamp"`
	Appointment  *AppointmentData `json:"appointment,omitempty"`
	StatusChange *StatusChange    `json:"status_change,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// Recipient is one party affected by an event.
type Recipient struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// Event is a payload plus the parties it concerns.
type Event struct {
	Payload    Payload
	Recipients []Recipient
}

func (e Event) UserIDs() []string {
	ids := make([]string, 0, len(e.Recipients))
	for _, r := range e.Recipients {
		if r.UserID != "" {
			ids = append(ids, r.UserID)
		}
	}
	return ids
}

// AppointmentID returns the id of the appointment the event concerns.
func (e Event) AppointmentID() string {
	if e.Payload.Appointment != nil {
		return e.Payload.Appointment.ID
	}
	if e.Payload.StatusChange != nil {
		return e.Payload.StatusChange.AppointmentID
	}
	return ""
}

func Created(a AppointmentData, at time.Time) Payload {
	return Payload{
		Type:        TypeAppointmentCreated,
		Timestamp:   at.UTC(),
		Appointment: &a,
		Message:     fmt.Sprintf("New appointment created with %s for %s", a.DoctorName, a.PatientName),
	}
}

func Updated(a AppointmentData, at time.Time) Payload {
	return Payload{
		Type:        TypeAppointmentUpdated,
		Timestamp:   at.UTC(),
		Appointment: &a,
		Message:     fmt.Sprintf("Appointment with %s for %s was updated", a.DoctorName, a.PatientName),
	}
}

// StatusChanged builds the status change payload. Changes made by the system
// use the auto status type.
func StatusChanged(a AppointmentData, oldStatus, changedBy, reason string, at time.Time) Payload {
	typ := TypeAppointmentStatusChanged
	msg := fmt.Sprintf("Appointment status changed from %s to %s", oldStatus, a.Status)
	if changedBy == ChangedBySystem {
		typ = TypeAppointmentAutoStatusChanged
		msg += " by system automation"
	}
	return Payload{
		Type:        typ,
		Timestamp:   at.UTC(),
		Appointment: &a,
		StatusChange: &StatusChange{
			AppointmentID: a.ID,
			OldStatus:     oldStatus,
			NewStatus:     a.Status,
			ChangedBy:     changedBy,
			Reason:        reason,
		},
		Message: msg,
	}
}
