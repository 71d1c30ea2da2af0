package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/medibook/booking/internal/domain/identity"
	"github.com/medibook/booking/internal/platform/notification"
)

// notifier turns committed appointment changes into notification events.
// Events are handed to the publisher, which never blocks and never fails the
// caller.
type notifier struct {
	directory identity.Directory
	events    notification.Publisher
	logger    zerolog.Logger
}

// parties resolves the doctor and patient of a. It returns false, after
// logging a warning, when either cannot be resolved.
func (n *notifier) parties(ctx context.Context, a *Appointment) (*identity.Person, *identity.Person, bool) {
	doctor, err := n.directory.Doctor(ctx, a.DoctorID)
	if err != nil {
		n.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("doctor_id", a.DoctorID.String()).
			Msg("doctor identity unavailable, skipping notification")
		return nil, nil, false
	}
	patient, err := n.directory.Patient(ctx, a.PatientID)
	if err != nil {
		n.logger.Warn().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("patient_id", a.PatientID.String()).
			Msg("patient identity unavailable, skipping notification")
		return nil, nil, false
	}
	return doctor, patient, true
}

func appointmentData(a *Appointment, doctor, patient *identity.Person) notification.AppointmentData {
	return notification.AppointmentData{
		ID:              a.ID.String(),
		DoctorID:        a.DoctorID.String(),
		PatientID:       a.PatientID.String(),
		DoctorName:      doctor.DisplayDoctor(),
		PatientName:     patient.FullName(),
		StartTime:       a.StartTime.String(),
		EndTime:         a.EndTime.String(),
		AppointmentDate: a.Date.String(),
		Status:          string(a.Status),
		Reason:          a.Reason,
		Notes:           a.Notes,
	}
}

func recipients(doctor, patient *identity.Person) []notification.Recipient {
	return []notification.Recipient{
		{UserID: doctor.UserID.String(), Name: doctor.DisplayDoctor(), Email: doctor.Email, Phone: doctor.Phone},
		{UserID: patient.UserID.String(), Name: patient.FullName(), Email: patient.Email, Phone: patient.Phone},
	}
}

func (n *notifier) publish(ctx context.Context, a *Appointment, build func(notification.AppointmentData) notification.Payload) {
	doctor, patient, ok := n.parties(ctx, a)
	if !ok {
		return
	}
	ev := notification.Event{
		Payload:    build(appointmentData(a, doctor, patient)),
		Recipients: recipients(doctor, patient),
	}
	// The dispatcher logs dropped events itself.
	n.events.Publish(ev)
}

func (n *notifier) created(ctx context.Context, a *Appointment, at time.Time) {
	n.publish(ctx, a, func(d notification.AppointmentData) notification.Payload {
		return notification.Created(d, at)
	})
}

func (n *notifier) updated(ctx context.Context, a *Appointment, at time.Time) {
	n.publish(ctx, a, func(d notification.AppointmentData) notification.Payload {
		return notification.Updated(d, at)
	})
}

func (n *notifier) statusChanged(ctx context.Context, a *Appointment, old Status, by ChangedBy, reason string, at time.Time) {
	n.publish(ctx, a, func(d notification.AppointmentData) notification.Payload {
		return notification.StatusChanged(d, string(old), string(by), reason, at)
	})
}
