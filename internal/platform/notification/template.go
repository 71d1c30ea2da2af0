package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders the email and SMS text for each event type.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-created",
			Subject: "New appointment on {{date}} at {{start_time}}",
			Body: "Hello {{recipient_name}}, an appointment with {{doctor_name}} for {{patient_name}} " +
				"was booked on {{date}} from {{start_time}} to {{end_time}}. Status: {{status}}.",
		},
		{
			ID:      "appointment-updated",
			Subject: "Appointment on {{date}} updated",
			Body: "Hello {{recipient_name}}, the appointment with {{doctor_name}} for {{patient_name}} " +
				"is now on {{date}} from {{start_time}} to {{end_time}}.",
		},
		{
			ID:      "appointment-status-changed",
			Subject: "Appointment on {{date}} is now {{new_status}}",
			Body: "Hello {{recipient_name}}, the appointment with {{doctor_name}} on {{date}} at {{start_time}} " +
				"changed from {{old_status}} to {{new_status}}.",
		},
		{
			ID:      "appointment-auto-status-changed",
			Subject: "Appointment on {{date}} marked {{new_status}}",
			Body: "Hello {{recipient_name}}, the appointment with {{doctor_name}} on {{date}} at {{start_time}} " +
				"passed without being resolved and was marked {{new_status}}.",
		},
		{
			ID:   "sms-status-changed",
			Body: "Appointment {{date}} {{start_time}} with {{doctor_name}}: {{old_status}} -> {{new_status}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render replaces {{key}} placeholders with data. Placeholders without a
// value are left as they are.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// emailTemplateFor maps an event type to its email template.
func emailTemplateFor(t Type) string {
	switch t {
	case TypeAppointmentCreated:
		return "appointment-created"
	case TypeAppointmentUpdated:
		return "appointment-updated"
	case TypeAppointmentStatusChanged:
		return "appointment-status-changed"
	case TypeAppointmentAutoStatusChanged:
		return "appointment-auto-status-changed"
	}
	return ""
}

// templateData flattens a payload for one recipient.
func templateData(p Payload, r Recipient) map[string]string {
	data := map[string]string{"recipient_name": r.Name, "message": p.Message}
	if a := p.Appointment; a != nil {
		data["doctor_name"] = a.DoctorName
		data["patient_name"] = a.PatientName
		data["date"] = a.AppointmentDate
		data["start_time"] = a.StartTime
		data["end_time"] = a.EndTime
		data["status"] = a.Status
	}
	if sc := p.StatusChange; sc != nil {
		data["old_status"] = sc.OldStatus
		data["new_status"] = sc.NewStatus
		data["reason"] = sc.Reason
	}
	return data
}
