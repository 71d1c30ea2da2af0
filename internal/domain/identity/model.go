package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Person is a doctor or patient profile joined with its user account.
// ProfileID is the doctor or patient profile id referenced by appointments
// and availability; UserID keys live connections.
type Person struct {
	ProfileID uuid.UUID
	UserID    uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName is the first and last name joined by a single space.
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// DisplayDoctor is the doctor name shown in notifications.
func (p *Person) DisplayDoctor() string {
	return "Dr. " + p.FullName()
}
