package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePatient, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller. DoctorID and PatientID are the profile
// ids linked to the user and are uuid.Nil when the user has no such profile.
type Actor struct {
	UserID    uuid.UUID
	Role      Role
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

func (a *Actor) IsAdmin() bool   { return a != nil && a.Role == RoleAdmin }
func (a *Actor) IsDoctor() bool  { return a != nil && a.Role == RoleDoctor && a.DoctorID != uuid.Nil }
func (a *Actor) IsPatient() bool { return a != nil && a.Role == RolePatient && a.PatientID != uuid.Nil }

type actorKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller stored by the auth middleware.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(*Actor)
	return a, ok && a != nil
}
