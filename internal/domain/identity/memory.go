package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medibook/booking/internal/platform/apperr"
)

// MemoryDirectory is an in-memory Directory for tests and local tooling.
type MemoryDirectory struct {
	mu       sync.Mutex
	doctors  map[uuid.UUID]Person
	patients map[uuid.UUID]Person
	lookups  int
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		doctors:  make(map[uuid.UUID]Person),
		patients: make(map[uuid.UUID]Person),
	}
}

// AddDoctor registers p as a doctor, assigning ids when they are unset.
func (d *MemoryDirectory) AddDoctor(p Person) Person {
	d.mu.Lock()
	defer d.mu.Unlock()
	fillIDs(&p)
	d.doctors[p.ProfileID] = p
	return p
}

// AddPatient registers p as a patient, assigning ids when they are unset.
func (d *MemoryDirectory) AddPatient(p Person) Person {
	d.mu.Lock()
	defer d.mu.Unlock()
	fillIDs(&p)
	d.patients[p.ProfileID] = p
	return p
}

func fillIDs(p *Person) {
	if p.ProfileID == uuid.Nil {
		p.ProfileID = uuid.New()
	}
	if p.UserID == uuid.Nil {
		p.UserID = uuid.New()
	}
}

// Lookups returns how many calls reached the directory.
func (d *MemoryDirectory) Lookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookups
}

func (d *MemoryDirectory) Doctor(_ context.Context, doctorID uuid.UUID) (*Person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	p, ok := d.doctors[doctorID]
	if !ok {
		return nil, apperr.NotFound("doctor not found")
	}
	return &p, nil
}

func (d *MemoryDirectory) Patient(_ context.Context, patientID uuid.UUID) (*Person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	p, ok := d.patients[patientID]
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}
	return &p, nil
}

func (d *MemoryDirectory) PatientByFullName(_ context.Context, fullName string) (*Person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	var found []Person
	for _, p := range d.patients {
		if p.FirstName+" "+p.LastName == fullName {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return nil, apperr.NotFound("patient %q not found", fullName)
	case 1:
		return &found[0], nil
	default:
		return nil, apperr.NotFound("no unique patient named %q", fullName)
	}
}

func (d *MemoryDirectory) Doctors(_ context.Context, doctorIDs []uuid.UUID) (map[uuid.UUID]*Person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	out := make(map[uuid.UUID]*Person, len(doctorIDs))
	for _, id := range doctorIDs {
		if p, ok := d.doctors[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}
