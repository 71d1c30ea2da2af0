package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedDirectory keeps recently resolved doctors and patients in memory.
// Full-name lookups always go to the underlying directory.
type CachedDirectory struct {
	next     Directory
	doctors  *lru.Cache[uuid.UUID, Person]
	patients *lru.Cache[uuid.UUID, Person]
}

func NewCachedDirectory(next Directory, size int) (*CachedDirectory, error) {
	doctors, err := lru.New[uuid.UUID, Person](size)
	if err != nil {
		return nil, fmt.Errorf("doctor cache: %w", err)
	}
	patients, err := lru.New[uuid.UUID, Person](size)
	if err != nil {
		return nil, fmt.Errorf("patient cache: %w", err)
	}
	return &CachedDirectory{next: next, doctors: doctors, patients: patients}, nil
}

func (c *CachedDirectory) Doctor(ctx context.Context, doctorID uuid.UUID) (*Person, error) {
	return cached(ctx, c.doctors, doctorID, c.next.Doctor)
}

func (c *CachedDirectory) Patient(ctx context.Context, patientID uuid.UUID) (*Person, error) {
	return cached(ctx, c.patients, patientID, c.next.Patient)
}

func (c *CachedDirectory) PatientByFullName(ctx context.Context, fullName string) (*Person, error) {
	p, err := c.next.PatientByFullName(ctx, fullName)
	if err != nil {
		return nil, err
	}
	c.patients.Add(p.ProfileID, *p)
	return p, nil
}

// Doctors serves cached entries and fetches the rest in one call.
func (c *CachedDirectory) Doctors(ctx context.Context, doctorIDs []uuid.UUID) (map[uuid.UUID]*Person, error) {
	out := make(map[uuid.UUID]*Person, len(doctorIDs))
	var missing []uuid.UUID
	for _, id := range doctorIDs {
		if p, ok := c.doctors.Get(id); ok {
			out[id] = &p
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.next.Doctors(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		c.doctors.Add(id, *p)
		out[id] = p
	}
	return out, nil
}

// Purge drops every cached entry.
func (c *CachedDirectory) Purge() {
	c.doctors.Purge()
	c.patients.Purge()
}

// cached returns a copy of the entry for id, loading it on a miss.
func cached(ctx context.Context, cache *lru.Cache[uuid.UUID, Person], id uuid.UUID,
	load func(context.Context, uuid.UUID) (*Person, error)) (*Person, error) {
	if p, ok := cache.Get(id); ok {
		return &p, nil
	}
	p, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.Add(id, *p)
	return p, nil
}
