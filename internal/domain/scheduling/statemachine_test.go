package scheduling

import (
	"testing"
	"time"

	"github.com/medibook/booking/internal/platform/apperr"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name    string
		by      ChangedBy
		from    Status
		to      Status
		elapsed bool
		kind    apperr.Kind // empty means allowed
	}{
		{"doctor any", ByDoctor, StatusDone, StatusPending, false, ""},
		{"admin any", ByAdmin, StatusCancelled, StatusConfirmed, false, ""},
		{"invalid target", ByAdmin, StatusPending, Status("gone"), false, apperr.KindValidation},
		{"patient cancels pending", ByPatient, StatusPending, StatusCancelled, false, ""},
		{"patient cancels confirmed", ByPatient, StatusConfirmed, StatusCancelled, false, ""},
		{"patient confirms", ByPatient, StatusPending, StatusConfirmed, false, apperr.KindAuthorization},
		{"patient cancels done", ByPatient, StatusDone, StatusCancelled, false, apperr.KindConflict},
		{"patient cancels cancelled", ByPatient, StatusCancelled, StatusCancelled, false, apperr.KindConflict},
		{"patient cancels absent", ByPatient, StatusAbsent, StatusCancelled, false, apperr.KindConflict},
		{"patient cancels undetermined pending", ByPatient, StatusUndeterminedPending, StatusCancelled, false, ""},
		{"patient cancels undetermined confirmed", ByPatient, StatusUndeterminedConfirmed, StatusCancelled, false, ""},
		{"system confirmed", BySystem, StatusConfirmed, StatusUndeterminedConfirmed, true, ""},
		{"system pending", BySystem, StatusPending, StatusUndeterminedPending, true, ""},
		{"system crossed", BySystem, StatusPending, StatusUndeterminedConfirmed, true, apperr.KindValidation},
		{"system done", BySystem, StatusDone, StatusUndeterminedConfirmed, true, apperr.KindValidation},
		{"system not elapsed", BySystem, StatusConfirmed, StatusUndeterminedConfirmed, false, apperr.KindValidation},
		{"system twice", BySystem, StatusUndeterminedConfirmed, StatusUndeterminedConfirmed, true, apperr.KindValidation},
		{"unknown actor", ChangedBy("robot"), StatusPending, StatusDone, false, apperr.KindAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTransition(tt.by, tt.from, tt.to, tt.elapsed)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			if !apperr.IsKind(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestSystemTarget(t *testing.T) {
	if to, ok := SystemTarget(StatusConfirmed); !ok || to != StatusUndeterminedConfirmed {
		t.Errorf("confirmed -> %s, %v", to, ok)
	}
	if to, ok := SystemTarget(StatusPending); !ok || to != StatusUndeterminedPending {
		t.Errorf("pending -> %s, %v", to, ok)
	}
	for _, s := range []Status{StatusDone, StatusCancelled, StatusAbsent, StatusUndeterminedPending, StatusUndeterminedConfirmed} {
		if _, ok := SystemTarget(s); ok {
			t.Errorf("%s should not be touched by the system", s)
		}
	}
}

func TestApplyTransition_AppendsNotes(t *testing.T) {
	at := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	a := &Appointment{Status: StatusConfirmed}

	old := applyTransition(a, StatusUndeterminedConfirmed, at, autoReason(StatusUndeterminedConfirmed))
	if old != StatusConfirmed || a.Status != StatusUndeterminedConfirmed {
		t.Fatalf("unexpected transition %s -> %s", old, a.Status)
	}
	if a.Notes != autoReasonConfirmed {
		t.Errorf("expected note on empty notes, got %q", a.Notes)
	}
	if !a.IsUpdated || a.UpdateDate == nil || !a.UpdateDate.Equal(at) {
		t.Errorf("audit fields not set: %+v", a)
	}

	a.Notes = "first"
	applyTransition(a, StatusDone, at, "second")
	if a.Notes != "first\nsecond" {
		t.Errorf("expected newline separated notes, got %q", a.Notes)
	}
	applyTransition(a, StatusAbsent, at, "")
	if a.Notes != "first\nsecond" {
		t.Errorf("empty note should not change notes, got %q", a.Notes)
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("Pending").Valid() || Status("").Valid() {
		t.Error("statuses are case sensitive and non-empty")
	}
}
