package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/medibook/booking/pkg/clock"
)

// ReconcileJobName identifies the reconciliation job in logs.
const ReconcileJobName = "reconcile-appointments"

// Reconciler moves elapsed pending and confirmed appointments to their
// undetermined counterparts. A tick is one transaction; its notifications
// are queued after commit. Running a tick twice changes nothing the second
// time since undetermined appointments are never selected.
type Reconciler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{
		svc:    svc,
		logger: svc.logger.With().Str("job", ReconcileJobName).Logger(),
	}
}

func (r *Reconciler) Name() string { return ReconcileJobName }

// Run implements jobs.Job.
func (r *Reconciler) Run(ctx context.Context) error {
	_, err := r.RunOnce(ctx)
	return err
}

type autoChange struct {
	appt   *Appointment
	old    Status
	reason string
}

// RunOnce performs one tick and returns the number of appointments changed.
// Confirmed appointments are handled before pending ones. Every change is
// committed in one transaction and the status events are queued only after
// that commit, so a tick that rolls back announces nothing.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	at, now := r.svc.clockNow()

	var changes []autoChange
	err := r.svc.tx.InTx(ctx, func(ctx context.Context) error {
		changes = changes[:0]
		for _, from := range []Status{StatusConfirmed, StatusPending} {
			c, err := r.sweep(ctx, from, at, now)
			if err != nil {
				return err
			}
			changes = append(changes, c...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, c := range changes {
		r.svc.notify.statusChanged(ctx, c.appt, c.old, BySystem, c.reason, at)
	}
	if len(changes) > 0 {
		r.logger.Info().Int("updated", len(changes)).Msg("elapsed appointments marked undetermined")
	}
	return len(changes), nil
}

func (r *Reconciler) sweep(ctx context.Context, from Status, at time.Time, now clock.Now) ([]autoChange, error) {
	to, _ := SystemTarget(from)
	elapsed, err := r.svc.appointments.List(ctx, Filter{Status: from, When: Past, Now: now})
	if err != nil {
		return nil, err
	}
	var out []autoChange
	for _, a := range elapsed {
		if err := CheckTransition(BySystem, a.Status, to, a.Elapsed(now)); err != nil {
			r.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("skipping appointment")
			continue
		}
		reason := autoReason(to)
		old := applyTransition(a, to, at, reason)
		if err := r.svc.appointments.Update(ctx, a); err != nil {
			return nil, err
		}
		out = append(out, autoChange{appt: a, old: old, reason: reason})
	}
	return out, nil
}
