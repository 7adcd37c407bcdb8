// Package reconciler returns expired bookings' slots to their pools on a schedule
// and audits pool counters against the booking ledger.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"parking-slots-backend/config"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/notification"
	"parking-slots-backend/internal/reservation"
	"parking-slots-backend/internal/store"
)

// Reconciler runs the periodic sweep, the drift audit and booking reminders.
type Reconciler struct {
	cfg      config.ReconcilerConfig
	store    store.Store
	bookings *reservation.Service
	notifier notification.Notifier
	now      func() time.Time

	mu        sync.Mutex
	lastSweep time.Time
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithClock replaces the wall clock used by scheduled runs.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a reconciler. A nil cfg.Location means UTC.
func New(cfg config.ReconcilerConfig, s store.Store, bookings *reservation.Service, notifier notification.Notifier, opts ...Option) *Reconciler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	r := &Reconciler{
		cfg:      cfg,
		store:    s,
		bookings: bookings,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Due      int
	Released int
	Skipped  int
	Failed   int
}

// Sweep completes every confirmed booking whose window ended by now.
// A failing booking is logged and the sweep moves on to the next one.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	due, err := r.store.ListDueBookings(ctx, now)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	report.Due = len(due)

	for _, b := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, err := r.bookings.Release(ctx, b.ID, model.BookingCompleted)
		if err != nil {
			report.Failed++
			log.Printf("Sweep: failed to complete booking %s (%s/%s): %v", b.ID, b.SpaceID, b.VehicleType, err)
			continue
		}
		if !res.Changed {
			report.Skipped++
			continue
		}
		report.Released++
		r.notifier.Notify(notification.Notification{
			UserID: b.UserID,
			Title:  "Booking Expired",
			Body:   fmt.Sprintf("Your booking ending %s has ended. Thank you for parking with us!", b.EndAt.In(r.cfg.Location).Format("2006-01-02 15:04")),
			Data:   map[string]string{"bookingId": b.ID},
		})
	}

	r.mu.Lock()
	r.lastSweep = now
	r.mu.Unlock()

	if report.Due > 0 {
		log.Printf("Sweep at %s: %d due, %d released, %d already done, %d failed",
			now.In(r.cfg.Location).Format(time.RFC3339), report.Due, report.Released, report.Skipped, report.Failed)
	}
	return report, nil
}

// LastSweep returns when the last sweep finished, or the zero time.
func (r *Reconciler) LastSweep() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSweep
}

// AuditReport summarises one drift audit.
type AuditReport struct {
	Pools   int
	Drifted int
	Healed  int
}

// Audit checks every pool's counter against its confirmed bookings and repairs drift.
// Each repair is a compare-and-set on the observed counter, so it loses to any
// reservation or release that ran in between.
func (r *Reconciler) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	usages, err := r.store.PoolUsages(ctx)
	if err != nil {
		return report, fmt.Errorf("audit: %w", err)
	}
	report.Pools = len(usages)

	for _, u := range usages {
		if !u.Drifted() {
			continue
		}
		report.Drifted++
		healed, err := r.store.HealPool(ctx, u.PoolID, u.AvailableSlots, u.Expected())
		if err != nil {
			log.Printf("ERROR: audit could not heal pool %s/%s: %v", u.SpaceID, u.VehicleType, err)
			continue
		}
		if !healed {
			log.Printf("Audit: pool %s/%s changed while auditing, will recheck next run", u.SpaceID, u.VehicleType)
			continue
		}
		report.Healed++
		log.Printf("ERROR: pool %s/%s drifted: available %d, %d confirmed of %d total; corrected to %d",
			u.SpaceID, u.VehicleType, u.AvailableSlots, u.Confirmed, u.TotalSlots, u.Expected())
	}
	return report, nil
}

// Remind notifies users whose booking starts within the configured lead time.
// Each booking is reminded at most once.
func (r *Reconciler) Remind(ctx context.Context, now time.Time) (int, error) {
	upcoming, err := r.store.ListUnremindedStarting(ctx, model.TimeWindow{Start: now, End: now.Add(r.cfg.ReminderLead)})
	if err != nil {
		return 0, fmt.Errorf("remind: %w", err)
	}

	sent := 0
	for _, b := range upcoming {
		claimed, err := r.store.MarkReminded(ctx, b.ID, now)
		if err != nil {
			log.Printf("Remind: booking %s: %v", b.ID, err)
			continue
		}
		if !claimed {
			continue
		}
		mins := int(b.StartAt.Sub(now).Round(time.Minute).Minutes())
		r.notifier.Notify(notification.Notification{
			UserID: b.UserID,
			Title:  "Upcoming Booking",
			Body:   fmt.Sprintf("Your parking for %s starts in %d minutes.", b.VehiclePlate, mins),
			Data:   map[string]string{"bookingId": b.ID},
		})
		sent++
	}
	return sent, nil
}

// RunOnce performs one sweep, one reminder pass and one audit.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	now := r.now().UTC().Truncate(time.Second)
	if _, err := r.Sweep(ctx, now); err != nil {
		return err
	}
	if _, err := r.Remind(ctx, now); err != nil {
		return err
	}
	_, err := r.Audit(ctx)
	return err
}

func (r *Reconciler) tick(ctx context.Context) {
	now := r.now().UTC().Truncate(time.Second)
	if _, err := r.Sweep(ctx, now); err != nil {
		log.Printf("Sweep failed: %v", err)
	}
	if _, err := r.Remind(ctx, now); err != nil {
		log.Printf("Reminder pass failed: %v", err)
	}
}

// Run schedules the sweep and the audit and blocks until ctx is cancelled.
// A run that is still going when its next tick fires makes that tick skip.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.cfg.Enabled {
		log.Println("Reconciler is disabled. Not starting.")
		return nil
	}

	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithLocation(r.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid reconciler.schedule %q: %w", r.cfg.Schedule, err)
	}
	if _, err := c.AddFunc(r.cfg.AuditSchedule, func() {
		if _, err := r.Audit(ctx); err != nil {
			log.Printf("Audit failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reconciler.audit_schedule %q: %w", r.cfg.AuditSchedule, err)
	}

	log.Printf("Starting reconciler (sweep %q, audit %q, zone %s)...", r.cfg.Schedule, r.cfg.AuditSchedule, r.cfg.Location)
	r.tick(ctx)
	c.Start()

	<-ctx.Done()
	log.Println("Reconciler shutting down.")
	<-c.Stop().Done()
	return nil
}
