package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voyagekit/offline-engine/internal/core/observability"
)

const (
	TagFlight24h = "flight-reminder-24h"
	TagFlight2h  = "flight-reminder-2h"
)

type reminderSpec struct {
	tag    string
	offset time.Duration
	title  string
	body   string
	urgent bool
}

var flightReminders = []reminderSpec{
	{
		tag:    TagFlight24h,
		offset: 24 * time.Hour,
		title:  "Flight tomorrow",
		body:   "Your flight departs in 24 hours. Check in and review your packing list.",
	},
	{
		tag:    TagFlight2h,
		offset: 2 * time.Hour,
		title:  "Flight in 2 hours",
		body:   "Time to head to the airport.",
		urgent: true,
	},
}

// Scheduler arms one-shot reminders relative to a trip anchor. Every
// scheduled reminder is persisted first, so a restart can re-arm it.
type Scheduler struct {
	store    *Store
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewScheduler(store *Store, notifier Notifier, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
	}
}

// NewSchedulerWithClock is used by tests needing a deterministic clock.
func NewSchedulerWithClock(store *Store, notifier Notifier, log *slog.Logger, now func() time.Time) *Scheduler {
	s := NewScheduler(store, notifier, log)
	s.now = now
	return s
}

// ScheduleFlightReminders computes the 24h and 2h fire times from the
// departure anchor and arms a one-shot timer for each offset still in the
// future. Re-invocation replaces by tag rather than duplicating. Returns
// how many reminders were scheduled.
func (s *Scheduler) ScheduleFlightReminders(ctx context.Context, departure time.Time) (int, error) {
	scheduled := 0
	for _, spec := range flightReminders {
		fireAt := departure.Add(-spec.offset)
		delay := fireAt.Sub(s.now())
		if delay <= 0 {
			s.log.DebugContext(ctx, "reminder offset already past, not scheduling",
				"tag", spec.tag, "fire_at", fireAt.Format(time.RFC3339))
			continue
		}

		req := Request{
			Title:              spec.title,
			Body:               spec.body,
			Icon:               "/icons/icon-192.png",
			Tag:                spec.tag,
			RequireInteraction: spec.urgent,
			Actions: []Action{
				{Action: "view-itinerary", Title: "View itinerary"},
			},
		}
		if err := s.store.PutReminder(ctx, Reminder{Tag: spec.tag, FireAt: fireAt, Payload: req}); err != nil {
			return scheduled, fmt.Errorf("persist reminder: %w", err)
		}
		s.arm(spec.tag, delay, req)
		scheduled++

		s.log.InfoContext(ctx, "reminder scheduled",
			"tag", spec.tag, "fire_at", fireAt.Format(time.RFC3339), "delay", delay.String())
	}
	return scheduled, nil
}

// Recover re-arms persisted reminders after a restart. Reminders whose
// fire time passed while the process was down fire immediately.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	pending, err := s.store.PendingReminders(ctx)
	if err != nil {
		return 0, err
	}
	armed := 0
	for _, r := range pending {
		delay := r.FireAt.Sub(s.now())
		if delay <= 0 {
			s.log.InfoContext(ctx, "reminder overdue after restart, firing now", "tag", r.Tag)
			s.fire(r.Tag, r.Payload)
			continue
		}
		s.arm(r.Tag, delay, r.Payload)
		armed++
	}
	return armed, nil
}

// Stop cancels all armed timers. Persisted rows stay; the next Recover
// picks them up.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, t := range s.timers {
		t.Stop()
		delete(s.timers, tag)
	}
}

func (s *Scheduler) arm(tag string, delay time.Duration, req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[tag]; ok {
		t.Stop()
	}
	s.timers[tag] = time.AfterFunc(delay, func() {
		s.fire(tag, req)
	})
}

func (s *Scheduler) fire(tag string, req Request) {
	ctx := context.Background()

	if err := s.notifier.Notify(ctx, req); err != nil {
		observability.IncNotification("reminder", "error")
		s.log.Warn("reminder not displayed", "tag", tag, "err", err)
	} else {
		observability.IncNotification("reminder", "sent")
		s.log.Info("reminder dispatched", "tag", tag)
	}

	if err := s.store.DeleteReminder(ctx, tag); err != nil {
		s.log.Warn("delete fired reminder", "tag", tag, "err", err)
	}

	s.mu.Lock()
	delete(s.timers, tag)
	s.mu.Unlock()
}
