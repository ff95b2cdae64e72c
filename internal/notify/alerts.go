package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagekit/offline-engine/internal/core/observability"
)

type threshold struct {
	percent float64
	tag     string
}

// Checked highest first: one poll tick fires at most the highest
// met-and-unfired threshold, never a burst.
var budgetThresholds = []threshold{
	{90, "budget-90"},
	{75, "budget-75"},
	{50, "budget-50"},
}

// AlertPoller periodically recomputes the spend percentage and fires
// budget threshold alerts. A fired tag is suppressed for the rest of the
// trip via the persisted shown-alert record.
type AlertPoller struct {
	provider ExpenseProvider
	store    *Store
	notifier Notifier
	log      *slog.Logger
	interval time.Duration
}

func NewAlertPoller(provider ExpenseProvider, store *Store, notifier Notifier, log *slog.Logger, interval time.Duration) *AlertPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AlertPoller{
		provider: provider,
		store:    store,
		notifier: notifier,
		log:      log,
		interval: interval,
	}
}

// Run polls until the context is cancelled.
func (p *AlertPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.log.WarnContext(ctx, "budget alert poll failed", "err", err)
			}
		}
	}
}

func (p *AlertPoller) tick(ctx context.Context) error {
	frac, err := p.provider.SpentFraction(ctx)
	if err != nil {
		return fmt.Errorf("expense provider: %w", err)
	}
	pct := frac * 100

	for _, t := range budgetThresholds {
		if pct < t.percent {
			continue
		}
		first, err := p.store.MarkShown(ctx, t.tag)
		if err != nil {
			return fmt.Errorf("alert record: %w", err)
		}
		if !first {
			// permanently suppressed; a lower unfired threshold may
			// still be the highest one left to announce
			continue
		}

		req := Request{
			Title: "Budget alert",
			Body:  fmt.Sprintf("You have used %.0f%% of your trip budget.", pct),
			Icon:  "/icons/icon-192.png",
			Tag:   t.tag,
			Data:  map[string]any{"spent_pct": pct},
		}
		if err := p.notifier.Notify(ctx, req); err != nil {
			observability.IncNotification("alert", "error")
			p.log.WarnContext(ctx, "budget alert not displayed", "tag", t.tag, "err", err)
		} else {
			observability.IncNotification("alert", "sent")
			p.log.InfoContext(ctx, "budget alert dispatched", "tag", t.tag, "spent_pct", pct)
		}
		break
	}
	return nil
}
