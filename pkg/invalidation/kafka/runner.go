package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voyagekit/offline-engine/internal/cache"
	"github.com/voyagekit/offline-engine/internal/cache/keys"
)

// Runner consumes trip-data invalidation events and deletes the matching
// cached responses so the next request refetches from the network.
type Runner struct {
	cfg   Config
	store cache.Store
	log   *slog.Logger

	metrics *metricSet
	dedupe  *pathVersions

	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}
	ready  atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewRunner(cfg Config, store cache.Store, log *slog.Logger, reg prometheus.Registerer) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   store,
		log:     log.With("component", "invalidation"),
		metrics: newMetricSet(reg),
		dedupe:  newPathVersions(4096),
		done:    make(chan struct{}),
	}
}

// Ready reports whether the consumer has joined the group and claimed
// partitions at least once.
func (r *Runner) Ready() bool { return r.ready.Load() }

func (r *Runner) Start(ctx context.Context) error {
	var startErr error
	r.startOnce.Do(func() {
		sc := sarama.NewConfig()
		sc.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
		sc.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
		sc.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
		if r.cfg.InitialOldest {
			sc.Consumer.Offsets.Initial = sarama.OffsetOldest
		}
		sc.Consumer.Return.Errors = true

		group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, sc)
		if err != nil {
			startErr = fmt.Errorf("create consumer group: %w", err)
			return
		}
		r.group = group

		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel

		go func() {
			for err := range group.Errors() {
				r.log.Error("consumer group error", "err", err)
			}
		}()

		go func() {
			defer close(r.done)
			for {
				if err := group.Consume(runCtx, []string{r.cfg.Topic}, r); err != nil {
					r.log.Error("consume session ended", "err", err)
				}
				if runCtx.Err() != nil {
					return
				}
				r.ready.Store(false)
			}
		}()

		r.log.Info("invalidation consumer started",
			"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	})
	return startErr
}

func (r *Runner) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.group != nil {
			err = r.group.Close()
		}
		if r.done != nil {
			<-r.done
		}
	})
	return err
}

func (r *Runner) Setup(sess sarama.ConsumerGroupSession) error {
	r.ready.Store(true)
	r.log.Info("partitions claimed", "claims", sess.Claims())
	return nil
}

func (r *Runner) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (r *Runner) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			r.handleMessage(sess.Context(), msg)
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	start := time.Now()

	var ev WireEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		r.metrics.events.WithLabelValues("malformed").Inc()
		r.log.Warn("malformed invalidation event",
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return
	}
	if err := ev.Validate(); err != nil {
		r.metrics.events.WithLabelValues("invalid").Inc()
		r.log.Warn("invalid invalidation event", "offset", msg.Offset, "err", err)
		return
	}
	if !ev.TS.IsZero() {
		r.metrics.lag.Set(time.Since(ev.TS).Seconds())
	}

	ns := namespaceFor(ev.Namespace)

	applied := 0
	for _, p := range ev.Paths {
		key, err := keyForPath(p)
		if err != nil {
			r.metrics.entries.WithLabelValues("skipped").Inc()
			r.log.Warn("unparseable path in event", "path", p, "err", err)
			continue
		}
		if ev.Version > 0 && !r.dedupe.apply(string(ns)+":"+key, ev.Version) {
			r.metrics.entries.WithLabelValues("deduped").Inc()
			continue
		}
		if err := r.store.Delete(ctx, ns, key); err != nil {
			r.metrics.entries.WithLabelValues("error").Inc()
			r.log.Error("delete cached entry", "namespace", ns, "path", p, "err", err)
			continue
		}
		r.metrics.entries.WithLabelValues("deleted").Inc()
		applied++
	}

	op := ev.Op
	if op == "" {
		op = "invalidate"
	}
	r.metrics.events.WithLabelValues("ok").Inc()
	r.metrics.apply.WithLabelValues(op).Observe(time.Since(start).Seconds())
	r.log.Debug("invalidation applied",
		"paths", len(ev.Paths), "deleted", applied, "version", ev.Version)
}

func namespaceFor(s string) cache.Namespace {
	for _, ns := range cache.Namespaces() {
		if string(ns) == strings.ToLower(strings.TrimSpace(s)) {
			return ns
		}
	}
	return cache.Data
}

func keyForPath(p string) (string, error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	return keys.ForURL(u), nil
}
