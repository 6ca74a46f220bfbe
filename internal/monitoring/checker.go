// Package monitoring watches job outcomes and queue depth and raises alerts.
package monitoring

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
)

// Checker collects job metrics on an interval and delivers alerts. An alert
// already delivered is held back until the repeat interval passes, so the
// same stuck jobs are not reported on every cycle.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	interval  time.Duration
	repeat    time.Duration

	mu        sync.Mutex
	delivered map[string]time.Time
	now       func() time.Time
}

// NewChecker creates a job checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		interval:  config.StageTimeout(cfg.CheckIntervalSecs, 5*time.Minute),
		repeat:    time.Duration(max(cfg.RepeatAlertMins, 0)) * time.Minute,
		delivered: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Run checks once at startup, which reports jobs stranded by a previous
// process, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring"))
	log.Info("monitoring: job checker started",
		zap.Duration("interval", c.interval),
		zap.Duration("repeat_after", c.repeatAfter()),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	c.Check(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: job checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot, logs job counts and delivers the alerts that
// are new or due again. It returns the number of alerts triggered, held-back
// repeats included.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect job metrics", zap.Error(err))
		return 0
	}
	log.Info("monitoring: job metrics",
		zap.Int("pending", snap.JobsPending),
		zap.Int("analyzing", snap.JobsAnalyzing),
		zap.Int("complete", snap.JobsComplete),
		zap.Int("failed", snap.JobsFailed),
		zap.Float64("failure_rate", snap.FailureRate),
		zap.Int("stuck", snap.StuckJobs),
		zap.Int("queue_depth", snap.QueueDepth),
	)

	alerts := c.alerter.Evaluate(snap)
	due := c.due(alerts)
	if len(due) > 0 {
		sent := c.alerter.SendAlerts(ctx, due)
		log.Info("monitoring: alerts delivered",
			zap.Int("triggered", len(alerts)),
			zap.Int("due", len(due)),
			zap.Int("sent", sent),
		)
	}
	return len(alerts)
}

func (c *Checker) repeatAfter() time.Duration {
	if c.repeat <= 0 {
		return time.Hour
	}
	return c.repeat
}

// due returns the alerts not delivered within the repeat interval and marks
// them delivered. Conditions that have cleared are forgotten so they alert
// again as soon as they recur.
func (c *Checker) due(alerts []Alert) []Alert {
	now := c.now()
	repeat := c.repeatAfter()

	c.mu.Lock()
	defer c.mu.Unlock()

	active := make(map[string]bool, len(alerts))
	var out []Alert
	for _, a := range alerts {
		key := fingerprint(a)
		active[key] = true
		if last, ok := c.delivered[key]; ok && now.Sub(last) < repeat {
			continue
		}
		c.delivered[key] = now
		out = append(out, a)
	}
	for key := range c.delivered {
		if !active[key] {
			delete(c.delivered, key)
		}
	}
	return out
}

// fingerprint identifies an alert condition. Stuck-job alerts carry their
// job ids, so a newly stuck job is reported without waiting for the repeat.
func fingerprint(a Alert) string {
	if a.Type != AlertStuckJobs {
		return string(a.Type)
	}
	ids, _ := a.Details["job_ids"].([]string)
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return string(a.Type) + ":" + strings.Join(ids, ",")
}
