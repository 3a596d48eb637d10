package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"studyhall/warden/pkg/behavior"
	"studyhall/warden/pkg/config"
	"studyhall/warden/pkg/guest"
	"studyhall/warden/pkg/quota"
)

// Reaper owns the background hygiene work: a fixed-interval sweep over
// the in-memory leaves (guest devices, device profiles) and the durable
// session and window state, plus a cron-scheduled prune of old usage-log
// detail.
//
// The sweep touches leaf records only and holds no lock a request-path
// operation needs; every reset it applies is the same conditional update
// the lazy request path uses, so the two can race harmlessly.
type Reaper struct {
	cfg        config.RetentionConfig
	accountant *quota.Accountant
	throttle   *guest.Throttle
	analyzer   *behavior.Analyzer
	logger     *slog.Logger

	cron      *cron.Cron
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New creates a reaper over the given components.
func New(cfg config.RetentionConfig, accountant *quota.Accountant, throttle *guest.Throttle, analyzer *behavior.Analyzer) (*Reaper, error) {
	if cfg.SweepInterval < time.Minute {
		return nil, fmt.Errorf("sweep interval must be at least one minute, got %s", cfg.SweepInterval)
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}

	return &Reaper{
		cfg:        cfg,
		accountant: accountant,
		throttle:   throttle,
		analyzer:   analyzer,
		logger:     slog.Default().With("component", "reaper"),
		cron:       cron.New(),
		stopped:    make(chan struct{}),
	}, nil
}

// Start launches the sweep loop and the prune schedule. It returns
// immediately; Stop shuts both down.
func (r *Reaper) Start(ctx context.Context) error {
	var startErr error
	r.startOnce.Do(func() {
		_, err := r.cron.AddFunc(r.cfg.PruneSchedule, func() {
			r.runPrune(context.Background())
		})
		if err != nil {
			startErr = fmt.Errorf("failed to schedule prune: %w", err)
			return
		}
		r.cron.Start()
		go r.sweepLoop(ctx)
		r.logger.Info("reaper started",
			"sweep_interval", r.cfg.SweepInterval,
			"prune_schedule", r.cfg.PruneSchedule,
		)
	})
	return startErr
}

// Stop halts the prune schedule and signals the sweep loop to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		stopCtx := r.cron.Stop()
		<-stopCtx.Done()
		close(r.stopped)
		r.logger.Info("reaper stopped")
	})
}

func (r *Reaper) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopped:
			return
		case <-ticker.C:
			r.RunSweep(ctx)
		}
	}
}

// RunSweep performs one sweep pass: due window resets, long-expired
// accounting sessions, idle guest devices, and idle device profiles.
// Exported so operators can trigger it out of band.
func (r *Reaper) RunSweep(ctx context.Context) {
	started := time.Now()

	weekly, monthly, err := r.accountant.SweepResets(ctx)
	if err != nil {
		r.logger.Error("window reset sweep failed", "error", err)
	}

	sessions, err := r.accountant.PruneSessions(ctx, r.cfg.SessionGrace)
	if err != nil {
		r.logger.Error("session prune failed", "error", err)
	}

	devices := r.throttle.SweepIdle(r.cfg.ProfileIdle)
	profiles := r.analyzer.SweepIdle(r.cfg.ProfileIdle)

	if weekly+monthly+sessions > 0 || devices+profiles > 0 {
		r.logger.Info("sweep completed",
			"weekly_resets", weekly,
			"monthly_resets", monthly,
			"sessions_pruned", sessions,
			"guest_devices_dropped", devices,
			"profiles_dropped", profiles,
			"elapsed", time.Since(started),
		)
	}
}

// runPrune deletes usage-log detail older than the retention period.
func (r *Reaper) runPrune(ctx context.Context) {
	if r.cfg.UsageLogDays <= 0 {
		return
	}

	retain := time.Duration(r.cfg.UsageLogDays) * 24 * time.Hour
	deleted, err := r.accountant.PruneUsageLog(ctx, retain)
	if err != nil {
		r.logger.Error("usage log prune failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("usage log pruned",
			"deleted", deleted,
			"retention_days", r.cfg.UsageLogDays,
		)
	}
}
