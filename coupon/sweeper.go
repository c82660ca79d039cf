package coupon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rewards-backend/dtos"
	"rewards-backend/logging"
	"rewards-backend/metrics"

	"github.com/robfig/cron/v3"
)

// Expirer closes subscriptions whose paid period has ended.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// Pruner drops usage counters older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type SweeperOptions struct {
	// Schedule is a five-field cron expression.
	Schedule string
	Expirer  Expirer
	Pruner   Pruner
	// UsageRetention is how long daily usage counters are kept.
	UsageRetention time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Sweeper runs subscription expiry followed by the coupon sweep on a cron
// schedule. A run that overlaps the previous one is skipped.
type Sweeper struct {
	cron      *cron.Cron
	tracker   *Tracker
	expirer   Expirer
	pruner    Pruner
	retention time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSweeper(tracker *Tracker, opts SweeperOptions) (*Sweeper, error) {
	if opts.Schedule == "" {
		opts.Schedule = "*/15 * * * *"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.UsageRetention <= 0 {
		opts.UsageRetention = 30 * 24 * time.Hour
	}
	logger := logging.OrDefault(opts.Logger)

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron:      c,
		tracker:   tracker,
		expirer:   opts.Expirer,
		pruner:    opts.Pruner,
		retention: opts.UsageRetention,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	if _, err := c.AddFunc(opts.Schedule, func() {
		if _, err := s.RunOnce(s.ctx); err != nil {
			s.logger.Error("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("sweeper started", "entries", len(s.cron.Entries()))
}

// Stop cancels the in-flight run and waits for it to return or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

type RunResult struct {
	Expiry  dtos.SweepRun `json:"subscription_expiry"`
	Coupons dtos.SweepRun `json:"coupon_reset"`
	Pruned  int64         `json:"usage_rows_pruned"`
}

// RunOnce expires due subscriptions first so that the coupon sweep sees their
// usages as no longer live.
func (s *Sweeper) RunOnce(ctx context.Context) (RunResult, error) {
	now := s.now().UTC()
	var res RunResult

	if s.expirer != nil {
		started := time.Now()
		runs := s.tracker.Runs()
		run := runs.Start(dtos.JobSubscriptionExpiry, 0)
		n, err := s.expirer.ExpireDue(ctx, now)
		runs.Update(run.ID, func(r *dtos.SweepRun) {
			r.Total = n
			r.Processed = n
			r.Expired = n
		})
		status := dtos.SweepStatusCompleted
		if err != nil {
			status = dtos.SweepStatusFailed
			runs.AddFailed(run.ID, run.ID, err)
		}
		res.Expiry, _ = runs.Finish(run.ID, status)
		s.metrics.SweepFinished(dtos.JobSubscriptionExpiry, time.Since(started))
		if err != nil {
			return res, err
		}
	}

	coupons, err := s.tracker.Sweep(ctx, now)
	res.Coupons = coupons
	if err != nil {
		return res, err
	}

	if s.pruner != nil {
		pruned, err := s.pruner.Prune(ctx, now.Add(-s.retention))
		if err != nil {
			return res, err
		}
		res.Pruned = pruned
	}
	return res, nil
}
