package status

import (
	"context"
	"time"

	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
)

const summarizeTimeout = 30 * time.Second

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	Logger  logging.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
	// Tick is the polling period of the time trigger. Defaults to a quarter
	// of the interval, at most one second.
	Tick time.Duration
}

// Reporter emits status updates for one turn.
type Reporter struct {
	cfg        Config
	summarizer Summarizer
	opts       ReporterOptions
	logger     logging.Logger
}

// NewReporter creates a reporter.
func NewReporter(cfg Config, summarizer Summarizer, optFns ...func(o *ReporterOptions)) *Reporter {
	opts := ReporterOptions{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
		if q := cfg.Interval / 4; q > 0 && q < opts.Tick {
			opts.Tick = q
		}
	}

	return &Reporter{
		cfg:        cfg,
		summarizer: summarizer,
		opts:       opts,
		logger:     logging.Wrap(opts.Logger).WithComponent("status"),
	}
}

// Run follows events until ctx ends or the log is closed, calling emit with
// every summary. Summarization failures are logged and skipped. Run returns
// nil when the reporter is disabled.
func (r *Reporter) Run(ctx context.Context, events *core.EventLog, emit func(ctx context.Context, summary string) error) error {
	if !r.cfg.Enabled() || r.summarizer == nil || events == nil {
		return nil
	}

	notify, cancel := events.Subscribe()
	defer cancel()

	sched := NewScheduler(r.cfg, r.opts.Now())
	offset := 0
	drain := func() {
		for _, ev := range events.Since(offset) {
			offset++
			sched.Observe(ev)
			if sched.Due(r.opts.Now()) {
				r.fire(ctx, sched, emit)
			}
		}
	}
	drain()

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		t := time.NewTicker(r.opts.Tick)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-notify:
			drain()
			if !ok {
				return nil
			}
		case <-tick:
			if sched.Due(r.opts.Now()) {
				r.fire(ctx, sched, emit)
			}
		}
	}
}

func (r *Reporter) fire(ctx context.Context, sched *Scheduler, emit func(ctx context.Context, summary string) error) {
	window := sched.Fire(r.opts.Now())

	sctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	summary, err := r.summarizer.Summarize(sctx, r.cfg.Prompt, Sanitize(window))
	if err != nil {
		r.opts.Metrics.IncStatusUpdate("error")
		r.logger.Warn("status.summarize.failed", "error", err, "events", len(window))
		return
	}
	if summary == "" {
		r.opts.Metrics.IncStatusUpdate("empty")
		return
	}

	if err := emit(ctx, summary); err != nil {
		r.opts.Metrics.IncStatusUpdate("error")
		r.logger.Warn("status.emit.failed", "error", err)
		return
	}
	r.opts.Metrics.IncStatusUpdate("ok")
	r.logger.Debug("status.update.sent", "events", len(window))
}
