package index

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TFMV/synowatch/internal/metrics"
)

// DefaultMaxAttempts is how often a journaled update is tried before it is
// dropped.
const DefaultMaxAttempts = 5

// retryBatch bounds the number of journal entries loaded at once by Retry.
const retryBatch = 256

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) { d.runner = r }
}

// WithRate limits the number of commands per second. Zero or less disables
// the limit.
func WithRate(perSecond float64) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			d.limiter = nil
		}
	}
}

// WithJournal records every update in j until it succeeded.
func WithJournal(j *Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithDryRun logs the commands instead of running them.
func WithDryRun(dryRun bool) Option {
	return func(d *Dispatcher) { d.dryRun = dryRun }
}

// WithMaxAttempts sets how often a journaled update is tried.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher runs index updates through the index command.
type Dispatcher struct {
	command     *Command
	runner      Runner
	limiter     *rate.Limiter
	journal     *Journal
	dryRun      bool
	maxAttempts int
	logger      *zap.Logger
}

// NewDispatcher creates a Dispatcher for command.
func NewDispatcher(command *Command, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		command:     command,
		runner:      ExecRunner{},
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the updates in order. Failed commands are logged and, with
// a journal, kept for Retry. Only a cancelled context stops it early.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []Action) error {
	for _, a := range actions {
		if err := d.wait(ctx); err != nil {
			return err
		}
		id := int64(-1)
		if d.journal != nil {
			var err error
			if id, err = d.journal.Enqueue(ctx, a); err != nil {
				d.logger.Warn("cannot journal index update", zap.Stringer("action", a), zap.Error(err))
				id = -1
			}
		}
		d.run(ctx, id, a)
	}
	d.updateDepth()
	return nil
}

// Retry runs the updates left pending in the journal.
func (d *Dispatcher) Retry(ctx context.Context) error {
	if d.journal == nil || d.journal.Depth() == 0 {
		return nil
	}
	entries, err := d.journal.Pending(ctx, retryBatch)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		d.logger.Info("retrying index updates", zap.Int("count", len(entries)))
	}
	for _, e := range entries {
		if err := d.wait(ctx); err != nil {
			return err
		}
		d.run(ctx, e.ID, e.Action)
	}
	d.updateDepth()
	return nil
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}

// run executes a, journaled under id unless id is negative.
func (d *Dispatcher) run(ctx context.Context, id int64, a Action) {
	argv := d.command.Argv(a)
	line := strings.Join(argv, " ")
	// Bookkeeping must survive cancellation of the command itself.
	bg := context.WithoutCancel(ctx)

	if d.dryRun {
		d.logger.Info("dry run: " + line)
		metrics.IndexCommands.WithLabelValues(metrics.ResultDryRun).Inc()
		d.ack(bg, id)
		return
	}

	d.logger.Info(line)
	err := d.runner.Run(ctx, argv)
	if err == nil {
		metrics.IndexCommands.WithLabelValues(metrics.ResultOK).Inc()
		d.ack(bg, id)
		return
	}

	metrics.IndexCommands.WithLabelValues(metrics.ResultFailed).Inc()
	d.logger.Warn("index command failed", zap.String("command", line), zap.Error(err))
	if id < 0 {
		return
	}
	attempts, ferr := d.journal.Fail(bg, id, err)
	if ferr != nil {
		d.logger.Warn("cannot record failed index update", zap.Int64("id", id), zap.Error(ferr))
		return
	}
	if attempts >= d.maxAttempts {
		d.logger.Error("giving up on index update",
			zap.String("command", line),
			zap.Int("attempts", attempts))
		metrics.IndexCommands.WithLabelValues(metrics.ResultDropped).Inc()
		if err := d.journal.Drop(bg, id); err != nil {
			d.logger.Warn("cannot drop index update", zap.Int64("id", id), zap.Error(err))
		}
	}
}

func (d *Dispatcher) ack(ctx context.Context, id int64) {
	if id < 0 || d.journal == nil {
		return
	}
	if err := d.journal.Ack(ctx, id); err != nil {
		d.logger.Warn("cannot acknowledge index update", zap.Int64("id", id), zap.Error(err))
	}
}

func (d *Dispatcher) updateDepth() {
	if d.journal != nil {
		metrics.IndexJournalDepth.Set(float64(d.journal.Depth()))
	}
}
