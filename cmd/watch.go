package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/synowatch/internal/index"
	"github.com/TFMV/synowatch/internal/metrics"
	"github.com/TFMV/synowatch/internal/tree"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the media shares and update the index",
	Long: `Watch the configured directories recursively and run the index command
for every change, until SIGINT or SIGTERM.

Examples:
  synowatch watch
  synowatch watch --loglevel DEBUG --dry-run
  synowatch watch --command "echo {event} {}" --backend fsnotify
  synowatch watch --journal /var/lib/synowatch/journal.db --status-addr 127.0.0.1:9102`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			return err
		}
		defer os.Remove(cfg.PidFile)
	}

	command, err := index.ParseCommand(cfg.Command)
	if err != nil {
		return err
	}
	opts := []index.Option{
		index.WithLogger(logger),
		index.WithRate(cfg.Rate),
		index.WithDryRun(cfg.DryRun),
	}
	if cfg.Journal != "" {
		j, err := index.OpenJournal(cfg.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, index.WithJournal(j))
	}
	d := index.NewDispatcher(command, opts...)

	tr, err := openTree(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.StatusAddr, logger)
		})
	}
	// Closing the tree unblocks a pending Read.
	g.Go(func() error {
		<-ctx.Done()
		return tr.Close()
	})
	g.Go(func() error {
		return watchLoop(ctx, tr, d, logger)
	})

	err = g.Wait()
	logger.Info("synowatch stopped")
	return err
}

// watchLoop reads event batches from tr and hands them to d until the tree
// is closed.
func watchLoop(ctx context.Context, tr *tree.Tree, d *index.Dispatcher, logger *zap.Logger) error {
	if err := d.Retry(ctx); err != nil {
		return stopped(ctx, fmt.Errorf("retry index updates: %w", err))
	}
	metrics.TreeWatches.Set(float64(tr.Len()))
	logger.Info("watching for changes", zap.Int("watches", tr.Len()))

	for {
		events, err := tr.Read()
		metrics.TreeWatches.Set(float64(tr.Len()))
		metrics.ObserveEvents(events)
		for _, ev := range events {
			logger.Debug("event", zap.Stringer("kind", ev.Kind), zap.String("path", ev.Path), zap.Bool("dir", ev.IsDir))
		}
		if dErr := d.Dispatch(ctx, index.Plan(events)); dErr != nil {
			return stopped(ctx, fmt.Errorf("dispatch index updates: %w", dErr))
		}

		switch {
		case errors.Is(err, tree.ErrClosed):
			return nil
		case err != nil:
			return watchLimitAdvice(err)
		}

		if err := d.Retry(ctx); err != nil {
			return stopped(ctx, fmt.Errorf("retry index updates: %w", err))
		}
	}
}

// stopped returns nil when ctx is done, since err is then the result of the
// shutdown, and err otherwise.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// watchLimitAdvice adds a hint to raise the kernel limit when err is caused
// by it.
func watchLimitAdvice(err error) error {
	if !errors.Is(err, tree.ErrWatchLimitExceeded) {
		return err
	}
	return fmt.Errorf("%w; raise the limit with: sysctl -w fs.inotify.max_user_watches=524288", err)
}

func writePidFile(path string) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}
