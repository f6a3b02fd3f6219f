package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TFMV/synowatch/internal/metrics"
	"github.com/TFMV/synowatch/internal/tree"
)

// recordingRunner records command lines and fails those containing fail.
type recordingRunner struct {
	mu    sync.Mutex
	fail  string
	lines []string
}

func (r *recordingRunner) Run(_ context.Context, argv []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := strings.Join(argv, " ")
	r.lines = append(r.lines, line)
	if r.fail != "" && strings.Contains(line, r.fail) {
		return errors.New("index failed")
	}
	return nil
}

func mustCommand(t *testing.T, template string) *Command {
	t.Helper()
	c, err := ParseCommand(template)
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	return c
}

func TestDispatchRunsActions(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner))
	ok := testutil.ToFloat64(metrics.IndexCommands.WithLabelValues(metrics.ResultOK))

	actions := Plan([]tree.Event{
		{Path: "/volume1/music/a", IsDir: true, Kind: tree.Created},
		{Path: "/volume1/music/a/b.mp3", Kind: tree.Removed},
	})
	if err := d.Dispatch(context.Background(), actions); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	want := []string{"synoindex -A /volume1/music/a", "synoindex -d /volume1/music/a/b.mp3"}
	if strings.Join(runner.lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("Commands = %q, want %q", runner.lines, want)
	}
	if got := testutil.ToFloat64(metrics.IndexCommands.WithLabelValues(metrics.ResultOK)) - ok; got != 2 {
		t.Errorf("Expected 2 successful commands counted, got %v", got)
	}
}

func TestDispatchDryRun(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner), WithDryRun(true))

	err := d.Dispatch(context.Background(), []Action{{Arg: ArgAddFile, Path: "/volume1/music/a.mp3", Kind: tree.Created}})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(runner.lines) != 0 {
		t.Errorf("Dry run executed %q", runner.lines)
	}
}

func TestDispatchJournalsFailures(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, ":memory:")
	runner := &recordingRunner{fail: "broken"}
	d := NewDispatcher(mustCommand(t, DefaultCommand),
		WithRunner(runner),
		WithJournal(j),
		WithMaxAttempts(2))

	err := d.Dispatch(ctx, []Action{
		{Arg: ArgAddFile, Path: "/volume1/music/fine.mp3", Kind: tree.Created},
		{Arg: ArgAddFile, Path: "/volume1/music/broken.mp3", Kind: tree.Created},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if j.Depth() != 1 {
		t.Fatalf("Expected the failed update to stay journaled, depth %d", j.Depth())
	}
	if got := testutil.ToFloat64(metrics.IndexJournalDepth); got != 1 {
		t.Errorf("Expected journal depth gauge 1, got %v", got)
	}

	// Second and last attempt.
	if err := d.Retry(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if j.Depth() != 0 {
		t.Errorf("Expected the update to be dropped, depth %d", j.Depth())
	}
	if n := len(runner.lines); n != 3 {
		t.Errorf("Expected 3 command runs, got %d: %q", n, runner.lines)
	}

	// Nothing left to retry.
	if err := d.Retry(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if n := len(runner.lines); n != 3 {
		t.Errorf("Expected no further runs, got %q", runner.lines)
	}
}

func TestRetryRecoversPendingUpdates(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, ":memory:")
	if _, err := j.Enqueue(ctx, Action{Arg: ArgRemoveDir, Path: "/volume1/photo/old", IsDir: true, Kind: tree.RenamedFrom}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	runner := &recordingRunner{}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner), WithJournal(j))
	if err := d.Retry(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if len(runner.lines) != 1 || runner.lines[0] != "synoindex -D /volume1/photo/old" {
		t.Errorf("Unexpected commands %q", runner.lines)
	}
	if j.Depth() != 0 {
		t.Errorf("Expected empty journal, depth %d", j.Depth())
	}
}

func TestRetrySkipsSupersededUpdates(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, ":memory:")
	runner := &recordingRunner{fail: "-a "}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner), WithJournal(j))

	file := "/volume1/music/f.mp3"
	if err := d.Dispatch(ctx, []Action{{Arg: ArgAddFile, Path: file, Kind: tree.Created}}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if j.Depth() != 1 {
		t.Fatalf("Expected the failed add to be journaled, depth %d", j.Depth())
	}
	if err := d.Dispatch(ctx, []Action{{Arg: ArgRemoveFile, Path: file, Kind: tree.Removed}}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := d.Retry(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	want := []string{"synoindex -a " + file, "synoindex -d " + file}
	if strings.Join(runner.lines, "\n") != strings.Join(want, "\n") {
		t.Errorf("Commands = %q, want %q", runner.lines, want)
	}
	if j.Depth() != 0 {
		t.Errorf("Expected empty journal, depth %d", j.Depth())
	}
}

func TestDispatchRateLimit(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner), WithRate(20))

	actions := make([]Action, 5)
	for i := range actions {
		actions[i] = Action{Arg: ArgAddFile, Path: "/volume1/music/a.mp3", Kind: tree.ModifiedContent}
	}
	start := time.Now()
	if err := d.Dispatch(context.Background(), actions); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	// Burst of one, then 50ms per command.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Rate limit not applied, took %v", elapsed)
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	runner := &recordingRunner{}
	d := NewDispatcher(mustCommand(t, DefaultCommand), WithRunner(runner))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Dispatch(ctx, []Action{{Arg: ArgAddFile, Path: "/volume1/music/a.mp3", Kind: tree.Created}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(runner.lines) != 0 {
		t.Errorf("No command should run after cancellation, got %q", runner.lines)
	}
}
