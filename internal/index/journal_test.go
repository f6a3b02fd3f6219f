package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/TFMV/synowatch/internal/tree"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, ":memory:")

	a := Action{Arg: ArgAddDir, Path: "/volume1/photo/2024", IsDir: true, Kind: tree.RenamedInto}
	b := Action{Arg: ArgRemoveFile, Path: "/volume1/photo/x.jpg", Kind: tree.Removed}
	idA, err := j.Enqueue(ctx, a)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	idB, err := j.Enqueue(ctx, b)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if j.Depth() != 2 {
		t.Errorf("Expected depth 2, got %d", j.Depth())
	}

	attempts, err := j.Fail(ctx, idA, errors.New("synoindex not running"))
	if err != nil || attempts != 1 {
		t.Errorf("Fail = %d, %v; want 1", attempts, err)
	}

	pending, err := j.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != idA || pending[1].ID != idB {
		t.Fatalf("Unexpected pending entries: %+v", pending)
	}
	if pending[0].Action != a || pending[0].Attempts != 1 {
		t.Errorf("Entry round trip: got %+v, want %+v with 1 attempt", pending[0], a)
	}

	if err := j.Ack(ctx, idB); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if err := j.Ack(ctx, idB); err != nil {
		t.Fatalf("Second Ack failed: %v", err)
	}
	if err := j.Drop(ctx, idA); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if j.Depth() != 0 {
		t.Errorf("Expected depth 0, got %d", j.Depth())
	}
	if pending, _ := j.Pending(ctx, 10); len(pending) != 0 {
		t.Errorf("Expected no pending entries, got %+v", pending)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	if _, err := j.Enqueue(ctx, Action{Arg: ArgAddFile, Path: "/volume1/video/a.mkv", Kind: tree.Created}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j = openTestJournal(t, path)
	if j.Depth() != 1 {
		t.Errorf("Expected depth 1 after reopen, got %d", j.Depth())
	}
}

func TestJournalSupersedesOlderEntries(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, ":memory:")

	for _, a := range []Action{
		{Arg: ArgAddFile, Path: "/volume1/photo/x.jpg", Kind: tree.Created},
		{Arg: ArgAddFile, Path: "/volume1/photo/2024/a.jpg", Kind: tree.Created},
		{Arg: ArgAddDir, Path: "/volume1/photo/2024/trip", IsDir: true, Kind: tree.Created},
		{Arg: ArgAddFile, Path: "/volume1/photo/20240.jpg", Kind: tree.Created},
	} {
		if _, err := j.Enqueue(ctx, a); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if _, err := j.Enqueue(ctx, Action{Arg: ArgRemoveFile, Path: "/volume1/photo/x.jpg", Kind: tree.Removed}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := j.Enqueue(ctx, Action{Arg: ArgRemoveDir, Path: "/volume1/photo/2024", IsDir: true, Kind: tree.Removed}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := j.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	var got []string
	for _, e := range pending {
		got = append(got, e.Action.String())
	}
	want := []string{"-a /volume1/photo/20240.jpg", "-d /volume1/photo/x.jpg", "-D /volume1/photo/2024"}
	if len(got) != len(want) {
		t.Fatalf("Pending = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Pending = %q, want %q", got, want)
			break
		}
	}
	if j.Depth() != len(want) {
		t.Errorf("Expected depth %d, got %d", len(want), j.Depth())
	}
}
