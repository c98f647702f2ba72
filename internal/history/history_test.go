package history

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "docs", ".doc-garden-history.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesFile(t *testing.T) {
	db := openTestDB(t)
	if _, err := os.Stat(db.Path()); os.IsNotExist(err) {
		t.Errorf("expected database file at %s", db.Path())
	}
}

func TestRecordAndGetRun(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		StartedAt:        NowMs(),
		FinishedAt:       NowMs() + 1200,
		Mode:             "apply-safe",
		Status:           "converged",
		Cycles:           2,
		RepairAttempts:   1,
		PlannedActions:   3,
		AppliedActions:   3,
		ApplyErrors:      0,
		ValidatePassed:   true,
		ValidateErrors:   0,
		ValidateWarnings: 1,
		Summary:          `{"report":"docs/.doc-garden-report.json"}`,
	}
	actions := []RunAction{
		{Cycle: 1, ActionID: "A001", ActionType: "update_section", Path: "docs/index.md", Status: "applied"},
		{Cycle: 1, ActionID: "A002", ActionType: "fill_claim", Path: "docs/.doc-spec.json", Status: "applied"},
		{Cycle: 2, ActionID: "A001", ActionType: "sync_manifest", Path: "docs/.doc-manifest.json", Status: "applied"},
	}

	id, err := db.RecordRun(run, actions)
	if err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive run id, got %d", id)
	}

	got, err := db.GetRun(id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Mode != "apply-safe" || got.Status != "converged" {
		t.Errorf("unexpected run: mode=%s status=%s", got.Mode, got.Status)
	}
	if !got.ValidatePassed {
		t.Error("expected validate_passed to round-trip as true")
	}
	if got.Cycles != 2 || got.RepairAttempts != 1 {
		t.Errorf("unexpected counters: cycles=%d attempts=%d", got.Cycles, got.RepairAttempts)
	}

	gotActions, err := db.ListRunActions(id)
	if err != nil {
		t.Fatalf("failed to list actions: %v", err)
	}
	if len(gotActions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(gotActions))
	}
	if gotActions[0].ActionType != "update_section" || gotActions[0].Cycle != 1 {
		t.Errorf("unexpected first action: %+v", gotActions[0])
	}
	if gotActions[2].ActionType != "sync_manifest" || gotActions[2].Cycle != 2 {
		t.Errorf("unexpected last action: %+v", gotActions[2])
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetRun(42); err != ErrRunNotFound {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLastRunEmpty(t *testing.T) {
	db := openTestDB(t)
	run, err := db.LastRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run != nil {
		t.Errorf("expected nil run on empty db, got %+v", run)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	for i, status := range []string{"failed", "repaired", "converged"} {
		if _, err := db.RecordRun(&Run{
			StartedAt:  int64(1000 * (i + 1)),
			FinishedAt: int64(1000*(i+1) + 500),
			Mode:       "apply-safe",
			Status:     status,
		}, nil); err != nil {
			t.Fatalf("failed to record run %d: %v", i, err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Status != "converged" || runs[1].Status != "repaired" {
		t.Errorf("unexpected order: %s, %s", runs[0].Status, runs[1].Status)
	}

	last, err := db.LastRun()
	if err != nil {
		t.Fatalf("failed to get last run: %v", err)
	}
	if last == nil || last.Status != "converged" {
		t.Errorf("unexpected last run: %+v", last)
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)

	var lastID int64
	for i := 0; i < 5; i++ {
		id, err := db.RecordRun(&Run{
			StartedAt:  int64(i),
			FinishedAt: int64(i),
			Mode:       "audit",
			Status:     "converged",
		}, []RunAction{{Cycle: 1, ActionID: "A001", ActionType: "update", Path: "docs/index.md", Status: "planned"}})
		if err != nil {
			t.Fatalf("failed to record run %d: %v", i, err)
		}
		lastID = id
	}

	removed, err := db.Prune(2)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned runs, got %d", removed)
	}

	runs, err := db.ListRuns(0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 surviving runs, got %d", len(runs))
	}

	actions, err := db.ListRunActions(lastID)
	if err != nil {
		t.Fatalf("failed to list actions: %v", err)
	}
	if len(actions) != 1 {
		t.Errorf("expected surviving run to keep its action, got %d", len(actions))
	}
}
