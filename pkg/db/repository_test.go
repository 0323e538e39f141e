package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRun(id, startedAt string) *Run {
	return &Run{
		ID:             id,
		TargetType:     "product",
		TargetID:       "greenhouse",
		Environment:    "esp32dev",
		Version:        "1.0.0",
		FirmwareSHA256: "abc123",
		FirmwareSize:   1024,
		StartedAt:      startedAt,
	}
}

func TestRepository_CreateAndFinishRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	run := testRun("run-1", "")
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.Status != StatusRunning || run.StartedAt == "" {
		t.Errorf("defaults not applied: %+v", run)
	}

	if err := repo.FinishRun(ctx, "run-1", StatusCompleted, 2, 1, ""); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != StatusCompleted || got.SuccessCount != 2 || got.FailureCount != 1 {
		t.Errorf("run not updated: %+v", got)
	}
	if got.FinishedAt == "" {
		t.Error("finished_at not set")
	}
	if got.Version != "1.0.0" || got.FirmwarePath != "" {
		t.Errorf("nullable fields mismatch: %+v", got)
	}
}

func TestRepository_GetRunMissing(t *testing.T) {
	repo := newTestRepository(t)

	run, err := repo.GetRun(context.Background(), "nope")
	if err != nil || run != nil {
		t.Errorf("expected nil, nil for missing run, got %+v, %v", run, err)
	}

	if err := repo.FinishRun(context.Background(), "nope", StatusCompleted, 0, 0, ""); err == nil {
		t.Error("expected error finishing a missing run")
	}
}

func TestRepository_Results(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	repo.CreateRun(ctx, testRun("run-1", ""))

	devices := []string{"A", "B", "C"}
	for i, d := range devices {
		res := &Result{RunID: "run-1", Position: i, DeviceID: d, Outcome: "SUCCESS", Description: "OK", DurationMS: 1500, BytesSent: 1024}
		if d == "B" {
			res.Outcome, res.Description = "FAILURE", "Error while writing to device: invalid firmware part?"
			res.Compression, res.CompressedSize = "lzss", 600
		}
		if err := repo.AddResult(ctx, res); err != nil {
			t.Fatalf("failed to add result: %v", err)
		}
		if res.ID == 0 {
			t.Error("result id not set")
		}
	}

	results, err := repo.ListResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list results: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, d := range devices {
		if results[i].DeviceID != d {
			t.Errorf("result %d: got device %s, want %s", i, results[i].DeviceID, d)
		}
	}
	if results[1].Compression != "lzss" || results[1].CompressedSize != 600 {
		t.Errorf("compression not stored: %+v", results[1])
	}
	if results[0].Compression != "" {
		t.Errorf("expected empty compression, got %q", results[0].Compression)
	}

	history, err := repo.DeviceHistory(ctx, "B", 10)
	if err != nil {
		t.Fatalf("failed to get device history: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != "FAILURE" {
		t.Errorf("unexpected device history: %+v", history)
	}
}

func TestRepository_ListRunsAndPrune(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour).Format(TimeLayout)
	recent := now.Add(-time.Hour).Format(TimeLayout)

	repo.CreateRun(ctx, testRun("old", old))
	repo.CreateRun(ctx, testRun("recent", recent))
	repo.AddResult(ctx, &Result{RunID: "old", DeviceID: "A", Outcome: "SUCCESS"})
	repo.AddResult(ctx, &Result{RunID: "recent", DeviceID: "A", Outcome: "SUCCESS"})

	runs, err := repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "recent" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	limited, _ := repo.ListRuns(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d runs", len(limited))
	}

	deleted, err := repo.DeleteRunsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 run deleted, got %d", deleted)
	}

	if results, _ := repo.ListResults(ctx, "old"); len(results) != 0 {
		t.Errorf("results of pruned run remain: %+v", results)
	}
	if results, _ := repo.ListResults(ctx, "recent"); len(results) != 1 {
		t.Errorf("results of kept run missing: %+v", results)
	}
}

func TestRepository_DeleteRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	repo.CreateRun(ctx, testRun("run-1", ""))
	repo.AddResult(ctx, &Result{RunID: "run-1", DeviceID: "A", Outcome: "SUCCESS"})

	if err := repo.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}

	if run, _ := repo.GetRun(ctx, "run-1"); run != nil {
		t.Error("run still exists after delete")
	}
	if results, _ := repo.ListResults(ctx, "run-1"); len(results) != 0 {
		t.Error("results still exist after delete")
	}
}
