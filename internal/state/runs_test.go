package state

import (
	"strings"
	"testing"
	"time"
)

func createTestRun(t *testing.T, db *DB, id string, started time.Time) *Run {
	t.Helper()
	r := &Run{ID: id, Topic: "Topic " + id, Scope: "Scope " + id, StartedAt: started}
	if err := db.CreateRun(r); err != nil {
		t.Fatalf("CreateRun(%s) failed: %v", id, err)
	}
	return r
}

func TestCreateAndGetRun(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	createTestRun(t, db, "abc12345", started)

	got, err := db.GetRun("abc12345")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil")
	}
	if got.Status != RunRunning {
		t.Errorf("Status = %q, want %q", got.Status, RunRunning)
	}
	if got.Topic != "Topic abc12345" || got.Scope != "Scope abc12345" {
		t.Errorf("got topic %q scope %q", got.Topic, got.Scope)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil for a running run")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetRun("missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestGetRun_Prefix(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	createTestRun(t, db, "abc11111", now)
	createTestRun(t, db, "abd22222", now)

	got, err := db.GetRun("abd")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.ID != "abd22222" {
		t.Errorf("GetRun(abd) = %+v, want abd22222", got)
	}

	if _, err := db.GetRun("ab"); err == nil || !strings.Contains(err.Error(), "more than one run") {
		t.Errorf("GetRun(ab) error = %v, want an ambiguity error", err)
	}
}

func TestFinishRun(t *testing.T) {
	db := setupTestDB(t)
	r := createTestRun(t, db, "run-1", time.Now().Add(-time.Minute))

	finished := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	r.Status = RunCompleted
	r.Reason = "complete"
	r.Rounds = 3
	r.Sources = 7
	r.TokensIn = 1200
	r.TokensOut = 300
	r.Report = "# Report"
	r.FinishedAt = &finished
	if err := db.FinishRun(r); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RunCompleted || got.Reason != "complete" || got.Rounds != 3 || got.Sources != 7 {
		t.Errorf("got %+v", got)
	}
	if got.TokensIn != 1200 || got.TokensOut != 300 || got.Report != "# Report" {
		t.Errorf("got tokens %d/%d report %q", got.TokensIn, got.TokensOut, got.Report)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestFinishRun_Unknown(t *testing.T) {
	db := setupTestDB(t)
	if err := db.FinishRun(&Run{ID: "ghost", Status: RunFailed}); err == nil {
		t.Error("expected error finishing an unknown run")
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	createTestRun(t, db, "old", base)
	mid := createTestRun(t, db, "mid", base.Add(time.Hour))
	createTestRun(t, db, "new", base.Add(2*time.Hour))

	mid.Status = RunCompleted
	if err := db.FinishRun(mid); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListRuns(nil, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
		t.Errorf("ListRuns order = %v, want newest first", runIDs(all))
	}

	limited, err := db.ListRuns(nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}

	status := RunCompleted
	completed, err := db.ListRuns(&status, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0].ID != "mid" {
		t.Errorf("completed = %v, want [mid]", runIDs(completed))
	}
}

func TestSaveAndGetRunFiles(t *testing.T) {
	db := setupTestDB(t)
	createTestRun(t, db, "run-1", time.Now())

	files := map[string]string{
		"/research/index.md":        "# Index",
		"/research/go/findings.md":  "findings",
		"/research/go/sources.json": "[]",
	}
	if err := db.SaveFiles("run-1", files); err != nil {
		t.Fatalf("SaveFiles failed: %v", err)
	}

	got, err := db.GetRunFiles("run-1")
	if err != nil {
		t.Fatalf("GetRunFiles failed: %v", err)
	}
	wantPaths := []string{"/research/go/findings.md", "/research/go/sources.json", "/research/index.md"}
	if len(got) != len(wantPaths) {
		t.Fatalf("got %d files, want %d", len(got), len(wantPaths))
	}
	for i, p := range wantPaths {
		if got[i].Path != p || got[i].Content != files[p] {
			t.Errorf("file[%d] = %+v, want path %s", i, got[i], p)
		}
	}

	// Saving again replaces the previous set.
	if err := db.SaveFiles("run-1", map[string]string{"/research/index.md": "v2"}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetRunFiles("run-1")
	if len(got) != 1 || got[0].Content != "v2" {
		t.Errorf("after second save got %+v", got)
	}
}

func TestDeleteRun_CascadesFiles(t *testing.T) {
	db := setupTestDB(t)
	createTestRun(t, db, "run-1", time.Now())
	if err := db.SaveFiles("run-1", map[string]string{"/research/index.md": "x"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	files, err := db.GetRunFiles("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("files survived run deletion: %+v", files)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)
	createTestRun(t, db, "ancient", time.Now().Add(-30*24*time.Hour))
	createTestRun(t, db, "recent", time.Now())

	n, err := db.PurgeOldRuns(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}
	if r, _ := db.GetRun("recent"); r == nil {
		t.Error("recent run was purged")
	}
}

func runIDs(runs []Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
