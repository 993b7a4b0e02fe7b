package ledger

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/railguard/internal/apperr"
	"github.com/starford/railguard/internal/closure"
	"github.com/starford/railguard/internal/pipeline"
	"github.com/starford/railguard/internal/writer"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "railguard-ledger-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResult(id string, started time.Time) *pipeline.Result {
	return &pipeline.Result{
		RunID:  id,
		Root:   "/srv/shop",
		Status: pipeline.StatusCompleted,
		Classes: &closure.Set{
			Names:      []string{"User", "Admin"},
			Identities: []string{"user.rb", "admin.rb"},
			Passes:     3,
		},
		Written: []writer.Write{
			{Role: "entity", Path: "app/models/user.rb", Before: "aa", After: "bb"},
			{Role: "template", Path: "app/views/home.html.erb", After: "cc"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"runs", "run_classes", "run_writes"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestRecordAndGetRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if err := db.RecordRun(ctx, sampleResult("run-1", time.Now())); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	d, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if d.Status != "completed" || d.Passes != 3 || d.Classes != 2 || d.Writes != 2 {
		t.Errorf("run = %+v", d.RunRow)
	}
	if len(d.ClassList) != 2 || d.ClassList[0].Name != "User" || d.ClassList[1].Identity != "admin.rb" {
		t.Errorf("classes = %+v", d.ClassList)
	}
	if len(d.WriteList) != 2 || d.WriteList[0].Path != "app/models/user.rb" || d.WriteList[1].Before != "" {
		t.Errorf("writes = %+v", d.WriteList)
	}
	if d.FinishedAt.Sub(d.StartedAt) != time.Second {
		t.Errorf("duration = %v", d.FinishedAt.Sub(d.StartedAt))
	}
}

func TestRecordRun_FailedWithoutClasses(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	res := &pipeline.Result{
		RunID:      "run-f",
		Root:       "/srv/broken",
		Status:     pipeline.StatusFailed,
		Error:      "discover: discovery failed",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	if err := db.RecordRun(ctx, res); err != nil {
		t.Fatal(err)
	}
	d, err := db.GetRun(ctx, "run-f")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != "failed" || d.Error == "" || d.Classes != 0 {
		t.Errorf("run = %+v", d.RunRow)
	}
}

func TestRecordRun_ReplacesChildren(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	res := sampleResult("run-1", time.Now())
	_ = db.RecordRun(ctx, res)
	res.Classes.Names = res.Classes.Names[:1]
	res.Classes.Identities = res.Classes.Identities[:1]
	if err := db.RecordRun(ctx, res); err != nil {
		t.Fatal(err)
	}
	d, _ := db.GetRun(ctx, "run-1")
	if d.Classes != 1 {
		t.Errorf("classes = %d, want 1", d.Classes)
	}
}

func TestRecordRun_ChildClearFailureRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.conn.Exec(`DROP TABLE run_writes`); err != nil {
		t.Fatal(err)
	}
	res := &pipeline.Result{RunID: "run-x", Root: "/srv/shop", Status: pipeline.StatusFailed, StartedAt: time.Now()}
	if err := db.RecordRun(ctx, res); err == nil {
		t.Fatal("expected an error when the writes table is missing")
	}
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs WHERE id = ?`, "run-x").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("runs = %d, want 0 after rollback", n)
	}
}

func TestListRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		if err := db.RecordRun(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, total, err := db.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("runs = %+v", runs)
	}

	runs, _, _ = db.ListRuns(ctx, 2, 2)
	if len(runs) != 1 || runs[0].ID != "old" {
		t.Errorf("second page = %+v", runs)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetRun(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
