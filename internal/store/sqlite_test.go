package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/kthreads/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun() *model.Run {
	return &model.Run{
		ID:       "run_test-1",
		Scenario: "priority-donate-one",
		Status:   model.RunStatusCompleted,
		Ticks:    12,
		Stats: model.KernelStats{
			IdleTicks:   2,
			KernelTicks: 10,
			Switches:    7,
			Created:     4,
		},
		Threads: []model.ThreadInfo{
			{TID: 1, Name: "main", Status: model.ThreadRunning, Priority: 31, OriginalPriority: 31},
			{TID: 2, Name: "idle", Status: model.ThreadBlocked, Priority: 0, OriginalPriority: 0, Queue: ""},
		},
		EventCount: 3,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
		Duration:   "1.2ms",
	}
}

func sampleEvents() []model.Event {
	return []model.Event{
		{Seq: 1, Tick: 0, Kind: model.EventCreate, TID: 3, Thread: "acquire1", Priority: 32},
		{Seq: 2, Tick: 0, Kind: model.EventDonate, TID: 1, Thread: "main", Priority: 32, Detail: "from acquire1 via l"},
		{Seq: 3, Tick: 1, Kind: model.EventDispatch, TID: 3, Thread: "acquire1", Priority: 32},
	}
}

// --- Migration tests ---

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

// --- Run tests ---

func TestCreateAndGetRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()

	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("got nil run")
	}
	if got.Scenario != run.Scenario {
		t.Errorf("scenario = %q, want %q", got.Scenario, run.Scenario)
	}
	if got.Status != model.RunStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.Stats != run.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, run.Stats)
	}
	if len(got.Threads) != 2 || got.Threads[0].Name != "main" {
		t.Errorf("threads = %+v", got.Threads)
	}
	if !got.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, run.CreatedAt)
	}
	if got.Duration != "1.2ms" {
		t.Errorf("duration = %q", got.Duration)
	}
}

func TestCreateRun_Duplicate(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.CreateRun(ctx, sampleRun()); err == nil {
		t.Error("expected error for duplicate run id")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetRun(context.Background(), "run_nonexistent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListRuns_Pagination(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		run := sampleRun()
		run.ID = fmt.Sprintf("run_%d", i)
		run.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := st.CreateRun(ctx, run); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	runs, total, err := st.ListRuns(ctx, model.ListOptions{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "run_4" {
		t.Errorf("first = %q, want newest run_4", runs[0].ID)
	}

	runs, _, err = st.ListRuns(ctx, model.ListOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run_0" {
		t.Errorf("last page = %v", runs)
	}
}

func TestListRuns_Filters(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	r1 := sampleRun()
	st.CreateRun(ctx, r1)

	r2 := sampleRun()
	r2.ID = "run_test-2"
	r2.Scenario = "mlfqs-fair"
	r2.MLFQS = true
	st.CreateRun(ctx, r2)

	r3 := sampleRun()
	r3.ID = "run_test-3"
	r3.Status = model.RunStatusFaulted
	r3.Fault = "DEADLOCK: no runnable threads"
	st.CreateRun(ctx, r3)

	yes := true
	tests := []struct {
		name    string
		opts    model.ListOptions
		wantIDs []string
	}{
		{"status", model.ListOptions{Status: "FAULTED"}, []string{"run_test-3"}},
		{"scenario", model.ListOptions{Scenario: "mlfqs-fair"}, []string{"run_test-2"}},
		{"mlfqs", model.ListOptions{MLFQS: &yes}, []string{"run_test-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, total, err := st.ListRuns(ctx, tt.opts)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != len(tt.wantIDs) {
				t.Errorf("total = %d, want %d", total, len(tt.wantIDs))
			}
			if len(runs) != len(tt.wantIDs) || runs[0].ID != tt.wantIDs[0] {
				t.Errorf("runs = %v, want %v", runs, tt.wantIDs)
			}
		})
	}

	got, _ := st.GetRun(ctx, "run_test-3")
	if got.Fault != r3.Fault {
		t.Errorf("fault = %q, want %q", got.Fault, r3.Fault)
	}
}

func TestDeleteRun_CascadesEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()
	st.CreateRun(ctx, run)
	if err := st.AddEvents(ctx, run.ID, sampleEvents()); err != nil {
		t.Fatalf("add events: %v", err)
	}

	if err := st.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got != nil {
		t.Error("run still present after delete")
	}
	_, total, err := st.ListEvents(ctx, run.ID, model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 0 {
		t.Errorf("events after delete = %d, want 0", total)
	}
}

func TestDeleteRun_NotFound(t *testing.T) {
	st := testStore(t)
	if err := st.DeleteRun(context.Background(), "run_nonexistent"); err == nil {
		t.Error("expected error deleting missing run")
	}
}

// --- Event tests ---

func TestAddAndListEvents(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()
	st.CreateRun(ctx, run)

	if err := st.AddEvents(ctx, run.ID, sampleEvents()); err != nil {
		t.Fatalf("add: %v", err)
	}

	events, total, err := st.ListEvents(ctx, run.ID, model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(events) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", total, len(events))
	}
	for i, e := range events {
		if e.Seq != int64(i+1) {
			t.Errorf("events[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	if events[1].Kind != model.EventDonate || events[1].Detail != "from acquire1 via l" {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestListEvents_Filters(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()
	st.CreateRun(ctx, run)
	st.AddEvents(ctx, run.ID, sampleEvents())

	opts := model.DefaultListOptions()
	opts.Kind = string(model.EventDonate)
	events, total, err := st.ListEvents(ctx, run.ID, opts)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || events[0].Thread != "main" {
		t.Errorf("kind filter: total = %d, events = %+v", total, events)
	}

	opts = model.DefaultListOptions()
	opts.Thread = "acquire1"
	_, total, err = st.ListEvents(ctx, run.ID, opts)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Errorf("thread filter total = %d, want 2", total)
	}
}

func TestAddEvents_UnknownRun(t *testing.T) {
	st := testStore(t)
	err := st.AddEvents(context.Background(), "run_missing", sampleEvents())
	if err == nil {
		t.Error("expected foreign key error for unknown run")
	}
}

func TestAddEvents_Empty(t *testing.T) {
	st := testStore(t)
	if err := st.AddEvents(context.Background(), "run_missing", nil); err != nil {
		t.Errorf("AddEvents(nil) = %v, want nil", err)
	}
}

func TestSaveRun(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()

	if err := st.SaveRun(ctx, run, sampleEvents()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	_, total, err := st.ListEvents(ctx, run.ID, model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 3 {
		t.Errorf("events = %d, want 3", total)
	}
}

func TestSaveRun_RollsBackOnEventError(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	run := sampleRun()

	events := sampleEvents()
	events[2].Seq = events[1].Seq // duplicate primary key
	if err := st.SaveRun(ctx, run, events); err == nil {
		t.Fatal("expected error for duplicate event seq")
	}
	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("run stored although its events were not")
	}
}
