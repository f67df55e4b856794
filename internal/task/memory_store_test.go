package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	jobs := []*Job{
		{ID: "j1", SessionID: "s1", Kind: KindCommand, Input: "list files", Status: StatusPending, MaxRetries: 3},
		{ID: "j2", SessionID: "s1", Kind: KindPlan, Input: "deploy service", Status: StatusPending, MaxRetries: 3},
		{ID: "j3", SessionID: "s2", Kind: KindCommand, Input: "check disk", Status: StatusPending, MaxRetries: 3},
	}
	for _, job := range jobs {
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j3", JobResult{Text: "disk is 40% full", Success: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["j1"].UpdatedAt = base.Unix()
	store.jobs["j2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["j3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j3" {
		t.Fatalf("expected newest job first, got %+v", all)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "j2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].ID != "j3" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	session, err := store.List(ctx, buildListOptions([]ListOption{WithSession("s1"), WithSortOrder(SortByUpdatedAsc)}))
	if err != nil {
		t.Fatalf("list session: %v", err)
	}
	if len(session) != 2 || session[0].ID != "j1" {
		t.Fatalf("unexpected session list: %+v", session)
	}

	plans, err := store.List(ctx, buildListOptions([]ListOption{WithKinds(KindPlan, "bogus")}))
	if err != nil {
		t.Fatalf("list kinds: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != "j2" {
		t.Fatalf("unexpected kind list: %+v", plans)
	}

	query, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("40%")}))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(query) != 1 || query[0].ID != "j3" {
		t.Fatalf("query should match result text: %+v", query)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since), WithLimit(1), WithOffset(1)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "j2" {
		t.Fatalf("unexpected paged list: %+v", recent)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Job{ID: id, SessionID: "s", Kind: KindCommand, Input: id, Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create job %s: %v", id, err)
		}
	}
	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", JobResult{Text: "ok"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.jobs["a"].UpdatedAt = base.Unix()
	store.jobs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() || stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j", SessionID: "s", Kind: KindCommand, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "j"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "j")
	if err != nil || job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("first claim: %+v %v", job, err)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("running job should conflict, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j", CodeJobProcessing, "transient", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	job, err = store.Claim(ctx, "j")
	if err != nil || job.Attempts != 2 || job.LastError != "" {
		t.Fatalf("retry claim: %+v %v", job, err)
	}

	if err := store.MarkFailed(ctx, "j", CodeJobProcessing, "again", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreTerminalFailureExhaustsAttempts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending, MaxRetries: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "j"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j", CodeJobValidation, "bad", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	job, _ := store.Get(ctx, "j")
	if job.Attempts != 5 || job.ErrorCode != string(CodeJobValidation) {
		t.Fatalf("terminal failure should exhaust attempts: %+v", job)
	}
	if _, err := store.Claim(ctx, "j"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Job{ID: "j", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "j", JobResult{Text: "original"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	job, _ := store.Get(ctx, "j")
	job.Result.Text = "mutated"
	again, _ := store.Get(ctx, "j")
	if again.Result.Text != "original" {
		t.Fatalf("store leaked internal state: %q", again.Result.Text)
	}
}
