package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/port/broadcast"
	"github.com/imq-dev/imq/internal/port/checkexec"
	"github.com/imq-dev/imq/internal/port/database/dbtest"
	"github.com/imq-dev/imq/internal/port/forgegateway"
	"github.com/imq-dev/imq/internal/port/ingress"
)

// fakeGateway overrides only what a scenario exercises; every other method
// comes from the embedded nil interface and panics if accidentally called.
type fakeGateway struct {
	forgegateway.Gateway

	mu          sync.Mutex
	pr          forgegateway.PullRequestView
	mergeResult forgegateway.MergeResult
	mergeErr    error
	comments    []string
}

func (f *fakeGateway) GetPullRequest(_ context.Context, _, _ string, _ int) (*forgegateway.PullRequestView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.pr
	return &v, nil
}

func (f *fakeGateway) UpdatePullRequestBranch(_ context.Context, _, _ string, _ int) (*forgegateway.BranchUpdate, error) {
	return &forgegateway.BranchUpdate{Accepted: true}, nil
}

func (f *fakeGateway) PostComment(_ context.Context, _, _ string, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeGateway) MergePullRequest(_ context.Context, _, _ string, _ int, _ forgegateway.MergeOptions) (*forgegateway.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	r := f.mergeResult
	return &r, nil
}

type stubBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (b *stubBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcast.Event{Type: eventType, Payload: payload})
}

func (b *stubBroadcaster) Subscribe(func(broadcast.Event) bool) *broadcast.Subscription {
	return &broadcast.Subscription{Cancel: func() {}}
}

func newTestEngine(t *testing.T, gw *fakeGateway) (*QueueEngine, *dbtest.MemStore) {
	t.Helper()
	store := dbtest.New()
	ctx := context.Background()
	_, err := store.PutConfiguration(ctx, sysconfig.Default("merge-queue"))
	if err != nil {
		t.Fatal(err)
	}
	checks := NewCheckEngine(nil, newMemCache(), 2, time.Minute)
	engine := NewQueueEngine(store, gw, checks, &stubBroadcaster{}, metrics.New(10), time.Millisecond)
	return engine, store
}

func waitForQueueEmpty(t *testing.T, store *dbtest.MemStore, queueID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := store.ListEntries(context.Background(), queueID)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for queue to drain")
}

func TestQueueEngineHappyPathMerges(t *testing.T) {
	gw := &fakeGateway{
		pr:          forgegateway.PullRequestView{Number: 1, BaseBranch: "main", HeadBranch: "feature", HeadSHA: "a111111111111111111111111111111111111111"},
		mergeResult: forgegateway.MergeResult{Merged: true, SHA: "deadbeef"},
	}
	engine, store := newTestEngine(t, gw)

	err := engine.OnEvent(context.Background(), ingress.NormalizedEvent{
		Kind: ingress.KindLabelAdded, Owner: "acme", Repo: "widgets", PRNumber: 1, Label: "merge-queue",
	})
	if err != nil {
		t.Fatal(err)
	}

	repo, err := store.GetRepositoryByFullName(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	q, err := store.GetQueueByBranch(context.Background(), repo.ID, "main")
	if err != nil {
		t.Fatal(err)
	}

	waitForQueueEmpty(t, store, q.ID)

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.comments) != 1 {
		t.Fatalf("expected exactly one merged comment, got %d: %v", len(gw.comments), gw.comments)
	}
}

func TestQueueEngineChecksFailureEvictsEntry(t *testing.T) {
	gw := &fakeGateway{
		pr: forgegateway.PullRequestView{Number: 2, BaseBranch: "main", HeadBranch: "feature", HeadSHA: "b222222222222222222222222222222222222222"},
	}
	store := dbtest.New()
	ctx := context.Background()
	cfg := sysconfig.Default("merge-queue")
	cfg.CheckSet = check.Set{Checks: []check.Configuration{{ID: "lint", Name: "lint", Kind: check.KindLocalScript}}}
	if _, err := store.PutConfiguration(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	failing := &fakeExecutor{fn: func(check.Configuration) (check.ExecutionResult, error) {
		return check.ExecutionResult{Status: check.StatusFailed, Output: "lint error"}, nil
	}}
	checks := NewCheckEngine(map[check.Kind]checkexec.Executor{check.KindLocalScript: failing}, newMemCache(), 2, time.Minute)
	engine := NewQueueEngine(store, gw, checks, &stubBroadcaster{}, metrics.New(10), time.Millisecond)

	if err := engine.OnEvent(ctx, ingress.NormalizedEvent{
		Kind: ingress.KindLabelAdded, Owner: "acme", Repo: "widgets", PRNumber: 2, Label: "merge-queue",
	}); err != nil {
		t.Fatal(err)
	}

	repo, err := store.GetRepositoryByFullName(ctx, "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	q, err := store.GetQueueByBranch(ctx, repo.ID, "main")
	if err != nil {
		t.Fatal(err)
	}
	waitForQueueEmpty(t, store, q.ID)
}

func TestQueueEngineRecoverResetsRunningToPending(t *testing.T) {
	store := dbtest.New()
	ctx := context.Background()
	if _, err := store.PutConfiguration(ctx, sysconfig.Default("merge-queue")); err != nil {
		t.Fatal(err)
	}
	repo, err := store.EnsureRepository(ctx, repository.Repository{FullName: "acme/recover", Owner: "acme", Name: "recover", DefaultBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	q, err := store.EnsureQueue(ctx, queue.Queue{RepositoryID: repo.ID, BaseBranch: "main"})
	if err != nil {
		t.Fatal(err)
	}
	pr, err := store.UpsertPullRequest(ctx, pullrequest.PullRequest{RepositoryID: repo.ID, Number: 3, HeadSHA: "c333333333333333333333333333333333333333"})
	if err != nil {
		t.Fatal(err)
	}
	entry, err := store.AppendEntry(ctx, queue.Entry{QueueID: q.ID, PullRequestID: pr.ID})
	if err != nil {
		t.Fatal(err)
	}
	entry.Status = queue.StatusRunning
	now := time.Now()
	entry.StartedAt = &now
	if _, err := store.UpdateEntry(ctx, *entry); err != nil {
		t.Fatal(err)
	}

	staleStartedAt := *entry.StartedAt

	// A driver is armed for every queue as part of recovery, so the reset
	// entry may already have been picked back up by the time we observe it.
	// Either outcome confirms the reset happened: still pending with no
	// StartedAt, or running again with a fresh StartedAt distinct from the
	// stale pre-crash one.
	gw := &fakeGateway{pr: forgegateway.PullRequestView{Number: 3, BaseBranch: "main", HeadBranch: "feature", HeadSHA: "c333333333333333333333333333333333333333"}}
	engine := NewQueueEngine(store, gw, NewCheckEngine(nil, newMemCache(), 2, time.Minute), &stubBroadcaster{}, metrics.New(10), time.Millisecond)
	if err := engine.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.GetEntry(ctx, entry.ID)
		if err != nil {
			// The driver may have already driven the reset entry through to
			// a terminal outcome and removed it; that is only reachable by
			// first having passed back through pending, so it also confirms
			// the reset happened.
			break
		}
		if got.Status == queue.StatusPending && got.StartedAt == nil {
			break
		}
		if got.Status == queue.StatusRunning && got.StartedAt != nil && !got.StartedAt.Equal(staleStartedAt) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recovery never reset the stale running entry, got %+v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
