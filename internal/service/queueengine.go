package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imq-dev/imq/internal/domain"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/queue"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/domain/sysconfig"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/port/broadcast"
	"github.com/imq-dev/imq/internal/port/database"
	"github.com/imq-dev/imq/internal/port/forgeclient"
	"github.com/imq-dev/imq/internal/port/forgegateway"
	"github.com/imq-dev/imq/internal/port/ingress"
	"github.com/imq-dev/imq/internal/adapter/ws"
)

const (
	defaultBranchSettleWait = 2 * time.Second
	defaultIdleTick         = 30 * time.Second
	pauseBaseDelay          = 5 * time.Second
	pauseMaxDelay           = 5 * time.Minute
)

// DriverStatus is the externally-observable state of one queue's driver
// goroutine, surfaced at GET /api/v1/stats/queues/{id}.
type DriverStatus struct {
	Running        bool       `json:"running"`
	CurrentEntryID string     `json:"current_entry_id,omitempty"`
	PausedUntil    *time.Time `json:"paused_until,omitempty"`
}

// ShutdownReport summarizes a graceful-shutdown pass.
type ShutdownReport struct {
	Aborted int `json:"aborted"`
	Drained int `json:"drained"`
}

// QueueEngine is the Queue Processing Engine: event admission/eviction and
// one serial driver per active queue running the refresh -> checks ->
// branch-update -> merge pipeline.
type QueueEngine struct {
	store        database.Store
	gateway      forgegateway.Gateway
	checks       *CheckEngine
	broadcaster  broadcast.Broadcaster
	sink         *metrics.Sink
	branchSettle time.Duration

	mu       sync.Mutex
	drivers  map[string]*driver
	stopping bool
	stopCh   chan struct{}
}

// NewQueueEngine builds a QueueEngine. branchSettle <= 0 uses the 2s default.
func NewQueueEngine(store database.Store, gateway forgegateway.Gateway, checks *CheckEngine, broadcaster broadcast.Broadcaster, sink *metrics.Sink, branchSettle time.Duration) *QueueEngine {
	if branchSettle <= 0 {
		branchSettle = defaultBranchSettleWait
	}
	return &QueueEngine{
		store:        store,
		gateway:      gateway,
		checks:       checks,
		broadcaster:  broadcaster,
		sink:         sink,
		branchSettle: branchSettle,
		drivers:      make(map[string]*driver),
		stopCh:       make(chan struct{}),
	}
}

type driver struct {
	queueID string
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	mu          sync.Mutex
	running     bool
	currentID   string
	pausedUntil time.Time
}

func (d *driver) status() DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := DriverStatus{Running: d.running, CurrentEntryID: d.currentID}
	if !d.pausedUntil.IsZero() && d.pausedUntil.After(time.Now()) {
		t := d.pausedUntil
		s.PausedUntil = &t
	}
	return s
}

func (d *driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Recover resets every entry left in `running` (from a crash mid-pipeline)
// back to `pending`, so each affected queue's driver resumes from the top.
func (e *QueueEngine) Recover(ctx context.Context) error {
	entries, err := e.store.ListRunningEntries(ctx)
	if err != nil {
		return fmt.Errorf("recover: list running entries: %w", err)
	}
	for _, entry := range entries {
		entry.Status = queue.StatusPending
		entry.StartedAt = nil
		if _, err := e.store.UpdateEntry(ctx, entry); err != nil {
			return fmt.Errorf("recover: reset entry %s: %w", entry.ID, err)
		}
		slog.Warn("recovered running entry to pending", "entry_id", entry.ID, "queue_id", entry.QueueID)
	}
	queues, err := e.store.ListQueues(ctx)
	if err != nil {
		return fmt.Errorf("recover: list queues: %w", err)
	}
	for _, q := range queues {
		e.ensureDriver(q.ID)
	}
	return nil
}

// OnEvent admits or evicts a pull request based on trigger-label presence.
func (e *QueueEngine) OnEvent(ctx context.Context, ev ingress.NormalizedEvent) error {
	cfg, err := e.store.GetConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("on event: load configuration: %w", err)
	}

	switch ev.Kind {
	case ingress.KindLabelAdded:
		if ev.Label != cfg.TriggerLabel {
			return nil
		}
		return e.admit(ctx, ev, *cfg)
	case ingress.KindLabelRemoved:
		if ev.Label != cfg.TriggerLabel {
			return nil
		}
		return e.evict(ctx, ev, "label_removed")
	case ingress.KindPRClosed:
		return e.evict(ctx, ev, "pr_closed")
	case ingress.KindPRUpdated:
		// The driver re-refreshes the PR on its own turn; just wake it in
		// case it is idle waiting on this repository's queue.
		e.wakeQueueForPR(ctx, ev)
		return nil
	default:
		return nil
	}
}

func (e *QueueEngine) admit(ctx context.Context, ev ingress.NormalizedEvent, cfg sysconfig.SystemConfiguration) error {
	view, err := e.gateway.GetPullRequest(ctx, ev.Owner, ev.Repo, ev.PRNumber)
	if err != nil {
		return fmt.Errorf("admit: fetch pull request: %w", err)
	}
	if !pullrequest.ValidSHA(view.HeadSHA) {
		return fmt.Errorf("admit: head sha %q is not a valid 40-char hex commit sha", view.HeadSHA)
	}

	repo, err := e.store.EnsureRepository(ctx, repository.Repository{
		Owner:         ev.Owner,
		Name:          ev.Repo,
		FullName:      fmt.Sprintf("%s/%s", ev.Owner, ev.Repo),
		DefaultBranch: view.BaseBranch,
	})
	if err != nil {
		return fmt.Errorf("admit: ensure repository: %w", err)
	}

	pr, err := e.store.UpsertPullRequest(ctx, pullrequest.PullRequest{
		RepositoryID: repo.ID,
		Number:       view.Number,
		Title:        view.Title,
		Author:       view.Author,
		BaseBranch:   view.BaseBranch,
		HeadBranch:   view.HeadBranch,
		HeadSHA:      view.HeadSHA,
		IsConflicted: view.IsConflicted,
		IsUpToDate:   view.IsUpToDate,
	})
	if err != nil {
		return fmt.Errorf("admit: persist pull request: %w", err)
	}

	q, err := e.store.EnsureQueue(ctx, queue.Queue{RepositoryID: repo.ID, BaseBranch: view.BaseBranch})
	if err != nil {
		return fmt.Errorf("admit: ensure queue: %w", err)
	}

	existing, err := e.store.ListEntries(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("admit: list entries: %w", err)
	}
	for _, en := range existing {
		if en.PullRequestID == pr.ID && !en.Status.Terminal() {
			return nil // already queued; duplicate admission is a no-op
		}
	}

	entry, err := e.store.AppendEntry(ctx, queue.Entry{
		QueueID:       q.ID,
		PullRequestID: pr.ID,
		Position:      len(existing),
		Status:        queue.StatusPending,
		EnqueuedAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("admit: append entry: %w", err)
	}

	e.broadcaster.BroadcastEvent(ctx, ws.EventEntryAdded, ws.EntryAddedPayload{
		EntryID: entry.ID, QueueID: q.ID, PullRequestID: pr.ID,
		PRNumber: pr.Number, Position: entry.Position, Timestamp: time.Now(),
	})

	e.ensureDriver(q.ID).signal()
	return nil
}

func (e *QueueEngine) evict(ctx context.Context, ev ingress.NormalizedEvent, reason string) error {
	repo, err := e.store.GetRepositoryByFullName(ctx, fmt.Sprintf("%s/%s", ev.Owner, ev.Repo))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // never admitted; nothing to evict
		}
		return fmt.Errorf("evict: lookup repository: %w", err)
	}
	pr, err := e.store.GetPullRequestByNumber(ctx, repo.ID, ev.PRNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("evict: lookup pull request: %w", err)
	}

	q, err := e.store.GetQueueByBranch(ctx, repo.ID, pr.BaseBranch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("evict: lookup queue: %w", err)
	}
	entries, err := e.store.ListEntries(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("evict: list entries: %w", err)
	}
	for _, entry := range entries {
		if entry.PullRequestID != pr.ID || entry.Status.Terminal() {
			continue
		}
		if entry.Status == queue.StatusRunning {
			e.cancelRunning(q.ID)
		}
		return e.removeEntry(ctx, entry, reason)
	}
	return nil
}

func (e *QueueEngine) wakeQueueForPR(ctx context.Context, ev ingress.NormalizedEvent) {
	repo, err := e.store.GetRepositoryByFullName(ctx, fmt.Sprintf("%s/%s", ev.Owner, ev.Repo))
	if err != nil {
		return
	}
	pr, err := e.store.GetPullRequestByNumber(ctx, repo.ID, ev.PRNumber)
	if err != nil {
		return
	}
	q, err := e.store.GetQueueByBranch(ctx, repo.ID, pr.BaseBranch)
	if err != nil {
		return
	}
	if d := e.driverFor(q.ID); d != nil {
		d.signal()
	}
}

// removeEntry drops entry from its queue, re-densifying positions, and
// broadcasts the removal.
func (e *QueueEngine) removeEntry(ctx context.Context, entry queue.Entry, reason string) error {
	if err := e.store.RemoveEntry(ctx, entry.ID); err != nil {
		return fmt.Errorf("remove entry %s: %w", entry.ID, err)
	}
	e.broadcaster.BroadcastEvent(ctx, ws.EventEntryRemoved, ws.EntryRemovedPayload{
		EntryID: entry.ID, QueueID: entry.QueueID, Reason: reason, Timestamp: time.Now(),
	})
	return nil
}

func (e *QueueEngine) cancelRunning(queueID string) {
	if d := e.driverFor(queueID); d != nil {
		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

// ---------------------------------------------------------------------------
// Administrative operations (HTTP / CLI surface)
// ---------------------------------------------------------------------------

func (e *QueueEngine) ListQueues(ctx context.Context) ([]queue.Queue, error) {
	return e.store.ListQueues(ctx)
}

func (e *QueueEngine) GetQueue(ctx context.Context, id string) (*queue.Queue, error) {
	return e.store.GetQueue(ctx, id)
}

func (e *QueueEngine) GetEntries(ctx context.Context, queueID string) ([]queue.Entry, error) {
	return e.store.ListEntries(ctx, queueID)
}

// AddEntry administratively enqueues prNumber's pull request onto queueID's
// repository, appended at the tail.
func (e *QueueEngine) AddEntry(ctx context.Context, queueID string, prNumber int) (*queue.Entry, error) {
	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	repo, err := e.store.GetRepository(ctx, q.RepositoryID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.store.GetConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.admit(ctx, ingress.NormalizedEvent{
		Kind: ingress.KindLabelAdded, Owner: repo.Owner, Repo: repo.Name,
		PRNumber: prNumber, Label: cfg.TriggerLabel,
	}, *cfg); err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, queueID)
	if err != nil {
		return nil, err
	}
	pr, err := e.store.GetPullRequestByNumber(ctx, repo.ID, prNumber)
	if err != nil {
		return nil, err
	}
	for _, en := range entries {
		if en.PullRequestID == pr.ID && !en.Status.Terminal() {
			return &en, nil
		}
	}
	return nil, domain.ErrNotFound
}

// RemoveEntry administratively removes an entry, cancelling its pipeline
// first if it is currently running.
func (e *QueueEngine) RemoveEntry(ctx context.Context, entryID string) error {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == queue.StatusRunning {
		e.cancelRunning(entry.QueueID)
	}
	return e.removeEntry(ctx, *entry, "admin_removed")
}

// Reorder applies an administrative reordering of queueID's pending entries.
func (e *QueueEngine) Reorder(ctx context.Context, queueID string, orderedIDs []string) ([]queue.Entry, error) {
	entries, err := e.store.ReorderEntries(ctx, queueID, orderedIDs)
	if err != nil {
		return nil, err
	}
	e.broadcaster.BroadcastEvent(ctx, ws.EventEntryStatusChanged, ws.EntryStatusChangedPayload{
		QueueID: queueID, Status: "reordered", Timestamp: time.Now(),
	})
	if d := e.driverFor(queueID); d != nil {
		d.signal()
	}
	return entries, nil
}

// GetDriverStatus reports the live state of queueID's driver goroutine.
func (e *QueueEngine) GetDriverStatus(queueID string) (DriverStatus, bool) {
	d := e.driverFor(queueID)
	if d == nil {
		return DriverStatus{}, false
	}
	return d.status(), true
}

func (e *QueueEngine) driverFor(queueID string) *driver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drivers[queueID]
}

func (e *QueueEngine) ensureDriver(queueID string) *driver {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.drivers[queueID]; ok {
		return d
	}
	d := &driver{queueID: queueID, wake: make(chan struct{}, 1), done: make(chan struct{})}
	e.drivers[queueID] = d
	go e.runDriver(d)
	return d
}

// ---------------------------------------------------------------------------
// Driver loop
// ---------------------------------------------------------------------------

func (e *QueueEngine) runDriver(d *driver) {
	defer close(d.done)
	ctx := context.Background()
	ticker := time.NewTicker(defaultIdleTick)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		stopping := e.stopping
		e.mu.Unlock()
		if stopping {
			return
		}

		d.mu.Lock()
		paused := d.pausedUntil
		d.mu.Unlock()
		if !paused.IsZero() && paused.After(time.Now()) {
			select {
			case <-time.After(time.Until(paused)):
			case <-d.wake:
			case <-e.stopCh:
				return
			}
			continue
		}

		entries, err := e.store.ListEntries(ctx, d.queueID)
		if err != nil {
			slog.Error("driver: list entries failed", "queue_id", d.queueID, "error", err)
			e.sink.RecordProcessorError()
			e.pauseDriver(d)
			continue
		}
		e.sink.RecordQueueLength(d.queueID, len(entries))

		var head *queue.Entry
		for i := range entries {
			if entries[i].Position == 0 && entries[i].Status == queue.StatusPending {
				head = &entries[i]
				break
			}
		}
		if head == nil {
			select {
			case <-d.wake:
			case <-ticker.C:
			case <-e.stopCh:
				return
			}
			continue
		}

		runCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.running = true
		d.currentID = head.ID
		d.cancel = cancel
		d.mu.Unlock()

		outcome := e.runPipeline(runCtx, *head)

		d.mu.Lock()
		d.running = false
		d.currentID = ""
		d.cancel = nil
		d.mu.Unlock()
		cancel()

		if outcome.systemic {
			e.pauseDriver(d)
		} else {
			d.clearPause()
		}
	}
}

func (d *driver) clearPause() {
	d.mu.Lock()
	d.pausedUntil = time.Time{}
	d.mu.Unlock()
}

func (e *QueueEngine) pauseDriver(d *driver) {
	d.mu.Lock()
	delay := pauseBaseDelay
	if !d.pausedUntil.IsZero() {
		remaining := time.Until(d.pausedUntil)
		if remaining > 0 {
			delay = remaining * 2
		}
	}
	if delay > pauseMaxDelay {
		delay = pauseMaxDelay
	}
	d.pausedUntil = time.Now().Add(delay)
	d.mu.Unlock()
	slog.Warn("queue driver paused after systemic error", "queue_id", d.queueID, "delay", delay)
}

// pipelineOutcome carries whether the pipeline hit a systemic (retriable at
// the driver level) versus an entry-scoped terminal error.
type pipelineOutcome struct {
	systemic bool
}

// runPipeline drives one entry through refresh -> checks -> branch-update ->
// merge, per the 6-step pipeline. It never returns an error: all failures
// are resolved into an entry status transition, broadcast, and metrics.
func (e *QueueEngine) runPipeline(ctx context.Context, entry queue.Entry) pipelineOutcome {
	start := time.Now()

	entry, err := queue.Transition(entry, queue.StatusRunning, start)
	if err != nil {
		slog.Error("driver: illegal transition to running", "entry_id", entry.ID, "error", err)
		return pipelineOutcome{}
	}
	if _, err := e.store.UpdateEntry(ctx, entry); err != nil {
		return pipelineOutcome{systemic: true}
	}
	e.broadcaster.BroadcastEvent(ctx, ws.EventEntryStatusChanged, ws.EntryStatusChangedPayload{
		EntryID: entry.ID, QueueID: entry.QueueID, Status: string(queue.StatusRunning), Timestamp: start,
	})

	pr, err := e.store.GetPullRequest(ctx, entry.PullRequestID)
	if err != nil {
		return pipelineOutcome{systemic: true}
	}
	repo, err := e.store.GetRepository(ctx, pr.RepositoryID)
	if err != nil {
		return pipelineOutcome{systemic: true}
	}
	cfg, err := e.store.GetConfiguration(ctx)
	if err != nil {
		return pipelineOutcome{systemic: true}
	}

	// Step 2: refresh.
	view, err := e.gateway.GetPullRequest(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		if systemic := isSystemicForgeError(err); systemic {
			e.requeueToTop(ctx, entry)
			return pipelineOutcome{systemic: true}
		}
		return e.failEntry(ctx, entry, *pr, *repo, start, "refresh_failed", cfg.CommentTemplates.BranchFailed, err)
	}
	if view.Merged {
		// Already merged: the Forge accepted the merge this pipeline
		// submitted before a prior crash, and recovery is only now
		// observing it. Record it completed, not cancelled.
		return e.completeEntry(ctx, entry, *pr, *repo, start, "")
	}
	if view.Closed {
		return e.cancelEntry(ctx, entry, start)
	}
	if !pullrequest.ValidSHA(view.HeadSHA) {
		return e.failEntry(ctx, entry, *pr, *repo, start, "refresh_failed", cfg.CommentTemplates.BranchFailed, fmt.Errorf("head sha %q is not a valid 40-char hex commit sha", view.HeadSHA))
	}

	*pr = pullrequest.Refresh(*pr, pullrequest.RefreshFields{
		Title: view.Title, HeadSHA: view.HeadSHA, IsConflicted: view.IsConflicted, IsUpToDate: view.IsUpToDate,
	}, time.Now())
	if _, err := e.store.UpsertPullRequest(ctx, *pr); err != nil {
		return pipelineOutcome{systemic: true}
	}

	// Step 3: checks.
	if len(cfg.CheckSet.Checks) > 0 {
		report, err := e.checks.Run(ctx, cfg.CheckSet, *repo, *pr)
		if err != nil {
			return e.failEntry(ctx, entry, *pr, *repo, start, "checks_invalid", cfg.CommentTemplates.ChecksFailed, err)
		}
		for _, oc := range report.Results {
			e.sink.RecordCheck(metrics.CheckOutcome{
				Name: oc.Name, Status: string(oc.Result.Status), Duration: oc.Result.Duration, At: time.Now(),
			})
		}
		if !report.AllPassed {
			if ctx.Err() != nil {
				return e.resolveCancelledMidPipeline(ctx, entry, *pr, *repo, start)
			}
			return e.failEntry(ctx, entry, *pr, *repo, start, "checks_failed", cfg.CommentTemplates.ChecksFailed, fmt.Errorf("failed checks: %v", report.FailedChecks))
		}
	}

	if ctx.Err() != nil {
		return e.resolveCancelledMidPipeline(ctx, entry, *pr, *repo, start)
	}

	// Step 4: branch update.
	update, err := e.gateway.UpdatePullRequestBranch(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		if isSystemicForgeError(err) {
			e.requeueToTop(ctx, entry)
			return pipelineOutcome{systemic: true}
		}
		return e.failEntry(ctx, entry, *pr, *repo, start, "branch_update_failed", cfg.CommentTemplates.BranchFailed, err)
	}
	_ = update // message is not authoritative for the new SHA; re-fetch below.

	select {
	case <-time.After(e.branchSettle):
	case <-ctx.Done():
		return e.resolveCancelledMidPipeline(ctx, entry, *pr, *repo, start)
	}

	refreshed, err := e.gateway.GetPullRequest(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		if isSystemicForgeError(err) {
			e.requeueToTop(ctx, entry)
			return pipelineOutcome{systemic: true}
		}
		return e.failEntry(ctx, entry, *pr, *repo, start, "branch_update_failed", cfg.CommentTemplates.BranchFailed, err)
	}
	if refreshed.IsConflicted {
		return e.failEntry(ctx, entry, *pr, *repo, start, "branch_update_failed", cfg.CommentTemplates.BranchFailed, fmt.Errorf("branch update left the PR conflicted"))
	}
	if !pullrequest.ValidSHA(refreshed.HeadSHA) {
		return e.failEntry(ctx, entry, *pr, *repo, start, "branch_update_failed", cfg.CommentTemplates.BranchFailed, fmt.Errorf("head sha %q is not a valid 40-char hex commit sha", refreshed.HeadSHA))
	}
	*pr = pullrequest.Refresh(*pr, pullrequest.RefreshFields{
		Title: refreshed.Title, HeadSHA: refreshed.HeadSHA, IsConflicted: refreshed.IsConflicted, IsUpToDate: refreshed.IsUpToDate,
	}, time.Now())
	if _, err := e.store.UpsertPullRequest(ctx, *pr); err != nil {
		return pipelineOutcome{systemic: true}
	}

	// Step 5: merge.
	mergeMethod := forgegateway.MergeMethod(cfg.MergeMethod)
	if mergeMethod == "" {
		mergeMethod = forgegateway.MergeMethodSquash
	}
	result, err := e.gateway.MergePullRequest(ctx, repo.Owner, repo.Name, pr.Number, forgegateway.MergeOptions{Method: mergeMethod})
	if err != nil {
		if ctx.Err() != nil {
			return e.resolveCancelledMidPipeline(ctx, entry, *pr, *repo, start)
		}
		if isSystemicForgeError(err) {
			e.requeueToTop(ctx, entry)
			return pipelineOutcome{systemic: true}
		}
		return e.failEntry(ctx, entry, *pr, *repo, start, "merge_failed", cfg.CommentTemplates.MergeFailed, err)
	}
	if !result.Merged {
		return e.failEntry(ctx, entry, *pr, *repo, start, "merge_failed", cfg.CommentTemplates.MergeFailed, fmt.Errorf("merge rejected: %s", result.Message))
	}

	return e.completeEntry(ctx, entry, *pr, *repo, start, cfg.CommentTemplates.Merged)
}

func isSystemicForgeError(err error) bool {
	var fe *forgeclient.Error
	for e := err; e != nil; {
		if ge, ok := e.(*forgegateway.Error); ok {
			e = ge.Err
			continue
		}
		if inner, ok := e.(*forgeclient.Error); ok {
			fe = inner
			break
		}
		break
	}
	return fe != nil && fe.Kind == forgeclient.KindRateLimitExceeded
}

func (e *QueueEngine) requeueToTop(ctx context.Context, entry queue.Entry) {
	entry.Status = queue.StatusPending
	entry.StartedAt = nil
	_, _ = e.store.UpdateEntry(ctx, entry)
}

func (e *QueueEngine) failEntry(ctx context.Context, entry queue.Entry, pr pullrequest.PullRequest, repo repository.Repository, start time.Time, reason, comment string, cause error) pipelineOutcome {
	slog.Warn("pipeline entry failed", "entry_id", entry.ID, "reason", reason, "error", cause)
	entry, _ = queue.Transition(entry, queue.StatusFailed, time.Now())
	_, _ = e.store.UpdateEntry(ctx, entry)
	if comment != "" {
		_ = e.gateway.PostComment(ctx, repo.Owner, repo.Name, pr.Number, comment)
	}
	_ = e.removeEntry(ctx, entry, reason)
	e.sink.RecordProcessing(metrics.Sample{QueueID: entry.QueueID, EntryID: entry.ID, Duration: time.Since(start), Succeeded: false, At: time.Now()})
	return pipelineOutcome{}
}

func (e *QueueEngine) cancelEntry(ctx context.Context, entry queue.Entry, start time.Time) pipelineOutcome {
	entry, _ = queue.Transition(entry, queue.StatusCancelled, time.Now())
	_, _ = e.store.UpdateEntry(ctx, entry)
	_ = e.removeEntry(ctx, entry, "pr_closed_or_merged")
	e.sink.RecordProcessing(metrics.Sample{QueueID: entry.QueueID, EntryID: entry.ID, Duration: time.Since(start), Succeeded: false, At: time.Now()})
	return pipelineOutcome{}
}

func (e *QueueEngine) completeEntry(ctx context.Context, entry queue.Entry, pr pullrequest.PullRequest, repo repository.Repository, start time.Time, comment string) pipelineOutcome {
	entry, _ = queue.Transition(entry, queue.StatusCompleted, time.Now())
	_, _ = e.store.UpdateEntry(ctx, entry)
	if comment != "" {
		_ = e.gateway.PostComment(ctx, repo.Owner, repo.Name, pr.Number, comment)
	}
	_ = e.removeEntry(ctx, entry, "completed")
	e.sink.RecordProcessing(metrics.Sample{QueueID: entry.QueueID, EntryID: entry.ID, Duration: time.Since(start), Succeeded: true, At: time.Now()})
	return pipelineOutcome{}
}

// resolveCancelledMidPipeline implements the indeterminate-merge rule: when
// cancellation lands between merge submission and acknowledgement, re-fetch
// the PR to observe whether the Forge accepted the merge before deciding
// the entry's terminal status.
func (e *QueueEngine) resolveCancelledMidPipeline(ctx context.Context, entry queue.Entry, pr pullrequest.PullRequest, repo repository.Repository, start time.Time) pipelineOutcome {
	bg := context.Background()
	view, err := e.gateway.GetPullRequest(bg, repo.Owner, repo.Name, pr.Number)
	if err == nil && view.Merged {
		return e.completeEntry(bg, entry, pr, repo, start, "")
	}
	return e.cancelEntry(bg, entry, start)
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// Shutdown stops intake of new driver cycles, cancels in-flight entries
// after grace elapses, and reports how many entries were aborted versus
// allowed to drain to a natural stopping point.
func (e *QueueEngine) Shutdown(ctx context.Context, grace time.Duration) ShutdownReport {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ShutdownReport{}
	}
	e.stopping = true
	close(e.stopCh)
	drivers := make([]*driver, 0, len(e.drivers))
	for _, d := range e.drivers {
		drivers = append(drivers, d)
	}
	e.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	report := ShutdownReport{}
	remaining := make([]*driver, 0, len(drivers))
	for _, d := range drivers {
		select {
		case <-d.done:
			report.Drained++
		default:
			remaining = append(remaining, d)
		}
	}

	for len(remaining) > 0 {
		next := remaining[0]
		select {
		case <-next.done:
			report.Drained++
			remaining = remaining[1:]
		case <-deadline.C:
			for _, d := range remaining {
				d.mu.Lock()
				cancel := d.cancel
				running := d.running
				d.mu.Unlock()
				aborted := running && cancel != nil
				if aborted {
					cancel()
					report.Aborted++
				}
				<-d.done
				if !aborted {
					report.Drained++
				}
			}
			remaining = nil
		}
	}

	if report.Aborted > 0 {
		e.sink.RecordForcedShutdown(report.Aborted)
	}
	return report
}
