// Package service implements the Queue Engine and Check Execution Engine:
// the use-case orchestration layer sitting between the HTTP/ingress
// adapters and the domain/port packages.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/port/cache"
	"github.com/imq-dev/imq/internal/port/checkexec"
)

const (
	defaultMaxConcurrentChecks = 5
	defaultCheckTimeout        = 600 * time.Second
	defaultMemoTTL             = time.Hour
)

// CheckOutcome pairs a configured check's name with its execution result.
type CheckOutcome struct {
	Name   string               `json:"name"`
	Result check.ExecutionResult `json:"result"`
}

// CheckReport is the outcome of running a configured check.Set against one
// pull request revision.
type CheckReport struct {
	Results      []CheckOutcome `json:"results"`
	AllPassed    bool           `json:"all_passed"`
	FailedChecks []string       `json:"failed_checks,omitempty"`
}

// CheckEngine drives a configured check.Set for a pull request: bounded
// concurrency, dependency-respecting admission, fail-fast cancellation, and
// SHA-keyed memoization of completed results.
type CheckEngine struct {
	executors     map[check.Kind]checkexec.Executor
	cache         cache.Cache
	maxConcurrent int
	memoTTL       time.Duration
}

// NewCheckEngine builds a CheckEngine. maxConcurrent <= 0 uses the default
// of 5; memoTTL <= 0 uses the default of 1 hour.
func NewCheckEngine(executors map[check.Kind]checkexec.Executor, c cache.Cache, maxConcurrent int, memoTTL time.Duration) *CheckEngine {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentChecks
	}
	if memoTTL <= 0 {
		memoTTL = defaultMemoTTL
	}
	return &CheckEngine{executors: executors, cache: c, maxConcurrent: maxConcurrent, memoTTL: memoTTL}
}

// Run executes set against pr, respecting dependency ordering and the
// fail_fast flag. set must already have passed check.Set.Validate.
func (e *CheckEngine) Run(ctx context.Context, set check.Set, repo repository.Repository, pr pullrequest.PullRequest) (CheckReport, error) {
	if err := set.Validate(); err != nil {
		return CheckReport{}, fmt.Errorf("check engine: %w", err)
	}
	n := len(set.Checks)
	if n == 0 {
		return CheckReport{AllPassed: true}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(e.maxConcurrent))
	done := make(chan string, n)

	var mu sync.Mutex
	var wg sync.WaitGroup
	status := make(map[string]check.Status, n)
	outcomeByID := make(map[string]CheckOutcome, n)
	started := make(map[string]bool, n)
	aborted := false

	finishWithoutRunning := func(c check.Configuration, st check.Status) {
		started[c.ID] = true
		status[c.ID] = st
		outcomeByID[c.ID] = CheckOutcome{Name: c.Name, Result: check.ExecutionResult{Status: st}}
	}

	var dispatch func()
	dispatch = func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range set.Checks {
			if started[c.ID] {
				continue
			}
			if aborted {
				finishWithoutRunning(c, check.StatusCancelled)
				go func(id string) { done <- id }(c.ID)
				continue
			}
			ready, blocked := dependencyState(c, status)
			if blocked {
				finishWithoutRunning(c, check.StatusCancelled)
				go func(id string) { done <- id }(c.ID)
				continue
			}
			if !ready {
				continue
			}
			started[c.ID] = true
			cfg := c
			wg.Add(1)
			go func() {
				defer wg.Done()
				result := e.executeOne(ctx, sem, cfg, repo, pr)
				mu.Lock()
				status[cfg.ID] = result.Status
				outcomeByID[cfg.ID] = CheckOutcome{Name: cfg.Name, Result: result}
				mu.Unlock()
				done <- cfg.ID
			}()
		}
	}

	dispatch()
	for finished := 0; finished < n; finished++ {
		id := <-done
		mu.Lock()
		st := status[id]
		mu.Unlock()
		if set.FailFast && st != check.StatusPassed && !aborted {
			aborted = true
			cancel()
		}
		dispatch()
	}
	wg.Wait()

	report := CheckReport{Results: make([]CheckOutcome, 0, n)}
	for _, c := range set.Checks {
		oc := outcomeByID[c.ID]
		report.Results = append(report.Results, oc)
		if oc.Result.Status != check.StatusPassed {
			report.FailedChecks = append(report.FailedChecks, c.Name)
		}
	}
	report.AllPassed = len(report.FailedChecks) == 0
	return report, nil
}

// dependencyState reports whether c is ready to run (all dependencies
// completed with status=passed) or permanently blocked (a dependency
// completed with a non-passed terminal status).
func dependencyState(c check.Configuration, status map[string]check.Status) (ready, blocked bool) {
	ready = true
	for _, dep := range c.Dependencies {
		st, done := status[dep]
		if !done {
			ready = false
			continue
		}
		if st != check.StatusPassed {
			return false, true
		}
	}
	return ready, false
}

func (e *CheckEngine) executeOne(ctx context.Context, sem *semaphore.Weighted, c check.Configuration, repo repository.Repository, pr pullrequest.PullRequest) check.ExecutionResult {
	if cached, ok := e.lookupMemo(ctx, pr.HeadSHA, c.ID); ok {
		return cached
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return check.ExecutionResult{Status: check.StatusCancelled, Output: "cancelled before acquiring a check slot"}
	}
	defer sem.Release(1)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executor, ok := e.executors[c.Kind]
	if !ok {
		return check.ExecutionResult{Status: check.StatusFailed, Output: fmt.Sprintf("no executor registered for kind %q", c.Kind)}
	}

	result, err := executor.Execute(runCtx, c, repo, pr)
	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return check.ExecutionResult{
				Status:      check.StatusTimedOut,
				Output:      err.Error(),
				StartedAt:   time.Now().Add(-timeout),
				CompletedAt: time.Now(),
				Duration:    timeout,
			}
		case errors.Is(runCtx.Err(), context.Canceled):
			return check.ExecutionResult{Status: check.StatusCancelled, Output: err.Error(), CompletedAt: time.Now()}
		default:
			return check.ExecutionResult{Status: check.StatusFailed, Output: err.Error(), CompletedAt: time.Now()}
		}
	}

	e.storeMemo(ctx, pr.HeadSHA, c.ID, result)
	return result
}

func memoKey(headSHA, checkID string) string {
	return "check-memo:" + headSHA + ":" + checkID
}

func (e *CheckEngine) lookupMemo(ctx context.Context, headSHA, checkID string) (check.ExecutionResult, bool) {
	if e.cache == nil {
		return check.ExecutionResult{}, false
	}
	raw, ok, err := e.cache.Get(ctx, memoKey(headSHA, checkID))
	if err != nil || !ok {
		return check.ExecutionResult{}, false
	}
	var result check.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return check.ExecutionResult{}, false
	}
	return result, true
}

func (e *CheckEngine) storeMemo(ctx context.Context, headSHA, checkID string, result check.ExecutionResult) {
	if e.cache == nil || !result.Status.Terminal() {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, memoKey(headSHA, checkID), raw, e.memoTTL)
}
