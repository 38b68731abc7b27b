package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/port/checkexec"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(c check.Configuration) (check.ExecutionResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, c check.Configuration, _ repository.Repository, _ pullrequest.PullRequest) (check.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(c)
	}
	return check.ExecutionResult{Status: check.StatusPassed}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testPR(sha string) pullrequest.PullRequest {
	return pullrequest.PullRequest{ID: "pr-1", Number: 7, HeadSHA: sha}
}

func TestCheckEngineAllPass(t *testing.T) {
	exec := &fakeExecutor{}
	engine := NewCheckEngine(map[check.Kind]checkexec.Executor{check.KindLocalScript: exec}, newMemCache(), 2, time.Minute)

	set := check.Set{Checks: []check.Configuration{
		{ID: "a", Name: "a", Kind: check.KindLocalScript},
		{ID: "b", Name: "b", Kind: check.KindLocalScript, Dependencies: []string{"a"}},
	}}

	report, err := engine.Run(context.Background(), set, repository.Repository{}, testPR("a111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatal(err)
	}
	if !report.AllPassed {
		t.Fatalf("expected all passed, got %+v", report)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
}

func TestCheckEngineFailFastCancelsDependents(t *testing.T) {
	exec := &fakeExecutor{fn: func(c check.Configuration) (check.ExecutionResult, error) {
		if c.ID == "a" {
			return check.ExecutionResult{Status: check.StatusFailed}, nil
		}
		return check.ExecutionResult{Status: check.StatusPassed}, nil
	}}
	engine := NewCheckEngine(map[check.Kind]checkexec.Executor{check.KindLocalScript: exec}, newMemCache(), 2, time.Minute)

	set := check.Set{FailFast: true, Checks: []check.Configuration{
		{ID: "a", Name: "a", Kind: check.KindLocalScript},
		{ID: "b", Name: "b", Kind: check.KindLocalScript, Dependencies: []string{"a"}},
	}}

	report, err := engine.Run(context.Background(), set, repository.Repository{}, testPR("b222222222222222222222222222222222222222"))
	if err != nil {
		t.Fatal(err)
	}
	if report.AllPassed {
		t.Fatal("expected not all passed")
	}
	var bResult check.ExecutionResult
	for _, r := range report.Results {
		if r.Name == "b" {
			bResult = r.Result
		}
	}
	if bResult.Status != check.StatusCancelled {
		t.Fatalf("expected b cancelled since its dependency failed, got %v", bResult.Status)
	}
}

func TestCheckEngineMemoizesByHeadSHA(t *testing.T) {
	exec := &fakeExecutor{}
	c := newMemCache()
	engine := NewCheckEngine(map[check.Kind]checkexec.Executor{check.KindLocalScript: exec}, c, 2, time.Minute)

	set := check.Set{Checks: []check.Configuration{{ID: "a", Name: "a", Kind: check.KindLocalScript}}}
	pr := testPR("c333333333333333333333333333333333333333")

	if _, err := engine.Run(context.Background(), set, repository.Repository{}, pr); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Run(context.Background(), set, repository.Repository{}, pr); err != nil {
		t.Fatal(err)
	}
	if exec.callCount() != 1 {
		t.Fatalf("expected memoized second run to skip execution, got %d calls", exec.callCount())
	}
}
