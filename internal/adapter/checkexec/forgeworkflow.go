package checkexec

import (
	"context"
	"encoding/json"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
	"github.com/imq-dev/imq/internal/domain/pullrequest"
	"github.com/imq-dev/imq/internal/domain/repository"
	"github.com/imq-dev/imq/internal/port/checkexec"
	"github.com/imq-dev/imq/internal/port/forgegateway"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxAttempts  = 60
	slowdownAfter       = 10 // attempts before cadence doubles from T to 2T
)

type forgeWorkflowConfig struct {
	Workflow string `json:"workflow"`
}

// ForgeWorkflowExecutor triggers a named workflow via the Forge gateway and
// polls its run to a terminal conclusion with an adaptive cadence: interval
// T for the first slowdownAfter attempts, then 2T, capped at
// defaultMaxAttempts polls or the check's own timeout, whichever comes first.
type ForgeWorkflowExecutor struct {
	Gateway  forgegateway.Gateway
	Owner    string
	PollBase time.Duration
}

var _ checkexec.Executor = (*ForgeWorkflowExecutor)(nil)

func (e *ForgeWorkflowExecutor) Execute(ctx context.Context, c check.Configuration, repo repository.Repository, pr pullrequest.PullRequest) (check.ExecutionResult, error) {
	var cfg forgeWorkflowConfig
	if err := json.Unmarshal(c.KindConfig, &cfg); err != nil || cfg.Workflow == "" {
		return check.ExecutionResult{}, checkexec.InvalidConfiguration("missing workflow name")
	}

	interval := e.PollBase
	if interval == 0 {
		interval = defaultPollInterval
	}

	started := time.Now()
	run, err := e.Gateway.TriggerWorkflow(ctx, repo.Owner, repo.Name, cfg.Workflow, pr.HeadBranch, nil)
	if err != nil {
		return check.ExecutionResult{}, checkexec.GatewayError(err)
	}

	deadline := c.Timeout
	if deadline == 0 {
		deadline = time.Duration(defaultMaxAttempts) * interval
	}
	deadlineAt := started.Add(deadline)

	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		if time.Now().After(deadlineAt) {
			return timedOutResult(started), nil
		}

		run, err = e.Gateway.GetWorkflowRun(ctx, repo.Owner, repo.Name, run.ID)
		if err != nil {
			return check.ExecutionResult{}, checkexec.GatewayError(err)
		}
		if run.Conclusion != "" {
			return conclusionResult(started, run.Conclusion), nil
		}

		cadence := interval
		if attempt > slowdownAfter {
			cadence = 2 * interval
		}
		select {
		case <-ctx.Done():
			return check.ExecutionResult{}, checkexec.GatewayError(ctx.Err())
		case <-time.After(cadence):
		}
	}

	return timedOutResult(started), nil
}

func timedOutResult(started time.Time) check.ExecutionResult {
	now := time.Now()
	return check.ExecutionResult{
		Status: check.StatusTimedOut, Output: "workflow run polling exceeded deadline",
		StartedAt: started, CompletedAt: now, Duration: now.Sub(started),
	}
}

// conclusionResult maps a GitHub workflow conclusion to a check status per
// success|neutral -> passed, failure|action_required -> failed,
// cancelled|skipped -> cancelled, timed_out -> timed_out, anything else is
// treated as failed with the raw conclusion preserved in the output.
func conclusionResult(started time.Time, conclusion string) check.ExecutionResult {
	now := time.Now()
	result := check.ExecutionResult{StartedAt: started, CompletedAt: now, Duration: now.Sub(started), Output: conclusion}
	switch conclusion {
	case "success", "neutral":
		result.Status = check.StatusPassed
	case "failure", "action_required":
		result.Status = check.StatusFailed
	case "cancelled", "skipped":
		result.Status = check.StatusCancelled
	case "timed_out":
		result.Status = check.StatusTimedOut
	default:
		result.Status = check.StatusFailed
		result.Output = "unknown conclusion: " + conclusion
	}
	return result
}
