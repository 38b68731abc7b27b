// Package forgegateway defines the semantic operations port over the Forge
// Client: the domain-level verbs the Queue Engine drives (fetch PR, update
// branch, compare commits, trigger/poll workflow, post comment, merge PR).
package forgegateway

import (
	"context"
	"fmt"
)

// PullRequestView is the Forge's current view of a pull request.
type PullRequestView struct {
	Number       int
	Title        string
	Author       string
	BaseBranch   string
	HeadBranch   string
	HeadSHA      string
	IsConflicted bool
	IsUpToDate   bool
	Merged       bool
	Closed       bool
}

// BranchUpdate is the result of asking the Forge to fast-forward a PR's
// head branch onto its base.
type BranchUpdate struct {
	Accepted bool // true on 202 (async update queued)
	Message  string
}

// CompareResult is the result of comparing two refs.
type CompareResult struct {
	AheadBy  int
	BehindBy int
	Status   string
}

// WorkflowRun is a Forge workflow run (conclusion is empty while in progress).
type WorkflowRun struct {
	ID         string
	Status     string
	Conclusion string
}

// MergeMethod selects the merge strategy.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// MergeOptions configures a merge call.
type MergeOptions struct {
	Title   string
	Message string
	Method  MergeMethod
}

// MergeResult is the outcome of a merge call.
type MergeResult struct {
	SHA     string
	Merged  bool
	Message string
}

// Gateway is the port implemented by the Forge gateway adapter.
type Gateway interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestView, error)
	UpdatePullRequestBranch(ctx context.Context, owner, repo string, number int) (*BranchUpdate, error)
	CompareCommits(ctx context.Context, owner, repo, base, head string) (*CompareResult, error)
	TriggerWorkflow(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]string) (*WorkflowRun, error)
	GetWorkflowRun(ctx context.Context, owner, repo, runID string) (*WorkflowRun, error)
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
	MergePullRequest(ctx context.Context, owner, repo string, number int, opts MergeOptions) (*MergeResult, error)
}

// Error wraps an underlying forgeclient error with the gateway operation
// that failed, so callers can log/compare without re-deriving call context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("forgegateway: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
