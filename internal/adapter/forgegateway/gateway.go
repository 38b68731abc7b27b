// Package forgegateway implements forgegateway.Gateway over a
// forgeclient.Client: the domain-level verbs (fetch PR, update branch,
// compare commits, trigger/poll workflow, post comment, merge PR).
package forgegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imq-dev/imq/internal/port/forgeclient"
	"github.com/imq-dev/imq/internal/port/forgegateway"
)

// workflowRunLocateGrace is how long Gateway waits after dispatching a
// workflow before querying for the run it created. GitHub's
// workflow-dispatch endpoint returns no run id, so this is best-effort:
// the gateway queries runs filtered by ref+workflow+a creation-time window
// and picks the most recent. If the run hasn't appeared in the list by then,
// a placeholder run id is returned and is never resolved to the real run.
const workflowRunLocateGrace = 2 * time.Second

// placeholderRunID is returned when TriggerWorkflow cannot locate the
// dispatched run; GetWorkflowRun reports it as queued on every call and does
// not look up the real run.
const placeholderRunID = "pending"

type Gateway struct {
	client forgeclient.Client
	now    func() time.Time
}

var _ forgegateway.Gateway = (*Gateway)(nil)

func New(client forgeclient.Client) *Gateway {
	return &Gateway{client: client, now: time.Now}
}

type prUser struct {
	Login string `json:"login"`
}

type prBase struct {
	Ref string `json:"ref"`
}

type prHead struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type prResponse struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	User       prUser `json:"user"`
	Base       prBase `json:"base"`
	Head       prHead `json:"head"`
	Mergeable  *bool  `json:"mergeable"`
	MergedFlag bool   `json:"merged"`
	State      string `json:"state"`
}

func (g *Gateway) GetPullRequest(ctx context.Context, owner, repo string, number int) (*forgegateway.PullRequestView, error) {
	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s/pulls/%d",
		PathArgs: []any{owner, repo, number}, UseETag: true,
	})
	if err != nil {
		return nil, forgegateway.Wrap("GetPullRequest", err)
	}
	var pr prResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, forgegateway.Wrap("GetPullRequest", forgeclient.Decode(err))
	}
	conflicted := pr.Mergeable != nil && !*pr.Mergeable
	return &forgegateway.PullRequestView{
		Number:       pr.Number,
		Title:        pr.Title,
		Author:       pr.User.Login,
		BaseBranch:   pr.Base.Ref,
		HeadBranch:   pr.Head.Ref,
		HeadSHA:      pr.Head.SHA,
		IsConflicted: conflicted,
		IsUpToDate:   pr.Mergeable != nil && *pr.Mergeable,
		Merged:       pr.MergedFlag,
		Closed:       pr.State == "closed",
	}, nil
}

type branchUpdateResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

// UpdatePullRequestBranch asks GitHub to fast-forward the PR's head branch
// onto the base. The response's message field has been observed to be an
// unreliable source of the new head SHA; callers must re-fetch the PR
// afterwards to obtain the authoritative SHA rather than parsing it here.
func (g *Gateway) UpdatePullRequestBranch(ctx context.Context, owner, repo string, number int) (*forgegateway.BranchUpdate, error) {
	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodPut, PathTemplate: "/repos/%s/%s/pulls/%d/update-branch",
		PathArgs: []any{owner, repo, number},
	})
	if err != nil {
		return nil, forgegateway.Wrap("UpdatePullRequestBranch", err)
	}
	var body branchUpdateResponse
	_ = json.Unmarshal(resp.Body, &body)
	return &forgegateway.BranchUpdate{
		Accepted: resp.StatusCode == 202,
		Message:  body.Message,
	}, nil
}

type compareResponse struct {
	AheadBy  int    `json:"ahead_by"`
	BehindBy int    `json:"behind_by"`
	Status   string `json:"status"`
}

func (g *Gateway) CompareCommits(ctx context.Context, owner, repo, base, head string) (*forgegateway.CompareResult, error) {
	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s/compare/%s...%s",
		PathArgs: []any{owner, repo, base, head},
	})
	if err != nil {
		return nil, forgegateway.Wrap("CompareCommits", err)
	}
	var c compareResponse
	if err := json.Unmarshal(resp.Body, &c); err != nil {
		return nil, forgegateway.Wrap("CompareCommits", forgeclient.Decode(err))
	}
	return &forgegateway.CompareResult{AheadBy: c.AheadBy, BehindBy: c.BehindBy, Status: c.Status}, nil
}

type workflowRunsResponse struct {
	TotalCount int `json:"total_count"`
	WorkflowRuns []struct {
		ID         int64  `json:"id"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		CreatedAt  time.Time `json:"created_at"`
		HeadBranch string `json:"head_branch"`
	} `json:"workflow_runs"`
}

// TriggerWorkflow dispatches the workflow then makes a best-effort attempt
// to locate the run it created. GitHub's dispatch endpoint returns no run
// id (202 with empty body), so after a short grace period the gateway
// queries workflow runs filtered by ref and selects the most recently
// created one. If none is found, it returns a placeholder run id, which
// GetWorkflowRun reports as queued on every later call.
func (g *Gateway) TriggerWorkflow(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]string) (*forgegateway.WorkflowRun, error) {
	dispatchAt := g.now()
	_, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodPost, PathTemplate: "/repos/%s/%s/actions/workflows/%s/dispatches",
		PathArgs: []any{owner, repo, workflow},
		Body:     map[string]any{"ref": ref, "inputs": inputs},
	})
	if err != nil {
		return nil, forgegateway.Wrap("TriggerWorkflow", err)
	}

	select {
	case <-time.After(workflowRunLocateGrace):
	case <-ctx.Done():
		return nil, forgegateway.Wrap("TriggerWorkflow", ctx.Err())
	}

	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s/actions/workflows/%s/runs?branch=%s&per_page=10",
		PathArgs: []any{owner, repo, workflow, ref},
	})
	if err != nil {
		return nil, forgegateway.Wrap("TriggerWorkflow", err)
	}
	var runs workflowRunsResponse
	if err := json.Unmarshal(resp.Body, &runs); err != nil {
		return nil, forgegateway.Wrap("TriggerWorkflow", forgeclient.Decode(err))
	}

	var bestID int64
	var bestCreated time.Time
	for _, r := range runs.WorkflowRuns {
		if r.HeadBranch != ref {
			continue
		}
		if !r.CreatedAt.Before(dispatchAt) && r.CreatedAt.After(bestCreated) {
			bestID = r.ID
			bestCreated = r.CreatedAt
		}
	}
	if bestID == 0 {
		return &forgegateway.WorkflowRun{ID: placeholderRunID, Status: "queued"}, nil
	}
	return &forgegateway.WorkflowRun{ID: fmt.Sprintf("%d", bestID), Status: "queued"}, nil
}

type workflowRunResponse struct {
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

func (g *Gateway) GetWorkflowRun(ctx context.Context, owner, repo, runID string) (*forgegateway.WorkflowRun, error) {
	if runID == placeholderRunID {
		return &forgegateway.WorkflowRun{ID: runID, Status: "queued"}, nil
	}
	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s/actions/runs/%s",
		PathArgs: []any{owner, repo, runID},
	})
	if err != nil {
		return nil, forgegateway.Wrap("GetWorkflowRun", err)
	}
	var r workflowRunResponse
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return nil, forgegateway.Wrap("GetWorkflowRun", forgeclient.Decode(err))
	}
	return &forgegateway.WorkflowRun{ID: runID, Status: r.Status, Conclusion: r.Conclusion}, nil
}

func (g *Gateway) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodPost, PathTemplate: "/repos/%s/%s/issues/%d/comments",
		PathArgs: []any{owner, repo, number}, Body: map[string]string{"body": body},
	})
	if err != nil {
		return forgegateway.Wrap("PostComment", err)
	}
	return nil
}

type mergeResponse struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

func (g *Gateway) MergePullRequest(ctx context.Context, owner, repo string, number int, opts forgegateway.MergeOptions) (*forgegateway.MergeResult, error) {
	method := opts.Method
	if method == "" {
		method = forgegateway.MergeMethodSquash
	}
	resp, err := g.client.Do(ctx, forgeclient.Endpoint{
		Method: forgeclient.MethodPut, PathTemplate: "/repos/%s/%s/pulls/%d/merge",
		PathArgs: []any{owner, repo, number},
		Body: map[string]any{
			"commit_title":   opts.Title,
			"commit_message": opts.Message,
			"merge_method":   string(method),
		},
	})
	if err != nil {
		return nil, forgegateway.Wrap("MergePullRequest", err)
	}
	var m mergeResponse
	if err := json.Unmarshal(resp.Body, &m); err != nil {
		return nil, forgegateway.Wrap("MergePullRequest", forgeclient.Decode(err))
	}
	return &forgegateway.MergeResult{SHA: m.SHA, Merged: m.Merged, Message: m.Message}, nil
}
