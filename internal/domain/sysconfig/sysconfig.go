// Package sysconfig defines the SystemConfiguration singleton entity.
package sysconfig

import (
	"encoding/json"
	"time"

	"github.com/imq-dev/imq/internal/domain/check"
)

// SystemConfiguration is the single-row entity (id=1) holding the operator's
// trigger label, configured check-set, notification templates, and
// read-only copies of the webhook secret/proxy URL sourced from the
// environment at startup.
type SystemConfiguration struct {
	ID                 int             `json:"id"`
	TriggerLabel       string          `json:"trigger_label"`
	CheckSet           check.Set       `json:"check_set"`
	MergeMethod        string          `json:"merge_method"` // merge, squash, rebase
	CommentTemplates   CommentTemplates `json:"comment_templates"`
	WebhookSecret      string          `json:"-"` // read-only, sourced from environment
	WebhookProxyURL    string          `json:"-"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CommentTemplates holds the PR comment bodies posted at pipeline outcomes.
type CommentTemplates struct {
	Merged       string `json:"merged"`
	ChecksFailed string `json:"checks_failed"`
	BranchFailed string `json:"branch_failed"`
	MergeFailed  string `json:"merge_failed"`
}

// DefaultCommentTemplates returns the templates used when the operator has
// not overridden them, matching the end-to-end scenario wording.
func DefaultCommentTemplates() CommentTemplates {
	return CommentTemplates{
		Merged:       "✅ Successfully merged via IMQ!",
		ChecksFailed: "❌ Checks failed. Removed from merge queue.",
		BranchFailed: "❌ Failed to update branch. Removed from merge queue.",
		MergeFailed:  "❌ Merge failed. Removed from merge queue.",
	}
}

// Default returns the SystemConfiguration seeded at first startup, before
// any admin override via PUT /api/v1/config.
func Default(triggerLabel string) SystemConfiguration {
	return SystemConfiguration{
		ID:               1,
		TriggerLabel:     triggerLabel,
		CheckSet:         check.Set{},
		MergeMethod:      "squash",
		CommentTemplates: DefaultCommentTemplates(),
	}
}

// MarshalKindConfig is a convenience used by callers building configurations
// from untyped JSON bodies (admin API).
func MarshalKindConfig(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
