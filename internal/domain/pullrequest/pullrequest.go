// Package pullrequest defines the PullRequest domain entity.
package pullrequest

import (
	"regexp"
	"time"
)

// shaPattern matches a 40-character lowercase hex commit SHA.
var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidSHA reports whether s is a well-formed 40-character lowercase hex
// commit SHA, per the boundary rule on commit SHA validity.
func ValidSHA(s string) bool {
	return shaPattern.MatchString(s)
}

// PullRequest tracks a single PR on the Forge. head_sha mutates whenever the
// PR head advances; the conflict/up-to-date flags mutate on every Forge
// refresh. Uniqueness is on (RepositoryID, Number).
type PullRequest struct {
	ID            string    `json:"id"`
	RepositoryID  string    `json:"repository_id"`
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	BaseBranch    string    `json:"base_branch"`
	HeadBranch    string    `json:"head_branch"`
	HeadSHA       string    `json:"head_sha"`
	IsConflicted  bool      `json:"is_conflicted"`
	IsUpToDate    bool      `json:"is_up_to_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RefreshFields holds the subset of fields a Forge refresh may mutate.
type RefreshFields struct {
	Title        string
	HeadSHA      string
	IsConflicted bool
	IsUpToDate   bool
}

// Refresh applies the fields observed from a Forge refresh, producing a new
// value per the value-typed entity convention; it never mutates pr in place.
func Refresh(pr PullRequest, f RefreshFields, now time.Time) PullRequest {
	pr.Title = f.Title
	pr.HeadSHA = f.HeadSHA
	pr.IsConflicted = f.IsConflicted
	pr.IsUpToDate = f.IsUpToDate
	pr.UpdatedAt = now
	return pr
}
