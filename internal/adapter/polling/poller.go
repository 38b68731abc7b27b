// Package polling implements the polling half of Event Ingress: periodic
// fetches of a watched repository's event feed, with ETag + last-seen-event
// dedup and an adaptive interval that tightens during activity and relaxes
// back toward a ceiling when the feed is quiet.
package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/imq-dev/imq/internal/port/database"
	"github.com/imq-dev/imq/internal/port/forgeclient"
	"github.com/imq-dev/imq/internal/port/ingress"
)

const ceilingMultiplier = 4

// repoEvent mirrors the shape of a single entry in the Forge's repository
// events feed: enough of a pull_request-flavored event to normalize.
type repoEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Payload   struct {
		Action string `json:"action"`
		Number int    `json:"number"`
		Label  struct {
			Name string `json:"name"`
		} `json:"label"`
		PullRequest struct {
			Head struct {
				SHA string `json:"sha"`
			} `json:"head"`
		} `json:"pull_request"`
	} `json:"payload"`
}

// Poller watches a single owner/repo's event feed.
type Poller struct {
	Client  forgeclient.Client
	Store   database.Store
	Owner   string
	Repo    string
	Floor   time.Duration
	Ceiling time.Duration
}

var _ ingress.Source = (*Poller)(nil)

// New builds a Poller with the given floor and a ceiling of floor * 4.
func New(client forgeclient.Client, store database.Store, owner, repo string, floor time.Duration) *Poller {
	return &Poller{
		Client:  client,
		Store:   store,
		Owner:   owner,
		Repo:    repo,
		Floor:   floor,
		Ceiling: floor * ceilingMultiplier,
	}
}

func (p *Poller) fullName() string {
	return fmt.Sprintf("%s/%s", p.Owner, p.Repo)
}

// Run polls the event feed on an adaptive cadence until ctx is cancelled,
// normalizing each new event and handing it to sink.
func (p *Poller) Run(ctx context.Context, sink func(ingress.NormalizedEvent)) error {
	interval := p.Floor
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if p.Ceiling <= 0 {
		p.Ceiling = interval * ceilingMultiplier
	}

	_, lastEventID, err := p.Store.GetPollCursor(ctx, p.fullName())
	if err != nil {
		return fmt.Errorf("load poll cursor: %w", err)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		newLastEventID, sawActivity, err := p.pollOnce(ctx, lastEventID, sink)
		if err != nil {
			slog.Warn("poll failed", "repo", p.fullName(), "error", err)
		} else if newLastEventID != "" {
			lastEventID = newLastEventID
		}

		if sawActivity {
			interval = p.Floor
		} else {
			interval = minDuration(interval*3/2, p.Ceiling)
		}
		timer.Reset(interval)
	}
}

// pollOnce fetches the event feed once, normalizes any events newer than
// lastEventID (feed is newest-first), and reports whether any were found.
func (p *Poller) pollOnce(ctx context.Context, lastEventID string, sink func(ingress.NormalizedEvent)) (string, bool, error) {
	resp, err := p.Client.Do(ctx, forgeclient.Endpoint{
		Method:       forgeclient.MethodGet,
		PathTemplate: "/repos/%s/%s/events",
		PathArgs:     []any{p.Owner, p.Repo},
		UseETag:      true,
	})
	if err != nil {
		return "", false, err
	}
	if resp.NotModified {
		return "", false, nil
	}

	var events []repoEvent
	if err := json.Unmarshal(resp.Body, &events); err != nil {
		return "", false, fmt.Errorf("decode events: %w", err)
	}
	if len(events) == 0 {
		return "", false, nil
	}

	newestID := events[0].ID
	found := false
	for _, ev := range events {
		if ev.ID == lastEventID {
			break
		}
		if kind, ok := normalizeKind(ev.Payload.Action); ok {
			sink(ingress.NormalizedEvent{
				Kind:     kind,
				Owner:    p.Owner,
				Repo:     p.Repo,
				PRNumber: ev.Payload.Number,
				SHA:      ev.Payload.PullRequest.Head.SHA,
				Label:    ev.Payload.Label.Name,
			})
			found = true
		}
	}

	if err := p.Store.PutPollCursor(ctx, p.fullName(), resp.ETag, newestID); err != nil {
		return "", found, fmt.Errorf("save poll cursor: %w", err)
	}
	return newestID, found, nil
}

func normalizeKind(action string) (ingress.Kind, bool) {
	switch action {
	case "labeled":
		return ingress.KindLabelAdded, true
	case "unlabeled":
		return ingress.KindLabelRemoved, true
	case "synchronize", "edited", "ready_for_review":
		return ingress.KindPRUpdated, true
	case "closed":
		return ingress.KindPRClosed, true
	default:
		return "", false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
