// Package webhook implements the HMAC-verified webhook intake: it parses
// GitHub pull_request event payloads into ingress.NormalizedEvent and hands
// them to the Queue Engine.
package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/imq-dev/imq/internal/port/ingress"
)

type pullRequestPayload struct {
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
	Repository struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		Name string `json:"name"`
	} `json:"repository"`
}

// Handler parses GitHub's pull_request webhook events into normalized
// events and dispatches them to sink. Signature verification is performed
// by middleware.WebhookHMAC, composed in front of this handler.
type Handler struct {
	Sink func(ingress.NormalizedEvent)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-GitHub-Event")
	if eventType != "pull_request" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload pullRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	kind, ok := normalizeKind(payload.Action)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	event := ingress.NormalizedEvent{
		Kind:     kind,
		Owner:    payload.Repository.Owner.Login,
		Repo:     payload.Repository.Name,
		PRNumber: payload.Number,
		SHA:      payload.PullRequest.Head.SHA,
		Label:    payload.Label.Name,
	}

	slog.Debug("webhook event normalized", "kind", event.Kind, "repo", event.Repo, "pr", event.PRNumber)
	h.Sink(event)
	w.WriteHeader(http.StatusOK)
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
