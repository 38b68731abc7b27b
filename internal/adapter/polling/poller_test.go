package polling

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/adapter/githubforge"
	"github.com/imq-dev/imq/internal/adapter/githubforge/forgetest"
	"github.com/imq-dev/imq/internal/port/database/dbtest"
	"github.com/imq-dev/imq/internal/port/ingress"
)

const eventsBody = `[
	{"id":"3","type":"PullRequestEvent","created_at":"2026-07-31T12:00:02Z",
	 "payload":{"action":"labeled","number":7,"label":{"name":"merge-queue"},
	 "pull_request":{"head":{"sha":"cccccccccccccccccccccccccccccccccccccccc"}}}},
	{"id":"2","type":"PullRequestEvent","created_at":"2026-07-31T12:00:01Z",
	 "payload":{"action":"synchronize","number":7,
	 "pull_request":{"head":{"sha":"bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}}}},
	{"id":"1","type":"PullRequestEvent","created_at":"2026-07-31T12:00:00Z",
	 "payload":{"action":"opened","number":7}}
]`

func newTestPoller(t *testing.T, transport *forgetest.Transport) (*Poller, *dbtest.MemStore) {
	t.Helper()
	client := githubforge.New(githubforge.Config{BaseURL: "https://api.test", Token: "ghp_test"}, &http.Client{Transport: transport})
	store := dbtest.New()
	return New(client, store, "acme", "widgets", 10*time.Millisecond), store
}

func TestPollOnceNormalizesNewEvents(t *testing.T) {
	transport := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(http.StatusOK, eventsBody, map[string]string{"ETag": `"v1"`}),
	}}
	p, store := newTestPoller(t, transport)

	var got []ingress.NormalizedEvent
	newest, activity, err := p.pollOnce(context.Background(), "", func(e ingress.NormalizedEvent) { got = append(got, e) })
	if err != nil {
		t.Fatal(err)
	}
	if !activity {
		t.Fatal("expected activity")
	}
	if newest != "3" {
		t.Fatalf("expected newest id 3, got %q", newest)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 normalized events (labeled+synchronize), got %d", len(got))
	}
	if got[0].Kind != ingress.KindLabelAdded || got[0].PRNumber != 7 {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].Kind != ingress.KindPRUpdated {
		t.Fatalf("unexpected second event: %+v", got[1])
	}

	_, lastEventID, err := store.GetPollCursor(context.Background(), "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if lastEventID != "3" {
		t.Fatalf("expected persisted cursor 3, got %q", lastEventID)
	}
}

func TestPollOnceStopsAtLastSeenEvent(t *testing.T) {
	transport := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(http.StatusOK, eventsBody, nil),
	}}
	p, _ := newTestPoller(t, transport)

	var got []ingress.NormalizedEvent
	_, activity, err := p.pollOnce(context.Background(), "2", func(e ingress.NormalizedEvent) { got = append(got, e) })
	if err != nil {
		t.Fatal(err)
	}
	if !activity {
		t.Fatal("expected activity from the one event newer than cursor")
	}
	if len(got) != 1 || got[0].Kind != ingress.KindLabelAdded {
		t.Fatalf("expected only the labeled event past the cursor, got %+v", got)
	}
}

func TestPollOnceNotModifiedReportsNoActivity(t *testing.T) {
	transport := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(http.StatusNotModified, "", nil),
	}}
	p, _ := newTestPoller(t, transport)

	_, activity, err := p.pollOnce(context.Background(), "3", func(ingress.NormalizedEvent) {})
	if err != nil {
		t.Fatal(err)
	}
	if activity {
		t.Fatal("expected no activity on 304")
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	transport := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(http.StatusOK, eventsBody, nil),
	}}
	p, _ := newTestPoller(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var count int
	err := p.Run(ctx, func(ingress.NormalizedEvent) { count++ })
	if err == nil {
		t.Fatal("expected context error on shutdown")
	}
	if count == 0 {
		t.Fatal("expected at least one event to be normalized before cancellation")
	}
}
