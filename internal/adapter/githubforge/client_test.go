package githubforge

import (
	"context"
	"net/http"
	"testing"

	"github.com/imq-dev/imq/internal/adapter/githubforge/forgetest"
	"github.com/imq-dev/imq/internal/port/forgeclient"
)

func newTestClient(t *testing.T, tr *forgetest.Transport) *Client {
	t.Helper()
	return New(Config{BaseURL: "https://api.github.com", Token: "ghp_test"}, &http.Client{Transport: tr})
}

func TestDoSetsAuthHeaders(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(200, `{"ok":true}`, nil),
	}}
	c := newTestClient(t, tr)

	_, err := c.Do(context.Background(), forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s", PathArgs: []any{"acme", "widgets"},
	})
	if err != nil {
		t.Fatal(err)
	}
	req := tr.Requests[0]
	if req.Header.Get("Authorization") != "Bearer ghp_test" {
		t.Fatalf("missing auth header: %v", req.Header)
	}
	if req.Header.Get("Accept") != "application/vnd.github+json" {
		t.Fatalf("missing accept header: %v", req.Header)
	}
}

func TestDoReturnsNotModifiedOn304(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(304, "", nil),
	}}
	c := newTestClient(t, tr)

	resp, err := c.Do(context.Background(), forgeclient.Endpoint{
		Method: forgeclient.MethodGet, PathTemplate: "/repos/%s/%s", PathArgs: []any{"acme", "widgets"}, UseETag: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.NotModified {
		t.Fatal("expected NotModified response")
	}
}

func TestDoClassifiesNotFound(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(404, `{"message":"Not Found"}`, nil),
	}}
	c := newTestClient(t, tr)

	_, err := c.Do(context.Background(), forgeclient.Endpoint{Method: forgeclient.MethodGet, PathTemplate: "/x"})
	fe, ok := err.(*forgeclient.Error)
	if !ok || fe.Kind != forgeclient.KindNotFound {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestDoClassifiesRateLimitForbidden(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(403, `API rate limit exceeded for user`, nil),
	}}
	c := newTestClient(t, tr)

	_, err := c.Do(context.Background(), forgeclient.Endpoint{Method: forgeclient.MethodGet, PathTemplate: "/x"})
	fe, ok := err.(*forgeclient.Error)
	if !ok || fe.Kind != forgeclient.KindRateLimitExceeded {
		t.Fatalf("expected RateLimitExceeded error, got %v", err)
	}
}

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(500, `server error`, nil),
		forgetest.JSON(200, `{"ok":true}`, nil),
	}}
	c := newTestClient(t, tr)
	c.cfg.BaseDelay = 0

	_, err := c.Do(context.Background(), forgeclient.Endpoint{Method: forgeclient.MethodGet, PathTemplate: "/x"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(tr.Requests) != 2 {
		t.Fatalf("expected 2 requests (1 retry), got %d", len(tr.Requests))
	}
}

func TestDoTracksRateLimitHeaders(t *testing.T) {
	tr := &forgetest.Transport{Responses: []forgetest.Responder{
		forgetest.JSON(200, `{}`, map[string]string{"X-RateLimit-Remaining": "42", "X-RateLimit-Reset": "1000"}),
	}}
	c := newTestClient(t, tr)

	_, err := c.Do(context.Background(), forgeclient.Endpoint{Method: forgeclient.MethodGet, PathTemplate: "/x"})
	if err != nil {
		t.Fatal(err)
	}
	if c.RateRemaining() != 42 {
		t.Fatalf("expected tracked remaining=42, got %d", c.RateRemaining())
	}
}
