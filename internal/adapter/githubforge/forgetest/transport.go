// Package forgetest provides a fake HTTP transport for exercising the
// githubforge client and forgegateway adapter without a network.
package forgetest

import (
	"io"
	"net/http"
	"strings"
)

// Responder returns the response for a single request.
type Responder func(req *http.Request) (*http.Response, error)

// Transport is an http.RoundTripper that serves canned responses in order,
// looping the last one if more requests arrive than were queued.
type Transport struct {
	Responses []Responder
	Requests  []*http.Request
	next      int
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.Requests = append(t.Requests, req)
	if len(t.Responses) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	idx := t.next
	if idx >= len(t.Responses) {
		idx = len(t.Responses) - 1
	} else {
		t.next++
	}
	return t.Responses[idx](req)
}

// JSON builds a Responder returning status with a JSON body and headers.
func JSON(status int, body string, headers map[string]string) Responder {
	return func(req *http.Request) (*http.Response, error) {
		h := make(http.Header)
		for k, v := range headers {
			h.Set(k, v)
		}
		return &http.Response{
			StatusCode: status,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}
