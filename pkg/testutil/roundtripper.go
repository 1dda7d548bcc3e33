package testutil

import (
	"io"
	"net/http"
	"strings"
)

// StaticRoundTripper answers every request with one canned response and
// counts the requests it sees. Install it with HTTPClient.SetTransport or
// the base connector's Transport setting.
type StaticRoundTripper struct {
	Status      int
	ContentType string
	Body        string

	Calls    int
	Requests []*http.Request
}

// JSONRoundTripper returns a transport answering 200 with body.
func JSONRoundTripper(body string) *StaticRoundTripper {
	return &StaticRoundTripper{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        body,
	}
}

// RoundTrip implements http.RoundTripper.
func (rt *StaticRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.Calls++
	rt.Requests = append(rt.Requests, req)

	header := http.Header{}
	if rt.ContentType != "" {
		header.Set("Content-Type", rt.ContentType)
	}
	return &http.Response{
		StatusCode: rt.Status,
		Status:     http.StatusText(rt.Status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(rt.Body)),
		Request:    req,
	}, nil
}
