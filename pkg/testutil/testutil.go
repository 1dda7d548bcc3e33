// Package testutil provides shared test fixtures: a scriptable fake
// upstream and temp-dir runtime wiring.
package testutil

import (
	"context"
	"net/http"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/clients"
	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// FakeResponse is one scripted upstream reply.
type FakeResponse struct {
	Status      int
	ContentType string
	Body        string
	Err         error
}

// FakeUpstream satisfies the executor's HTTPGetter with scripted responses
// and records every request so tests can assert on transport traffic.
type FakeUpstream struct {
	// Script is consumed one entry per call; the last entry repeats once
	// the script is exhausted.
	Script []FakeResponse

	Calls   int
	URLs    []string
	Headers []map[string]string
}

// JSONUpstream returns a fake that always answers 200 with body.
func JSONUpstream(body string) *FakeUpstream {
	return &FakeUpstream{Script: []FakeResponse{{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        body,
	}}}
}

// Get replays the next scripted response.
func (f *FakeUpstream) Get(_ context.Context, url string, headers map[string]string) (*clients.Response, error) {
	idx := f.Calls
	f.Calls++
	f.URLs = append(f.URLs, url)
	f.Headers = append(f.Headers, headers)

	if len(f.Script) == 0 {
		return nil, errors.New(errors.ErrorTypeInternal, "fake upstream has no script")
	}
	if idx >= len(f.Script) {
		idx = len(f.Script) - 1
	}
	r := f.Script[idx]

	if r.Err != nil {
		return nil, r.Err
	}
	if r.Status >= 400 {
		return nil, errors.Newf(errors.ErrorTypeUpstream,
			"upstream returned %d %s", r.Status, http.StatusText(r.Status)).
			WithStatus(r.Status)
	}
	return &clients.Response{
		StatusCode:  r.Status,
		Body:        []byte(r.Body),
		ContentType: r.ContentType,
		Header:      http.Header{"Content-Type": []string{r.ContentType}},
	}, nil
}
