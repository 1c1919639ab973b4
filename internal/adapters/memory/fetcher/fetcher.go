package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

// Fetcher is a scripted in-memory implementation of fetcher.Fetcher.
// Unknown URLs answer 404. It is safe for concurrent use.
type Fetcher struct {
	mu sync.Mutex

	offline bool
	routes  map[string]*route
	calls   map[string]int
	total   int
}

type outcome struct {
	resp domain.Response
	err  error
}

type route struct {
	def    *outcome
	byMode map[domain.Mode]outcome
	gate   chan struct{}
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		routes: make(map[string]*route),
		calls:  make(map[string]int),
	}
}

// Respond makes every fetch of url return resp.
func (f *Fetcher) Respond(url string, resp domain.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeLocked(url).def = &outcome{resp: resp}
}

// RespondMode overrides the outcome of url when fetched in mode.
func (f *Fetcher) RespondMode(url string, mode domain.Mode, resp domain.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeLocked(url).byMode[mode] = outcome{resp: resp}
}

// Fail makes every fetch of url fail with a transport error wrapping err.
func (f *Fetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeLocked(url).def = &outcome{err: err}
}

// FailMode makes fetches of url in mode fail.
func (f *Fetcher) FailMode(url string, mode domain.Mode, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeLocked(url).byMode[mode] = outcome{err: err}
}

// SetOffline makes every fetch fail as if the network were down.
func (f *Fetcher) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Hold blocks fetches of url until the returned release func is called or the fetch's
// context ends.
func (f *Fetcher) Hold(url string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.routeLocked(url).gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many fetches of url were started.
func (f *Fetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// TotalCalls returns how many fetches were started for any url.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *Fetcher) Fetch(ctx context.Context, req domain.Request) (domain.Response, error) {
	url := req.URL.String()

	f.mu.Lock()
	f.calls[url]++
	f.total++
	offline := f.offline
	r := f.routes[url]
	var gate chan struct{}
	var out *outcome
	if r != nil {
		gate = r.gate
		if o, ok := r.byMode[req.Mode]; ok {
			out = &o
		} else {
			out = r.def
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Response{}, fmt.Errorf("fetch %s: %w: %w", url, fetcher.ErrTransport, ctx.Err())
		}
	}
	if offline {
		return domain.Response{}, fmt.Errorf("fetch %s: %w: network offline", url, fetcher.ErrTransport)
	}
	if out == nil {
		return domain.Response{
			Status: http.StatusNotFound,
			Header: http.Header{"Content-Type": []string{"text/plain"}},
			Body:   []byte("not found"),
			URL:    url,
		}, nil
	}
	if out.err != nil {
		return domain.Response{}, fmt.Errorf("fetch %s: %w: %w", url, fetcher.ErrTransport, out.err)
	}
	resp := out.resp.Clone()
	if resp.URL == "" {
		resp.URL = url
	}
	return resp, nil
}

func (f *Fetcher) routeLocked(url string) *route {
	r, ok := f.routes[url]
	if !ok {
		r = &route{byMode: make(map[domain.Mode]outcome)}
		f.routes[url] = r
	}
	return r
}
