package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/lognotifier"
	memcachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/cachestore"
	memclients "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clients"
	memclock "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clock"
	memfetcher "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/fetcher"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/dedupe"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/interceptor"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/lifecycle"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/messages"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/push"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/routing"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/strategies"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	cachestoreport "github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

const origin = "https://app.example.com"

type testEnv struct {
	router   http.Handler
	net      *memfetcher.Fetcher
	storage  *memcachestore.Storage
	registry *memclients.Registry
	names    domain.StoreNames
	life     *lifecycle.Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	o, _ := url.Parse(origin)
	offline, _ := url.Parse(origin + "/index.html")

	env := testEnv{
		net:      memfetcher.NewFetcher(),
		storage:  memcachestore.NewStorage(),
		registry: memclients.NewRegistry(memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
		names:    domain.StoreNames{Prefix: "waypoint", Version: "v1"},
	}
	set := strategies.New(strategies.Options{
		Storage:         env.storage,
		Fetcher:         env.net,
		Dedupe:          dedupe.New(time.Second),
		Names:           env.names,
		OfflineDocument: offline,
	})
	t.Cleanup(set.Wait)
	env.life = lifecycle.New(lifecycle.Options{
		Storage:  env.storage,
		Fetcher:  env.net,
		Registry: env.registry,
		Names:    env.names,
		Origin:   o,
		Manifest: []string{"/index.html"},
	})
	h := NewHandler(Options{
		Interceptor: interceptor.NewService(routing.NewClassifier(routing.DefaultRules()), set, env.net),
		Messages:    messages.NewRouter(env.life, set, 2, nil),
		Push:        push.NewDispatcher(lognotifier.New(nil, env.registry), env.registry, nil),
		Storage:     env.storage,
		Names:       env.names,
		Registry:    env.registry,
		Events:      env.registry,
		Lifecycle:   env.life,
	})
	env.router = NewRouter(h, RouterOptions{})
	return env
}

func (e testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return er
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rr := newTestEnv(t).do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestProxy_ServesNetworkAndMarksSource(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.Respond(origin+"/api/trips", domain.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"trips":[]}`),
	})

	rr := env.do(t, http.MethodGet, origin+"/api/trips", "")
	if rr.Code != http.StatusOK || rr.Body.String() != `{"trips":[]}` {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(HeaderSource); got != "network" {
		t.Fatalf("%s=%q, want network", HeaderSource, got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type=%q", got)
	}
}

func TestProxy_OfflineWithoutCacheIsGatewayTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.SetOffline(true)

	rr := env.do(t, http.MethodGet, origin+"/api/trips", "")
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d, want 504", rr.Code)
	}
	er := decodeError(t, rr)
	if er.Error.Code != CodeOfflineUnavailable {
		t.Fatalf("code=%q", er.Error.Code)
	}
	if !er.Error.RequestId.IsSpecified() {
		t.Fatalf("requestId missing")
	}
	details, err := er.Error.Details.Get()
	if err != nil || details["url"] != origin+"/api/trips" {
		t.Fatalf("details=%v err=%v", details, err)
	}
}

func TestProxy_OfflineNavigationServesOfflineDocument(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.Respond(origin+"/index.html", domain.Response{Status: http.StatusOK, Body: []byte("<html>shell</html>")})
	if err := env.life.Install(context.Background()); err != nil {
		t.Fatalf("Install() err=%v", err)
	}
	env.net.SetOffline(true)

	req := httptest.NewRequest(http.MethodGet, origin+"/trips/9", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "<html>shell</html>" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(HeaderSource); got != "fallback" {
		t.Fatalf("%s=%q, want fallback", HeaderSource, got)
	}
}

func TestProxy_TilePlaceholder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.SetOffline(true)

	rr := env.do(t, http.MethodGet, "https://tile.openstreetmap.org/4/3/2.png", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("status=%d content-type=%q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if got := rr.Header().Get(HeaderSource); got != "placeholder" {
		t.Fatalf("%s=%q", HeaderSource, got)
	}
}

func TestProxy_PostUnreachableIsBadGateway(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.SetOffline(true)

	rr := env.do(t, http.MethodPost, origin+"/api/trips", `{"name":"Tahoe"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", rr.Code)
	}
	if er := decodeError(t, rr); er.Error.Code != CodeUpstreamUnreachable {
		t.Fatalf("code=%q", er.Error.Code)
	}
}

func TestProxy_ConnectRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodConnect, "/", nil)
	req.URL = &url.URL{Host: "tile.openstreetmap.org:443"}
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rr.Code)
	}
}

func TestMessages_PrefetchTiles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.Respond("https://tile.openstreetmap.org/1/0/0.png", domain.Response{Status: http.StatusOK, Body: []byte("t")})

	rr := env.do(t, http.MethodPost, "/_offline/messages",
		`{"type":"PREFETCH_TILES","urls":["https://tile.openstreetmap.org/1/0/0.png","https://tile.openstreetmap.org/1/0/1.png"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res messages.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := messages.PrefetchReport{Requested: 2, Fetched: 1, Failed: 1}
	if !res.Handled || res.Prefetch == nil || *res.Prefetch != want {
		t.Fatalf("res=%+v prefetch=%+v", res, res.Prefetch)
	}
}

func TestMessages_UnknownTypeIsIgnored(t *testing.T) {
	t.Parallel()
	rr := newTestEnv(t).do(t, http.MethodPost, "/_offline/messages", `{"type":"SOMETHING_ELSE"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"handled":false`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMessages_MalformedJSON(t *testing.T) {
	t.Parallel()
	rr := newTestEnv(t).do(t, http.MethodPost, "/_offline/messages", `{"type":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
	if er := decodeError(t, rr); er.Error.Code != CodeInvalidMessage || er.Error.Details.IsSpecified() {
		t.Fatalf("err=%+v", er)
	}
}

func TestMessages_NonObjectJSONIsIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	for _, body := range []string{`"ping"`, `42`, `[]`, `null`} {
		rr := env.do(t, http.MethodPost, "/_offline/messages", body)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"handled":false`) {
			t.Fatalf("body %s: status=%d resp=%s", body, rr.Code, rr.Body.String())
		}
	}
}

func TestPush_PlainTextBecomesNotification(t *testing.T) {
	t.Parallel()
	rr := newTestEnv(t).do(t, http.MethodPost, "/_offline/push", `Meet at the trailhead at 8`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got struct {
		Silent       bool   `json:"silent"`
		Malformed    bool   `json:"malformed"`
		Tag          string `json:"tag"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Silent || !got.Malformed || got.Tag == "" || got.Notification.Body != "Meet at the trailhead at 8" {
		t.Fatalf("got=%+v", got)
	}
}

func TestStores_ListsWithPrefix(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"waypoint-tiles-v1", "waypoint-tiles-v0", "other-cache"} {
		st, err := env.storage.Open(ctx, name)
		if err != nil {
			t.Fatalf("Open() err=%v", err)
		}
		_ = st.Put(ctx, "GET https://tile.openstreetmap.org/0/0/0.png", domain.Response{Status: http.StatusOK})
	}

	rr := env.do(t, http.MethodGet, "/_offline/stores?prefix=waypoint-", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got storesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Stores) != 2 {
		t.Fatalf("stores=%+v", got.Stores)
	}
	for _, s := range got.Stores {
		if s.Entries != 1 || s.Current != (s.Name == "waypoint-tiles-v1") {
			t.Fatalf("store=%+v", s)
		}
	}
}

// laggingNames reports a store that has already been deleted, as a listing racing a
// concurrent delete would see it.
type laggingNames struct {
	cachestoreport.Storage
	gone string
}

func (s laggingNames) Names(ctx context.Context) ([]string, error) {
	names, err := s.Storage.Names(ctx)
	return append(names, s.gone), err
}

func TestStores_ListingDoesNotRecreateDeletedStore(t *testing.T) {
	t.Parallel()
	storage := memcachestore.NewStorage()
	names := domain.StoreNames{Prefix: "waypoint", Version: "v1"}
	h := NewHandler(Options{
		Storage: laggingNames{Storage: storage, gone: "waypoint-tiles-v1"},
		Names:   names,
	})
	router := NewRouter(h, RouterOptions{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/_offline/stores", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var got storesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Stores) != 0 {
		t.Fatalf("stores=%+v", got.Stores)
	}
	if has, err := storage.Has(context.Background(), "waypoint-tiles-v1"); err != nil || has {
		t.Fatalf("Has() has=%v err=%v; listing recreated the store", has, err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.net.Respond(origin+"/index.html", domain.Response{Status: http.StatusOK, Body: []byte("x")})
	if err := env.life.Install(context.Background()); err != nil {
		t.Fatalf("Install() err=%v", err)
	}

	rr := env.do(t, http.MethodGet, "/_offline/status", "")
	var got statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Version != "v1" || got.State != "installed" || got.Active != "v1" {
		t.Fatalf("status=%+v", got)
	}
}

func TestEvents_StreamsBroadcasts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/_offline/events?url="+url.QueryEscape(origin+"/"), nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}

	lines := bufio.NewScanner(res.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "data: ") {
				return strings.TrimPrefix(l, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}
	if hello := next(); !strings.Contains(hello, `"id"`) {
		t.Fatalf("hello=%s", hello)
	}

	rr := env.do(t, http.MethodPost, "/_offline/push", `{"data":{"type":"badge-update","count":5}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("push status=%d", rr.Code)
	}
	if msg := next(); msg != `{"type":"BADGE_UPDATE","data":{"count":5}}` {
		t.Fatalf("msg=%s", msg)
	}
}
