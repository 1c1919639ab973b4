package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/httpapi"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/httpfetch"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/lognotifier"
	memcachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/cachestore"
	memclients "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clients"
	memclock "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clock"
	pgcachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres/cachestore"
	postgres_testutil "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres/testutil"
	sqlitecachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/sqlite/cachestore"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/dedupe"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/eviction"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/interceptor"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/lifecycle"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/messages"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/push"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/routing"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/strategies"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	cachestoreport "github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

type backend string

const (
	backendMemory   backend = "memory"
	backendSQLite   backend = "sqlite"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "sqlite":
		return []backend{backendSQLite}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendSQLite, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|sqlite|postgres|all)")
		return nil
	}
}

// origin is a small application origin whose API responses change on every request.
type origin struct {
	srv   *httptest.Server
	trips atomic.Int64
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<!doctype html><title>Waypoint</title>")
	})
	mux.HandleFunc("GET /manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		_, _ = io.WriteString(w, `{"name":"Waypoint"}`)
	})
	mux.HandleFunc("GET /api/trips", func(w http.ResponseWriter, r *http.Request) {
		n := o.trips.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"revision":%d}`, n)
	})
	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", func(w http.ResponseWriter, r *http.Request) {
		img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
		img.Set(0, 0, color.NRGBA{R: 200, A: 255})
		var buf bytes.Buffer
		_ = png.Encode(&buf, img)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) url(path string) string { return o.srv.URL + path }

// down makes the origin unreachable for the rest of the test.
func (o *origin) down() { o.srv.Close() }

type testServer struct {
	baseURL string
	control *http.Client
	proxied *http.Client
}

// reopener returns the same persistent storage on every call, the way a restarted daemon
// finds the stores written by its previous run.
type reopener func(t *testing.T) cachestoreport.Storage

func storageFor(t *testing.T, b backend) reopener {
	t.Helper()
	switch b {
	case backendPostgres:
		pool := postgres_testutil.OpenMigratedPool(t)
		return func(t *testing.T) cachestoreport.Storage { return pgcachestore.NewStorage(pool) }
	case backendSQLite:
		path := filepath.Join(t.TempDir(), "offline.db")
		return func(t *testing.T) cachestoreport.Storage {
			t.Helper()
			s, err := sqlitecachestore.Open(context.Background(), path)
			if err != nil {
				t.Fatalf("sqlite Open() err=%v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	case backendMemory:
		storage := memcachestore.NewStorage()
		return func(t *testing.T) cachestoreport.Storage { return storage }
	default:
		t.Fatalf("unknown backend: %s", b)
		return nil
	}
}

func newTestServer(t *testing.T, b backend, up *origin) *testServer {
	t.Helper()
	return startServer(t, storageFor(t, b)(t), up)
}

// startServer wires the daemon the way cmd/offlined does, including a start that may fail to
// precache.
func startServer(t *testing.T, storage cachestoreport.Storage, up *origin) *testServer {
	t.Helper()
	ctx := context.Background()

	originURL, _ := url.Parse(up.srv.URL)
	offlineDoc, _ := originURL.Parse("/index.html")
	names := domain.StoreNames{Prefix: "waypoint", Version: "v1"}
	registry := memclients.NewRegistry(memclock.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	upstream := httpfetch.New(httpfetch.Options{Origin: originURL})

	set := strategies.New(strategies.Options{
		Storage:         storage,
		Fetcher:         upstream,
		Dedupe:          dedupe.New(5 * time.Second),
		Evictor:         eviction.New(eviction.DefaultCap, eviction.DefaultMargin, nil),
		Names:           names,
		OfflineDocument: offlineDoc,
	})
	life := lifecycle.New(lifecycle.Options{
		Storage:  storage,
		Fetcher:  upstream,
		Registry: registry,
		Names:    names,
		Origin:   originURL,
		Manifest: []string{"/index.html", "/manifest.json"},
	})
	if err := life.Start(ctx); err != nil {
		t.Fatalf("Start() err=%v", err)
	}

	h := httpapi.NewHandler(httpapi.Options{
		Interceptor: interceptor.NewService(routing.NewClassifier(routing.DefaultRules()), set, upstream),
		Messages:    messages.NewRouter(life, set, messages.DefaultConcurrency, nil),
		Push:        push.NewDispatcher(lognotifier.New(nil, registry), registry, nil),
		Storage:     storage,
		Names:       names,
		Registry:    registry,
		Events:      registry,
		Lifecycle:   life,
	})
	srv := httptest.NewServer(httpapi.NewRouter(h, httpapi.RouterOptions{}))
	t.Cleanup(srv.Close)
	t.Cleanup(set.Wait)

	proxyURL, _ := url.Parse(srv.URL)
	return &testServer{
		baseURL: srv.URL,
		control: srv.Client(),
		proxied: &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}},
	}
}

// get sends an absolute-form request for target through the daemon.
func (s *testServer) get(t *testing.T, target string, header http.Header) (int, []byte, http.Header) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, s.proxied, req)
}

func (s *testServer) doJSON(t *testing.T, method, path, body string) (int, []byte, http.Header) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.baseURL+path, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return do(t, s.control, req)
}

func do(t *testing.T, c *http.Client, req *http.Request) (int, []byte, http.Header) {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

type errorResponse struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[errorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireSource(t *testing.T, h http.Header, want string) {
	t.Helper()
	if got := h.Get(httpapi.HeaderSource); got != want {
		t.Fatalf("%s=%q want=%q", httpapi.HeaderSource, got, want)
	}
}
