package httpfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

// DefaultMaxBodyBytes caps buffered response bodies.
const DefaultMaxBodyBytes int64 = 32 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// credentialHeaders are dropped from no-cors requests.
var credentialHeaders = []string{"Cookie", "Authorization"}

// Fetcher implements fetcher.Fetcher over net/http. Responses are fully buffered.
type Fetcher struct {
	client  *http.Client
	origin  *url.URL
	maxBody int64
}

type Options struct {
	Client *http.Client
	// Origin is the application's own origin. Cross-origin no-cors responses are marked opaque.
	Origin       *url.URL
	MaxBodyBytes int64
}

func New(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:               nil,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{client: opts.Client, origin: opts.Origin, maxBody: opts.MaxBodyBytes}
}

func (f *Fetcher) Fetch(ctx context.Context, req domain.Request) (domain.Response, error) {
	if req.URL == nil {
		return domain.Response{}, fmt.Errorf("fetch: %w: missing url", fetcher.ErrTransport)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL.String(), body)
	if err != nil {
		return domain.Response{}, fmt.Errorf("fetch %s: %w: %w", req.URL, fetcher.ErrTransport, err)
	}
	hreq.Header = outboundHeader(req.Header, req.Mode)

	res, err := f.client.Do(hreq)
	if err != nil {
		return domain.Response{}, fmt.Errorf("fetch %s: %w: %w", req.URL, fetcher.ErrTransport, err)
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(res.Body, f.maxBody+1))
	if err != nil {
		return domain.Response{}, fmt.Errorf("read %s: %w: %w", req.URL, fetcher.ErrTransport, err)
	}
	if int64(len(buf)) > f.maxBody {
		return domain.Response{}, fmt.Errorf("read %s: %w: body exceeds %d bytes", req.URL, fetcher.ErrTransport, f.maxBody)
	}

	h := res.Header.Clone()
	removeHop(h)
	return domain.Response{
		Status: res.StatusCode,
		Header: h,
		Body:   buf,
		URL:    res.Request.URL.String(),
		Opaque: req.Mode == domain.ModeNoCORS && !f.sameOrigin(res.Request.URL),
	}, nil
}

func (f *Fetcher) sameOrigin(u *url.URL) bool {
	if f.origin == nil || u == nil {
		return false
	}
	return strings.EqualFold(f.origin.Scheme, u.Scheme) && strings.EqualFold(f.origin.Host, u.Host)
}

func outboundHeader(in http.Header, mode domain.Mode) http.Header {
	h := in.Clone()
	if h == nil {
		h = http.Header{}
	}
	removeHop(h)
	if mode == domain.ModeNoCORS {
		for _, k := range credentialHeaders {
			h.Del(k)
		}
	}
	return h
}

// removeHop deletes hop-by-hop headers, including any named by Connection.
func removeHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// RemoveHopHeaders deletes hop-by-hop headers from h.
func RemoveHopHeaders(h http.Header) { removeHop(h) }
