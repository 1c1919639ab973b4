package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/httpfetch"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/interceptor"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

// HeaderSource tells the application where a proxied response came from.
const HeaderSource = "X-Offline-Source"

// Interceptor answers intercepted requests.
type Interceptor interface {
	Handle(ctx context.Context, req domain.Request) (interceptor.Outcome, error)
}

// isProxyRequest reports whether r is addressed to another origin rather than to the daemon.
func isProxyRequest(r *http.Request) bool {
	return r.Method == http.MethodConnect || r.URL.IsAbs()
}

func (h *Handler) serveProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotSupported, "CONNECT tunnels are not supported; send absolute-form requests", nil)
		return
	}

	req := domain.Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		Mode:   domain.ModeFromHeader(r.Method, r.Header),
	}
	httpfetch.RemoveHopHeaders(req.Header)
	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large", nil)
				return
			}
			writeError(w, r, http.StatusBadRequest, CodeBadRequest, "read request body", nil)
			return
		}
		req.Body = body
	}

	out, err := h.interceptor.Handle(r.Context(), req)
	if err != nil {
		h.writeProxyError(w, r, req, err)
		return
	}
	writeResponse(w, out.Response)
}

func (h *Handler) writeProxyError(w http.ResponseWriter, r *http.Request, req domain.Request, err error) {
	details := map[string]any{"url": req.URL.String()}
	switch {
	case interceptor.IsUnavailable(err):
		h.log.Debugf("proxy: %s unavailable: %v", req.Key(), err)
		writeError(w, r, http.StatusGatewayTimeout, CodeOfflineUnavailable, "no network and no cached response", details)
	case errors.Is(err, fetcher.ErrTransport):
		h.log.Debugf("proxy: %s unreachable: %v", req.Key(), err)
		writeError(w, r, http.StatusBadGateway, CodeUpstreamUnreachable, "upstream unreachable", details)
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the answer.
	default:
		h.log.Errorf("proxy: %s: %v", req.Key(), err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

func writeResponse(w http.ResponseWriter, resp domain.Response) {
	dst := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	httpfetch.RemoveHopHeaders(dst)
	dst.Set(HeaderSource, string(resp.Source))
	dst.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
