package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AccessLog receives one line per request. Nil disables access logging.
	AccessLog middleware.LoggerInterface
}

// NewRouter serves absolute-form requests through the interceptor and everything else from
// the control surface.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: opts.AccessLog, NoColor: true}))
	}
	r.Use(middleware.Recoverer)
	r.Use(proxyMiddleware(h))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/_offline", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/stores", h.listStores)
		r.Get("/events", h.streamEvents)
		r.Post("/messages", h.postMessage)
		r.Post("/push", h.postPush)
	})
	return r
}

// proxyMiddleware diverts proxy requests before route matching, since their paths belong to
// other origins.
func proxyMiddleware(h *Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isProxyRequest(r) {
				h.serveProxy(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
