package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/messages"
)

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	msg, err := messages.Decode(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidMessage, "message must be valid JSON", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.messages.Route(r.Context(), msg))
}

type pushResponse struct {
	Silent       bool   `json:"silent"`
	Malformed    bool   `json:"malformed,omitempty"`
	Update       any    `json:"update,omitempty"`
	Notification any    `json:"notification,omitempty"`
	Tag          string `json:"tag,omitempty"`
}

func (h *Handler) postPush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBytes))
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	dec, err := h.push.Dispatch(r.Context(), raw)
	if err != nil {
		h.log.Warnf("push: %v", err)
		writeError(w, r, http.StatusBadGateway, CodeNotificationFailed, "notification could not be delivered", nil)
		return
	}
	resp := pushResponse{Silent: dec.Silent, Malformed: dec.Malformed}
	if dec.Silent {
		resp.Update = dec.Update
	} else {
		resp.Notification = dec.Notification
		resp.Tag = dec.Notification.Tag
	}
	writeJSON(w, http.StatusOK, resp)
}

type storeInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type storesResponse struct {
	Stores []storeInfo `json:"stores"`
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	var prefix string
	if err := runtime.BindQueryParameter("form", true, false, "prefix", r.URL.Query(), &prefix); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid prefix: %v", err), nil)
		return
	}

	names, err := h.storage.Names(r.Context())
	if err != nil {
		h.log.Errorf("stores: list: %v", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "could not list stores", nil)
		return
	}
	out := storesResponse{Stores: []storeInfo{}}
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		st, ok, err := h.storage.Lookup(r.Context(), name)
		if err != nil {
			h.log.Warnf("stores: lookup %s: %v", name, err)
			continue
		}
		if !ok {
			// Deleted since Names.
			continue
		}
		n, err := st.Count(r.Context())
		if err != nil {
			h.log.Warnf("stores: count %s: %v", name, err)
			continue
		}
		out.Stores = append(out.Stores, storeInfo{
			Name:    name,
			Entries: n,
			Current: h.names.Owns(name) && !h.names.IsStale(name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type statusResponse struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Active  string `json:"active"`
	Waiting string `json:"waiting"`
	Clients int    `json:"clients"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	slots, err := h.registry.Slots(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "could not read registration", nil)
		return
	}
	cs, err := h.registry.Clients(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "could not list clients", nil)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version: string(h.lifecycle.Version()),
		State:   string(h.lifecycle.State()),
		Active:  string(slots.Active),
		Waiting: string(slots.Waiting),
		Clients: len(cs),
	})
}

// streamEvents registers the caller as an application instance and relays posted messages
// as server-sent events until the caller disconnects.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "streaming unsupported", nil)
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		url = r.Header.Get("Referer")
	}

	ctx := r.Context()
	client, msgs, disconnect := h.events.Connect(ctx, url)
	defer disconnect()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]any{"id": client.ID, "controlled": client.Controlled})
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Warnf("events: encode %s: %v", msg.Type, err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large", nil)
		return
	}
	writeError(w, r, http.StatusBadRequest, CodeBadRequest, "read request body", nil)
}
