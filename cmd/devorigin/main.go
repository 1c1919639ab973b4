package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

// Tiny dev-only application origin.
//
// It serves the app shell, a user-data API and generated map tiles so the offline daemon can be
// exercised locally without the real frontend or tile providers:
//
//	OFFLINE_APP_ORIGIN=http://localhost:5173 go run ./cmd/offlined
//	curl -x http://127.0.0.1:8787 http://localhost:5173/api/places/saved

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Waypoint</title><link rel="manifest" href="/manifest.json"></head>
<body><main id="app">Waypoint dev shell</main><script src="/assets/app.js"></script></body>
</html>
`

const appJS = `const events = new EventSource("/_offline/events");
events.addEventListener("message", (e) => console.log("offline:", JSON.parse(e.data)));
`

var tilePath = regexp.MustCompile(`^/tiles/(\d+)/(\d+)/(\d+)\.png$`)

func main() {
	port := getenv("PORT", "5173")
	latency := getenvDuration("LATENCY", 0)

	var savedVersion atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/index.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/index.html", http.StatusFound)
	})
	mux.HandleFunc("/assets/app.js", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte(appJS))
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"name":       "Waypoint",
			"short_name": "Waypoint",
			"start_url":  "/index.html",
			"display":    "standalone",
		})
	})

	// Every call bumps the version so stale-while-revalidate refreshes are visible.
	mux.HandleFunc("/api/places/saved", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(latency)
		writeJSON(w, map[string]any{
			"version": savedVersion.Add(1),
			"places":  []string{"Mt. Diablo", "Henry Coe", "Tahoe Rubicon"},
		})
	})
	mux.HandleFunc("/api/trips", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(latency)
		writeJSON(w, map[string]any{"trips": []map[string]any{{"id": "tahoe", "name": "Rubicon Trail"}}})
	})

	mux.HandleFunc("/tiles/", func(w http.ResponseWriter, r *http.Request) {
		m := tilePath.FindStringSubmatch(r.URL.Path)
		if m == nil {
			http.NotFound(w, r)
			return
		}
		z, _ := strconv.Atoi(m[1])
		x, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		time.Sleep(latency)

		b, err := renderTile(z, x, y)
		if err != nil {
			http.Error(w, "render tile", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(b)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("devorigin listening on :%s", port)
	log.Fatal(srv.ListenAndServe())
}

// renderTile draws a 256x256 tile whose color is derived from its coordinates.
func renderTile(z, x, y int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	c := color.RGBA{R: uint8(40 + z*10), G: uint8(x * 37), B: uint8(y * 53), A: 255}
	for py := 0; py < 256; py++ {
		for px := 0; px < 256; px++ {
			if px == 0 || py == 0 {
				img.Set(px, py, color.Black)
				continue
			}
			img.Set(px, py, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode tile %d/%d/%d: %w", z, x, y, err)
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
