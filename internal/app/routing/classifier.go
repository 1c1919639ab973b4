package routing

import (
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

// Rules are the fixed lists the classifier matches against.
type Rules struct {
	// APIPrefix is the path prefix of the application's own API.
	APIPrefix string
	// UserDataPrefixes mark API paths served stale-while-revalidate.
	UserDataPrefixes []string
	// APIHosts are third-party place/event data providers.
	APIHosts []string
	// TileHosts are map tile providers.
	TileHosts []string
	// ImageHosts are image CDNs.
	ImageHosts []string

	ImageExtensions  []string
	StaticExtensions []string
	StaticPrefixes   []string
}

// DefaultRules returns the rules the application ships with.
func DefaultRules() Rules {
	return Rules{
		APIPrefix: "/api/",
		UserDataPrefixes: []string{
			"/api/places/saved",
			"/api/adventures",
			"/api/favorites",
			"/api/user",
		},
		APIHosts: []string{
			"api.foursquare.com",
			"places.googleapis.com",
			"maps.googleapis.com",
			"app.ticketmaster.com",
			"www.eventbriteapi.com",
			"api.yelp.com",
			"api.open-meteo.com",
		},
		TileHosts: []string{
			"tile.openstreetmap.org",
			"tiles.stadiamaps.com",
			"basemaps.cartocdn.com",
			"api.maptiler.com",
			"server.arcgisonline.com",
		},
		ImageHosts: []string{
			"images.unsplash.com",
			"fastly.4sqi.net",
			"s1.ticketm.net",
			"img.evbuc.com",
			"lh3.googleusercontent.com",
			"places.googleapis.com/v1/photos",
		},
		ImageExtensions:  []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico"},
		StaticExtensions: []string{".js", ".mjs", ".css", ".woff", ".woff2", ".ttf", ".otf", ".eot", ".map"},
		StaticPrefixes:   []string{"/assets/", "/static/"},
	}
}

var tilePath = regexp.MustCompile(`/\d+/\d+/\d+(@\dx)?\.png$`)

// Classifier maps a request to exactly one category. It has no side effects.
type Classifier struct {
	rules Rules
}

func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify evaluates the categories in a fixed precedence order:
// navigation, pass-through, map tile, API (user-data first), image, static asset, other.
func (c *Classifier) Classify(req domain.Request) domain.Category {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	if req.Mode == domain.ModeNavigate && method == http.MethodGet && isHTTP(req) {
		return domain.CategoryNavigation
	}
	if method != http.MethodGet || !isHTTP(req) {
		return domain.CategoryPassthrough
	}

	host := strings.ToLower(req.URL.Hostname())
	p := req.URL.EscapedPath()
	ext := strings.ToLower(path.Ext(req.URL.Path))

	if hostMatches(host, c.rules.TileHosts) || tilePath.MatchString(p) {
		return domain.CategoryMapTile
	}

	if c.rules.APIPrefix != "" && strings.HasPrefix(p, c.rules.APIPrefix) {
		if hasAnyPrefix(p, c.rules.UserDataPrefixes) {
			return domain.CategoryUserDataAPI
		}
		return domain.CategoryAPI
	}
	if hostMatches(host, c.rules.APIHosts) && !hostPathMatches(host, p, c.rules.ImageHosts) {
		return domain.CategoryAPI
	}

	if acceptsImage(req.Header) || contains(c.rules.ImageExtensions, ext) ||
		hostMatches(host, c.rules.ImageHosts) || hostPathMatches(host, p, c.rules.ImageHosts) {
		return domain.CategoryImage
	}

	if contains(c.rules.StaticExtensions, ext) || hasAnyPrefix(p, c.rules.StaticPrefixes) {
		return domain.CategoryStaticAsset
	}

	return domain.CategoryOther
}

func isHTTP(req domain.Request) bool {
	if req.URL == nil {
		return false
	}
	s := strings.ToLower(req.URL.Scheme)
	return s == "http" || s == "https"
}

func acceptsImage(h http.Header) bool {
	if h == nil {
		return false
	}
	for _, v := range h.Values("Accept") {
		if strings.Contains(strings.ToLower(v), "image/") {
			return true
		}
	}
	return false
}

// hostMatches reports whether host equals, or is a subdomain of, a bare host entry.
// Entries carrying a path are matched by hostPathMatches instead.
func hostMatches(host string, list []string) bool {
	for _, h := range list {
		if strings.Contains(h, "/") {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// hostPathMatches matches "host/path-prefix" entries.
func hostPathMatches(host, p string, list []string) bool {
	for _, h := range list {
		i := strings.Index(h, "/")
		if i < 0 {
			continue
		}
		if host == h[:i] && strings.HasPrefix(p, h[i:]) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
