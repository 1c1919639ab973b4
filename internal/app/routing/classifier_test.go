package routing

import (
	"net/http"
	"testing"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

func req(t *testing.T, method, rawURL string, mode domain.Mode, header map[string]string) domain.Request {
	t.Helper()
	r, err := domain.NewRequest(method, rawURL)
	if err != nil {
		t.Fatalf("NewRequest(%q) err=%v", rawURL, err)
	}
	r.Mode = mode
	for k, v := range header {
		r.Header.Set(k, v)
	}
	return r
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultRules())
	cases := []struct {
		name   string
		method string
		url    string
		mode   domain.Mode
		header map[string]string
		want   domain.Category
	}{
		{"navigation wins over image accept", http.MethodGet, "https://app.example.com/places/42", domain.ModeNavigate,
			map[string]string{"Accept": "text/html,image/avif,image/webp"}, domain.CategoryNavigation},
		{"navigation to api path still navigation", http.MethodGet, "https://app.example.com/api/places", domain.ModeNavigate, nil, domain.CategoryNavigation},
		{"post is not intercepted", http.MethodPost, "https://app.example.com/api/places/saved", domain.ModeCORS, nil, domain.CategoryPassthrough},
		{"post navigation is not intercepted", http.MethodPost, "https://app.example.com/login", domain.ModeNavigate, nil, domain.CategoryPassthrough},
		{"non-http scheme is not intercepted", http.MethodGet, "ws://app.example.com/live", domain.ModeCORS, nil, domain.CategoryPassthrough},
		{"tile provider host", http.MethodGet, "https://a.tile.openstreetmap.org/whatever", domain.ModeCORS, nil, domain.CategoryMapTile},
		{"tile path shape", http.MethodGet, "https://cdn.example.com/styles/12/654/1583.png", domain.ModeCORS, nil, domain.CategoryMapTile},
		{"retina tile path", http.MethodGet, "https://cdn.example.com/12/654/1583@2x.png", domain.ModeCORS, nil, domain.CategoryMapTile},
		{"tile beats api prefix", http.MethodGet, "https://app.example.com/api/tiles/3/4/5.png", domain.ModeCORS, nil, domain.CategoryMapTile},
		{"api prefix", http.MethodGet, "https://app.example.com/api/places/nearby?lat=1", domain.ModeCORS, nil, domain.CategoryAPI},
		{"user data api", http.MethodGet, "https://app.example.com/api/places/saved", domain.ModeCORS, nil, domain.CategoryUserDataAPI},
		{"user data api nested", http.MethodGet, "https://app.example.com/api/adventures/7", domain.ModeCORS, nil, domain.CategoryUserDataAPI},
		{"third-party data host", http.MethodGet, "https://api.foursquare.com/v3/places/search", domain.ModeCORS, nil, domain.CategoryAPI},
		{"image host path beats api host", http.MethodGet, "https://places.googleapis.com/v1/photos/abc/media", domain.ModeCORS, nil, domain.CategoryImage},
		{"image accept header", http.MethodGet, "https://app.example.com/avatar", domain.ModeNoCORS,
			map[string]string{"Accept": "image/webp,*/*"}, domain.CategoryImage},
		{"image extension", http.MethodGet, "https://app.example.com/img/hero.JPG", domain.ModeCORS, nil, domain.CategoryImage},
		{"image cdn", http.MethodGet, "https://images.unsplash.com/photo-123?w=400", domain.ModeCORS, nil, domain.CategoryImage},
		{"script", http.MethodGet, "https://app.example.com/main.4f2a.js", domain.ModeCORS, nil, domain.CategoryStaticAsset},
		{"font", http.MethodGet, "https://fonts.example.com/inter.woff2", domain.ModeCORS, nil, domain.CategoryStaticAsset},
		{"assets path", http.MethodGet, "https://app.example.com/assets/sprite", domain.ModeCORS, nil, domain.CategoryStaticAsset},
		{"fallback", http.MethodGet, "https://app.example.com/manifest.json", domain.ModeCORS, nil, domain.CategoryOther},
	}
	for _, tc := range cases {
		got := c.Classify(req(t, tc.method, tc.url, tc.mode, tc.header))
		if got != tc.want {
			t.Fatalf("%s: Classify()=%q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassify_CustomRules(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	rules.APIPrefix = "/v2/"
	rules.UserDataPrefixes = []string{"/v2/me"}
	c := NewClassifier(rules)

	if got := c.Classify(req(t, http.MethodGet, "https://x.example.com/v2/me/trips", domain.ModeCORS, nil)); got != domain.CategoryUserDataAPI {
		t.Fatalf("Classify()=%q, want user-data-api", got)
	}
	if got := c.Classify(req(t, http.MethodGet, "https://x.example.com/api/places", domain.ModeCORS, nil)); got != domain.CategoryOther {
		t.Fatalf("Classify()=%q, want other", got)
	}
}
