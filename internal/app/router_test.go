package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	httpserver "github.com/wrenchworks/dealercomm/internal/adapter/httpserver"
	"github.com/wrenchworks/dealercomm/internal/config"
)

func TestParseOrigins(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"https://ops.dealercomm.io", []string{"https://ops.dealercomm.io"}},
		{"https://a.example, https://b.example", []string{"https://a.example", "https://b.example"}},
		{"https://a.example,,", []string{"https://a.example"}},
		{"  ,  ", []string{"*"}},
	}
	for _, c := range cases {
		got := ParseOrigins(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("len mismatch for %q: %v vs %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("mismatch idx %d for %q: %v vs %v", i, c.in, got, c.want)
			}
		}
	}
}

func newRouterForTest(cfg config.Config, jobs *fakeJobs) http.Handler {
	srv := httpserver.NewServer(cfg, jobs,
		func() bool { return true },
		func() int { return 0 },
		nil, nil, nil,
	)
	return BuildRouter(cfg, srv)
}

func TestBuildRouterProbesAreOpen(t *testing.T) {
	cfg := config.Config{AppEnv: "test", RateLimitPerMin: 60}
	h := newRouterForTest(cfg, &fakeJobs{})

	for _, target := range []string{"/health", "/ready", "/status", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: got %d want 200", target, rec.Code)
		}
	}
}

func TestBuildRouterSetsSecurityAndRequestHeaders(t *testing.T) {
	cfg := config.Config{AppEnv: "test", RateLimitPerMin: 60}
	h := newRouterForTest(cfg, &fakeJobs{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options: got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options: got %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing X-Request-Id")
	}
}

func TestBuildRouterOpsGuard(t *testing.T) {
	cfg := config.Config{AppEnv: "test", RateLimitPerMin: 60, OpsUsername: "ops", OpsPassword: "pw"}
	h := newRouterForTest(cfg, &fakeJobs{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without credentials: got %d want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ops/jobs", nil)
	req.SetBasicAuth("ops", "pw")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with credentials: got %d want 200", rec.Code)
	}

	// Probes stay open even with the guard configured.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health with guard configured: got %d want 200", rec.Code)
	}
}

func TestBuildRouterOpsOpenWithoutCredentials(t *testing.T) {
	cfg := config.Config{AppEnv: "test", RateLimitPerMin: 60}
	h := newRouterForTest(cfg, &fakeJobs{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rec.Code)
	}
}
