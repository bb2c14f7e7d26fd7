package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/registry"
	"github.com/retrowfc-project/retrowfc/internal/session"
)

func newTestServer(token string) *Server {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Security.APIToken = token
	return NewServer(cfg, session.NewStore(session.Options{}), registry.NewTable(registry.TableOptions{}))
}

func get(srv *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := get(newTestServer(""), "/healthz", "")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()

	srv := newTestServer("sekrit")

	if rec := get(srv, "/api/status", ""); rec.Code != 401 {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := get(srv, "/api/status", "wrong"); rec.Code != 401 {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}
	if rec := get(srv, "/api/status", "sekrit"); rec.Code != 200 {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
	// healthz stays public for load balancers.
	if rec := get(srv, "/healthz", ""); rec.Code != 200 {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestStatusCounts(t *testing.T) {
	t.Parallel()

	srv := newTestServer("")
	srv.sessions.Begin(nil)
	srv.table.Heartbeat("10.0.0.7:6500", nil)

	rec := get(srv, "/api/status", "")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["sessions"].(float64) != 1 {
		t.Fatalf("sessions = %v, want 1", body["sessions"])
	}
	if body["servers"].(float64) != 1 {
		t.Fatalf("servers = %v, want 1", body["servers"])
	}
}

func TestServersListing(t *testing.T) {
	t.Parallel()

	srv := newTestServer("")
	srv.table.Heartbeat("10.0.0.7:6500", func(r *registry.Registration) {
		r.GameID = "ADAJ"
		r.Hostname = "Battle Tower"
	})

	rec := get(srv, "/api/servers", "")
	var body struct {
		Count   int          `json:"count"`
		Servers []serverInfo `json:"servers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Servers[0].Hostname != "Battle Tower" {
		t.Fatalf("listing = %+v", body)
	}
	if body.Servers[0].Verified {
		t.Fatal("unverified registration reported as verified")
	}
}
