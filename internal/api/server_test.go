package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/convogate/internal/admission"
	"github.com/user/convogate/internal/session"
	"github.com/user/convogate/internal/stats"
	"github.com/user/convogate/internal/types"
)

type fakeGateway struct {
	stats    *stats.Tracker
	sessions *session.Store
	locks    *admission.Controller
}

func (g *fakeGateway) Stats() *stats.Tracker        { return g.stats }
func (g *fakeGateway) Sessions() *session.Store     { return g.sessions }
func (g *fakeGateway) Locks() *admission.Controller { return g.locks }

func newFakeGateway() *fakeGateway {
	locks := admission.NewController()
	return &fakeGateway{
		stats:    stats.NewTracker(100, 8),
		sessions: session.NewStore(100, 10, nil, locks.IsLocked),
		locks:    locks,
	}
}

func get(t *testing.T, srv *httptest.Server, path string) map[string]any {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return body
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newFakeGateway()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}
}

func TestGetStats(t *testing.T) {
	gw := newFakeGateway()
	gw.stats.Record("inference", 100*time.Millisecond)
	gw.stats.Record("inference", 300*time.Millisecond)

	srv := httptest.NewServer(NewHandler(gw).Router())
	defer srv.Close()

	body := get(t, srv, "/api/stats")
	stages, ok := body["stages"].(map[string]any)
	if !ok {
		t.Fatalf("expected stages map, got %T", body["stages"])
	}
	inf, ok := stages["inference"].(map[string]any)
	if !ok {
		t.Fatalf("expected inference stage, got %v", stages)
	}
	if inf["count"] != float64(2) {
		t.Errorf("expected count 2, got %v", inf["count"])
	}
	if inf["avg_ms"] != float64(200) {
		t.Errorf("expected avg 200ms, got %v", inf["avg_ms"])
	}
}

func TestGetSessions(t *testing.T) {
	gw := newFakeGateway()
	gw.sessions.Put("telegram:1", types.NewSessionState("telegram:1"))
	time.Sleep(time.Millisecond)
	gw.sessions.Put("telegram:2", types.NewSessionState("telegram:2"))

	srv := httptest.NewServer(NewHandler(gw).Router())
	defer srv.Close()

	body := get(t, srv, "/api/sessions")
	if body["count"] != float64(2) {
		t.Errorf("expected 2 sessions, got %v", body["count"])
	}
	list, ok := body["sessions"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("expected 2 session entries, got %v", body["sessions"])
	}
	first := list[0].(map[string]any)
	if first["key"] != "telegram:2" {
		t.Errorf("expected most recently used first, got %v", first["key"])
	}
}

func TestGetLocks(t *testing.T) {
	gw := newFakeGateway()
	if ok, err := gw.locks.Acquire("telegram:9", time.Second); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	defer gw.locks.Release("telegram:9")

	srv := httptest.NewServer(NewHandler(gw).Router())
	defer srv.Close()

	body := get(t, srv, "/api/locks")
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 held lock, got %v", body["count"])
	}
	lock := body["locks"].([]any)[0].(map[string]any)
	if lock["key"] != "telegram:9" {
		t.Errorf("unexpected lock key %v", lock["key"])
	}
	if lock["stale"] != false {
		t.Errorf("fresh lock should not be stale")
	}

	// A tiny staleness bound flags the same lock.
	body = get(t, srv, "/api/locks?stale_after=1ns")
	lock = body["locks"].([]any)[0].(map[string]any)
	if lock["stale"] != true {
		t.Errorf("expected stale with 1ns bound")
	}
}
