package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/logger"
)

func newTestServer(t *testing.T) (*Server, *engineFixture) {
	t.Helper()
	f := newEngineFixture(t, DefaultConfig())
	f.engine.sweep(context.Background())
	return NewServer(DefaultServerConfig(), f.engine, f.bus, logger.NewTest()), f
}

func TestOpportunitiesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/opportunities", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp opportunitiesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Opportunities) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(resp.Opportunities))
	}

	opp := resp.Opportunities[0]
	if opp.Hops != 2 {
		t.Errorf("hops = %d, want 2", opp.Hops)
	}
	if opp.SpreadBps <= 0 {
		t.Errorf("spread = %f, want positive", opp.SpreadBps)
	}
	if len(opp.Path) != 3 || opp.Path[0] != opp.Path[2] {
		t.Errorf("path = %v, want closed 3-token walk", opp.Path)
	}
}

func TestExecuteEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"garbage body", "{not json", http.StatusBadRequest},
		{"bad cycle id", `{"cycle_id":"nope","amount_in":"1"}`, http.StatusBadRequest},
		{"bad amount", `{"cycle_id":"7b9705cc-0b57-4ea1-9e90-6b2b05c0f6a7","amount_in":"one"}`, http.StatusBadRequest},
		{"unknown cycle", `{"cycle_id":"7b9705cc-0b57-4ea1-9e90-6b2b05c0f6a7","amount_in":"1"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(tt.body))
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestExecuteEndpointTradesTrackedCycle(t *testing.T) {
	srv, f := newTestServer(t)

	validated, _, _ := f.engine.Opportunities()
	body := `{"cycle_id":"` + validated[0].Cycle.ID.String() + `","amount_in":"1.5","slippage_bps":20}`

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp executeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "confirmed" {
		t.Errorf("status = %s, want confirmed", resp.Status)
	}
	if len(f.submitter.intents) != 1 {
		t.Errorf("submitted %d intents, want 1", len(f.submitter.intents))
	}
}

func TestEventsWebsocketStream(t *testing.T) {
	srv, f := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	f.bus.Publish(events.New(events.TypeCycleFound, map[string]any{"cycle_id": "abc"}))

	var ev events.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != events.TypeCycleFound {
		t.Errorf("event type = %s, want cycle_found", ev.Type)
	}
	if ev.Fields["cycle_id"] != "abc" {
		t.Errorf("fields = %v", ev.Fields)
	}
}
