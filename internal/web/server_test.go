package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/presence-sensor/internal/control"
	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/sweeney/presence-sensor/internal/indicator"
	"github.com/sweeney/presence-sensor/internal/logic"
	"github.com/sweeney/presence-sensor/internal/status"
)

type fakeController struct {
	calls int
	err   error
}

func (f *fakeController) RequestDisconnect(ctx context.Context) error {
	f.calls++
	return f.err
}

type testEnv struct {
	ts      *httptest.Server
	srv     *Server
	tracker *status.Tracker
	queue   *event.Queue
}

func newTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		SensorPin:   4,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPPort:    ":80",
		Interface:   "wlan0",
	})
	q := event.NewQueue(2, nil)

	opts.Tracker = tr
	if opts.Sink == nil {
		opts.Sink = q
	}
	if opts.PushInterval == 0 {
		opts.PushInterval = 20 * time.Millisecond
	}
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return &testEnv{ts: ts, srv: srv, tracker: tr, queue: q}
}

func occupiedView() control.View {
	return control.View{
		Occupied:           true,
		SessionID:          "5d6f",
		Since:              time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		Enabled:            true,
		GracePeriodSeconds: 5,
		Phase:              logic.PhaseAcquired,
		Addr:               "192.168.1.42",
		MaxRetries:         3,
		TransportConnected: true,
		Pattern:            indicator.OnSpec(),
		EventsProcessed:    7,
		LastEvent:          "presence_edge",
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func receive(t *testing.T, q *event.Queue) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("no event queued: %v", err)
	}
	return ev
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestServer(t, Options{})
	env.tracker.Update(occupiedView(), 2)

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.Status.Occupancy.Occupied {
		t.Error("expected occupied")
	}
	if sj.Status.Occupancy.Session != "5d6f" {
		t.Errorf("session: got %q, want 5d6f", sj.Status.Occupancy.Session)
	}
	if sj.Status.Network.Phase != "CONNECTED" {
		t.Errorf("phase: got %q, want CONNECTED", sj.Status.Network.Phase)
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("IP: got %q", sj.Status.Network.IP)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected")
	}
	if sj.Status.QueueDropped != 2 {
		t.Errorf("queue dropped: got %d, want 2", sj.Status.QueueDropped)
	}
	if sj.Status.Indicator != "on" {
		t.Errorf("indicator: got %q, want on", sj.Status.Indicator)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	env := newTestServer(t, Options{})
	env.tracker.Update(occupiedView(), 0)

	for _, path := range []string{"/", "/index.html"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
		if !strings.Contains(string(body), "OCCUPIED") {
			t.Errorf("%s: page does not show occupancy", path)
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestServer(t, Options{})

	resp, err := http.Get(env.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "presence_occupied 1\n")
	})
	env := newTestServer(t, Options{Metrics: metrics})

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "presence_occupied 1") {
		t.Errorf("metrics body: got %q", body)
	}
}

func TestInstrumentWrapsRouter(t *testing.T) {
	var seen []string
	instrument := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	env := newTestServer(t, Options{Instrument: instrument})

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if len(seen) != 1 || seen[0] != "/index.json" {
		t.Errorf("instrumented paths: got %v", seen)
	}
}

func TestPostDetection(t *testing.T) {
	env := newTestServer(t, Options{})

	resp := post(t, env.ts.URL+"/api/v1/detection", `{"enabled":false}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", resp.StatusCode)
	}
	ev, ok := receive(t, env.queue).(event.DetectionToggled)
	if !ok || ev.Enabled {
		t.Errorf("queued: got %#v, want DetectionToggled{false}", ev)
	}
}

func TestPostGracePeriod(t *testing.T) {
	env := newTestServer(t, Options{})

	resp := post(t, env.ts.URL+"/api/v1/grace-period", `{"seconds":7}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", resp.StatusCode)
	}
	ev, ok := receive(t, env.queue).(event.GracePeriodChanged)
	if !ok || ev.Seconds != 7 {
		t.Errorf("queued: got %#v, want GracePeriodChanged{7}", ev)
	}
}

func TestPostInvalidBodies(t *testing.T) {
	env := newTestServer(t, Options{})

	tests := []struct {
		path string
		body string
	}{
		{"/api/v1/detection", ``},
		{"/api/v1/detection", `{}`},
		{"/api/v1/detection", `{"enabled":"yes"}`},
		{"/api/v1/detection", `{"enabled":true,"extra":1}`},
		{"/api/v1/grace-period", `{"seconds":0}`},
		{"/api/v1/grace-period", `{"seconds":-3}`},
		{"/api/v1/grace-period", `{"seconds":1.5}`},
		{"/api/v1/grace-period", `not json`},
	}
	for _, tt := range tests {
		resp := post(t, env.ts.URL+tt.path, tt.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %q: got %d, want 400", tt.path, tt.body, resp.StatusCode)
		}
	}
	if n := env.queue.Len(); n != 0 {
		t.Errorf("invalid requests queued %d events", n)
	}
}

func TestPostQueueFull(t *testing.T) {
	env := newTestServer(t, Options{})

	post(t, env.ts.URL+"/api/v1/network/connect", "")
	post(t, env.ts.URL+"/api/v1/network/connect", "")
	resp := post(t, env.ts.URL+"/api/v1/network/connect", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
	if env.queue.Dropped() != 1 {
		t.Errorf("dropped: got %d, want 1", env.queue.Dropped())
	}
}

func TestPostConnect(t *testing.T) {
	env := newTestServer(t, Options{})

	resp := post(t, env.ts.URL+"/api/v1/network/connect", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", resp.StatusCode)
	}
	if _, ok := receive(t, env.queue).(event.NetworkConnectRequested); !ok {
		t.Error("expected NetworkConnectRequested")
	}
}

func TestPostDisconnectUsesController(t *testing.T) {
	ctrl := &fakeController{}
	env := newTestServer(t, Options{Controller: ctrl})

	resp := post(t, env.ts.URL+"/api/v1/network/disconnect", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", resp.StatusCode)
	}
	if ctrl.calls != 1 {
		t.Errorf("controller calls: got %d, want 1", ctrl.calls)
	}

	ctrl.err = errors.New("queue full")
	resp = post(t, env.ts.URL+"/api/v1/network/disconnect", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status on error: got %d, want 503", resp.StatusCode)
	}
}

func TestPostDisconnectWithoutController(t *testing.T) {
	env := newTestServer(t, Options{})

	post(t, env.ts.URL+"/api/v1/network/disconnect", "")
	if _, ok := receive(t, env.queue).(event.NetworkDisconnectRequested); !ok {
		t.Error("expected NetworkDisconnectRequested")
	}
}

func TestWrongMethod(t *testing.T) {
	env := newTestServer(t, Options{})

	resp, err := http.Get(env.ts.URL + "/api/v1/detection")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestWebSocketPushesStatus(t *testing.T) {
	env := newTestServer(t, Options{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first status.StatusJSON
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if first.Status.Occupancy.Occupied {
		t.Error("first frame: expected vacant")
	}

	env.tracker.Update(occupiedView(), 0)

	// A later frame reflects the update.
	for {
		var sj status.StatusJSON
		if err := ws.ReadJSON(&sj); err != nil {
			t.Fatalf("read: %v", err)
		}
		if sj.Status.Occupancy.Occupied {
			return
		}
	}
}

func TestShutdownClosesWebSocket(t *testing.T) {
	env := newTestServer(t, Options{})

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	env.srv.Shutdown(context.Background())

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("got %v, want going-away close", err)
			}
			return
		}
	}
}
