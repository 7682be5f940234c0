package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/openflite/openflite"
	"github.com/openflite/openflite/connect"
	"github.com/openflite/openflite/mapping"
)

func newTestServer(t *testing.T) (*Server, *openflite.Core, *httptest.Server) {
	t.Helper()

	core := &openflite.Core{DisableScan: true}
	if err := core.Init(); err != nil {
		t.Fatalf("core init failed: %v", err)
	}

	server := &Server{}
	server.setup(core)
	go server.hub.run()

	ts := httptest.NewServer(server.routes())
	t.Cleanup(func() {
		ts.Close()
		core.Close()
	})

	return server, core, ts
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("GET %s returned undecodable body: %v", url, err)
		}
	}

	return resp.StatusCode
}

func postJSON(t *testing.T, url string, payload string) int {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	resp.Body.Close()

	return resp.StatusCode
}

func TestStatusReportsDisconnected(t *testing.T) {
	_, _, ts := newTestServer(t)

	var status struct {
		Simulator string `json:"simulator"`
		Connected bool   `json:"connected"`
		Devices   int    `json:"devices"`
	}
	if code := getJSON(t, ts.URL+"/status", &status); code != http.StatusOK {
		t.Fatalf("got status code %d, want %d", code, http.StatusOK)
	}
	if status.Connected {
		t.Error("reported connected without a simulator")
	}
	if status.Devices != 0 {
		t.Errorf("got %d devices, want 0", status.Devices)
	}
}

func TestSimConnectAndDisconnect(t *testing.T) {
	_, core, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/sim/connect", `{"type":"demo"}`); code != http.StatusOK {
		t.Fatalf("got status code %d, want %d", code, http.StatusOK)
	}
	if got := core.SimName(); got != "demo" {
		t.Errorf("got simulator %q, want %q", got, "demo")
	}

	var status struct {
		Simulator string `json:"simulator"`
		Connected bool   `json:"connected"`
	}
	getJSON(t, ts.URL+"/status", &status)
	if !status.Connected || status.Simulator != "demo" {
		t.Errorf("got status %+v, want connected demo", status)
	}

	if code := postJSON(t, ts.URL+"/sim/disconnect", ""); code != http.StatusOK {
		t.Fatalf("got status code %d on disconnect, want %d", code, http.StatusOK)
	}
	if got := core.SimName(); got != "" {
		t.Errorf("simulator still %q after disconnect", got)
	}
}

func TestSimConnectRejectsUnknownType(t *testing.T) {
	_, _, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/sim/connect", `{"type":"fsx"}`); code != http.StatusBadRequest {
		t.Errorf("got status code %d, want %d", code, http.StatusBadRequest)
	}
}

func TestVariableRoutes(t *testing.T) {
	_, core, ts := newTestServer(t)

	demo := connect.NewDemoClient()
	if err := core.SetSimClient(demo); err != nil {
		t.Fatalf("set sim client failed: %v", err)
	}
	if err := demo.Poll(); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	for _, route := range []string{"/variables", "/simvars"} {
		vars := make(map[string]float64)
		if code := getJSON(t, ts.URL+route, &vars); code != http.StatusOK {
			t.Fatalf("got status code %d for %s, want %d", code, route, http.StatusOK)
		}
		if _, found := vars["sim/flightmodel/position/altitude"]; !found {
			t.Errorf("altitude missing from %s response: %v", route, vars)
		}
	}
}

func TestWriteVariableRequiresSimulator(t *testing.T) {
	_, _, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/simvar", `{"name":"sim/test","value":1}`); code != http.StatusConflict {
		t.Errorf("got status code %d, want %d", code, http.StatusConflict)
	}
}

func TestWriteVariableAndCommand(t *testing.T) {
	_, core, ts := newTestServer(t)

	if err := core.SetSimClient(connect.NewDemoClient()); err != nil {
		t.Fatalf("set sim client failed: %v", err)
	}

	if code := postJSON(t, ts.URL+"/simvar", `{"name":"sim/test","value":12.5}`); code != http.StatusOK {
		t.Errorf("got status code %d for simvar write, want %d", code, http.StatusOK)
	}
	if code := postJSON(t, ts.URL+"/simvar", `{"value":1}`); code != http.StatusBadRequest {
		t.Errorf("got status code %d for nameless write, want %d", code, http.StatusBadRequest)
	}

	events := core.Subscribe()
	defer core.Unsubscribe(events)

	if code := postJSON(t, ts.URL+"/command", `{"event":"sim/lights/landing"}`); code != http.StatusOK {
		t.Fatalf("got status code %d for command, want %d", code, http.StatusOK)
	}

	select {
	case event := <-events:
		if event.Kind != openflite.EventCommandSent || event.Name != "sim/lights/landing" {
			t.Errorf("got event %+v, want command_sent for sim/lights/landing", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command event")
	}
}

func TestProjectUpload(t *testing.T) {
	_, _, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/project", mapping.DemoProjectXML); code != http.StatusOK {
		t.Errorf("got status code %d for project upload, want %d", code, http.StatusOK)
	}
	if code := postJSON(t, ts.URL+"/project", "<not-xml"); code != http.StatusBadRequest {
		t.Errorf("got status code %d for malformed project, want %d", code, http.StatusBadRequest)
	}
}

func TestInjectValidation(t *testing.T) {
	_, _, ts := newTestServer(t)

	if code := postJSON(t, ts.URL+"/inject", `{"device":"DEMO","line":"11,GearToggle,1;"}`); code != http.StatusOK {
		t.Errorf("got status code %d for inject, want %d", code, http.StatusOK)
	}
	if code := postJSON(t, ts.URL+"/inject", `{"line":"11,GearToggle,1;"}`); code != http.StatusBadRequest {
		t.Errorf("got status code %d for inject without device, want %d", code, http.StatusBadRequest)
	}
	if code := postJSON(t, ts.URL+"/inject", `{"device":"DEMO","line":"garbage"}`); code != http.StatusBadRequest {
		t.Errorf("got status code %d for unparsable line, want %d", code, http.StatusBadRequest)
	}
}

func TestDevicesEmptyList(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/devices")
	if err != nil {
		t.Fatalf("GET /devices failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if got := strings.TrimSpace(string(body)); got != "[]" {
		t.Errorf("got body %q, want empty json array", got)
	}
}

func TestEventsWebsocket(t *testing.T) {
	server, core, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.forwardEvents(ctx, core.Subscribe())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.hub.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := core.SetSimClient(connect.NewDemoClient()); err != nil {
		t.Fatalf("set sim client failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read failed: %v", err)
	}

	var event openflite.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("event payload not json: %v", err)
	}
	if event.Kind != openflite.EventSimConnected {
		t.Errorf("got event kind %q, want %q", event.Kind, openflite.EventSimConnected)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	core := &openflite.Core{DisableScan: true}
	if err := core.Init(); err != nil {
		t.Fatalf("core init failed: %v", err)
	}
	t.Cleanup(func() { core.Close() })

	server := &Server{Addr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, core) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}
