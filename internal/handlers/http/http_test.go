package http

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pierrejay/dmxgateway/client"
	"github.com/pierrejay/dmxgateway/internal/catalogue"
	"github.com/pierrejay/dmxgateway/internal/coordinator"
	"github.com/pierrejay/dmxgateway/internal/handlers/metrics"
)

type fakePeer struct{}

func (fakePeer) Enable() error                             { return nil }
func (fakePeer) Disable() error                            { return nil }
func (fakePeer) Blackout() error                            { return nil }
func (fakePeer) SetChannels(start int, values []byte) error { return nil }
func (fakePeer) Status() (client.Status, error)             { return client.Status{}, nil }

func testHandler(t *testing.T) *Handler {
	t.Helper()
	cat, err := catalogue.Build([]catalogue.LightSpec{
		{Group: "stage", Light: "par1", Channels: []catalogue.ChannelBindingSpec{
			{Slot: 1, Color: "red", Alias: "red"},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("build catalogue: %v", err)
	}
	coord := coordinator.New(cat, fakePeer{}, 0, nil)
	return New(coord, nil, nil)
}

func post(t *testing.T, h *Handler, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	r := httptest.NewRequest("POST", "/api", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestServeHTTPEnableDisable(t *testing.T) {
	h := testHandler(t)
	if resp := post(t, h, Request{Cmd: "enable"}); resp.Type != "ok" {
		t.Fatalf("enable: %+v", resp)
	}
	if resp := post(t, h, Request{Cmd: "disable"}); resp.Type != "ok" {
		t.Fatalf("disable: %+v", resp)
	}
}

func TestServeHTTPSetLight(t *testing.T) {
	h := testHandler(t)
	resp := post(t, h, Request{Cmd: "set", Target: "stage/par1", Values: map[string]int{"red": 128}})
	if resp.Type != "ok" {
		t.Fatalf("set: %+v", resp)
	}
}

func TestServeHTTPGroupsAndLights(t *testing.T) {
	h := testHandler(t)
	resp := post(t, h, Request{Cmd: "groups"})
	if resp.Type != "groups" {
		t.Fatalf("groups: %+v", resp)
	}
	resp = post(t, h, Request{Cmd: "lights", Target: "stage"})
	if resp.Type != "lights" {
		t.Fatalf("lights: %+v", resp)
	}
	lights, ok := resp.Data.([]interface{})
	if !ok || len(lights) != 1 || lights[0] != "par1" {
		t.Fatalf("lights data = %v", resp.Data)
	}
}

func TestServeHTTPUnknownCmd(t *testing.T) {
	h := testHandler(t)
	resp := post(t, h, Request{Cmd: "bogus"})
	if resp.Type != "error" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestServeHTTPRecordsCommandErrors(t *testing.T) {
	cat, err := catalogue.Build([]catalogue.LightSpec{
		{Group: "stage", Light: "par1", Channels: []catalogue.ChannelBindingSpec{
			{Slot: 1, Color: "red", Alias: "red"},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("build catalogue: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	coord := coordinator.New(cat, fakePeer{}, 0, nil)
	h := New(coord, m, nil)

	post(t, h, Request{Cmd: "bogus"})

	if got := testutil.ToFloat64(m.CommandErrors.WithLabelValues("bogus", "unknown_command")); got != 1 {
		t.Fatalf("command_errors_total{bogus,unknown_command} = %v, want 1", got)
	}
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	h := testHandler(t)
	r := httptest.NewRequest("GET", "/api", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != 405 {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}
