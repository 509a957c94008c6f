// Package mqtt implements the MQTT protocol façade (spec.md §6): subscribes
// {prefix}/cmd, publishes {prefix}/response and {prefix}/event, retains
// {prefix}/status.
//
// Grounded on the other_examples bcdiaconu-chint-mqtt-modbus-bridge gateway
// shape (subscribe-decode-dispatch-publish loop over paho.mqtt.golang),
// adapted to this spec's unified request/response JSON envelope instead of
// that bridge's Modbus-register topic layout.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/apex/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	gwhttp "github.com/pierrejay/dmxgateway/internal/handlers/http"
	"github.com/pierrejay/dmxgateway/internal/coordinator"
	"github.com/pierrejay/dmxgateway/internal/handlers/metrics"
)

// Handler wires an MQTT client to the coordinator under a configured topic
// prefix.
type Handler struct {
	client  mqtt.Client
	coord   *coordinator.Coordinator
	metrics *metrics.Registry // nil is valid: metrics are optional (spec.md §7)
	prefix  string
	log     *log.Entry
}

// New constructs a Handler for broker without connecting; Start connects
// and subscribes. reg may be nil if this façade should not export
// per-command error counters.
func New(broker, clientID, prefix string, coord *coordinator.Coordinator, reg *metrics.Registry, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "mqtt")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)
	h := &Handler{coord: coord, metrics: reg, prefix: prefix, log: logger}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		h.log.Info("mqtt: connected")
		h.publishStatus()
	})
	h.client = mqtt.NewClient(opts)
	return h
}

// Start connects and subscribes to {prefix}/cmd, and launches the delta
// pump that republishes coordinator broadcasts as {prefix}/event.
func (h *Handler) Start() error {
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	topic := h.prefix + "/cmd"
	if token := h.client.Subscribe(topic, 1, h.onCommand); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	id, deltas := h.coord.Subscribe()
	go h.pumpEvents(id, deltas)
	return nil
}

// Stop disconnects cleanly.
func (h *Handler) Stop() {
	h.client.Disconnect(250)
}

func (h *Handler) onCommand(_ mqtt.Client, msg mqtt.Message) {
	var req gwhttp.Request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		h.recordError(req.Cmd, "bad_request")
		h.publish(h.prefix+"/response", gwhttp.Response{Type: "error", Error: "bad request: " + err.Error()})
		return
	}
	resp := h.dispatch(req)
	if resp.Type == "error" {
		h.recordError(req.Cmd, gwhttp.StatusLabel(resp.Error))
	}
	h.publish(h.prefix+"/response", resp)
}

func (h *Handler) recordError(cmd, status string) {
	if h.metrics != nil {
		h.metrics.CommandErrors.WithLabelValues(cmd, status).Inc()
	}
}

func (h *Handler) dispatch(req gwhttp.Request) gwhttp.Response {
	switch req.Cmd {
	case "enable":
		return wrap(h.coord.Enable())
	case "disable":
		return wrap(h.coord.Disable())
	case "blackout":
		return wrap(h.coord.Blackout())
	case "set":
		group, light, hasLight := strings.Cut(req.Target, "/")
		if hasLight {
			return wrap(h.coord.SetLight(group, light, req.Values))
		}
		h.coord.SetGroup(req.Target, req.Values)
		return gwhttp.Response{Type: "ok", Target: req.Target}
	case "status", "get":
		return gwhttp.Response{Type: "status", Data: h.coord.Status()}
	case "groups":
		return gwhttp.Response{Type: "groups", Data: h.coord.Catalogue().Groups}
	case "lights":
		return gwhttp.Response{Type: "lights", Target: req.Target, Data: h.coord.Catalogue().LightsIn(req.Target)}
	default:
		return gwhttp.Response{Type: "error", Error: "unknown cmd: " + req.Cmd}
	}
}

func wrap(err error) gwhttp.Response {
	if err != nil {
		return gwhttp.Response{Type: "error", Error: err.Error()}
	}
	return gwhttp.Response{Type: "ok"}
}

func (h *Handler) pumpEvents(id int, deltas <-chan []byte) {
	defer h.coord.Unsubscribe(id)
	for payload := range deltas {
		token := h.client.Publish(h.prefix+"/event", 0, false, payload)
		token.WaitTimeout(time.Second)
	}
}

func (h *Handler) publishStatus() {
	h.publish(h.prefix+"/status", h.coord.Status())
}

func (h *Handler) publish(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.WithError(err).Error("mqtt: failed to marshal publish payload")
		return
	}
	retained := topic == h.prefix+"/status"
	token := h.client.Publish(topic, 0, retained, payload)
	token.WaitTimeout(time.Second)
}
