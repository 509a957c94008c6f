// Package http implements the HTTP protocol façade (spec.md §6 Gateway
// API): a single POST /api endpoint decoding the unified request/response
// shape and calling straight through to the coordinator.
package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/apex/log"

	"github.com/pierrejay/dmxgateway/internal/coordinator"
	"github.com/pierrejay/dmxgateway/internal/handlers/metrics"
)

// Request is the unified gateway request (spec.md §6).
type Request struct {
	Cmd    string         `json:"cmd"`
	Target string         `json:"target,omitempty"`
	Values map[string]int `json:"values,omitempty"`
}

// Response is the unified gateway response.
type Response struct {
	Type   string      `json:"type"`
	Target string      `json:"target,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Handler serves POST /api against a *coordinator.Coordinator.
type Handler struct {
	coord   *coordinator.Coordinator
	metrics *metrics.Registry // nil is valid: metrics are optional (spec.md §7)
	log     *log.Entry
}

// New constructs a Handler. reg may be nil if this façade should not export
// per-command error counters.
func New(coord *coordinator.Coordinator, reg *metrics.Registry, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Handler{coord: coord, metrics: reg, log: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if h.metrics != nil {
			h.metrics.CommandErrors.WithLabelValues(req.Cmd, "bad_request").Inc()
		}
		writeJSON(w, Response{Type: "error", Error: "bad request: " + err.Error()})
		return
	}
	resp := h.dispatch(req)
	if resp.Type == "error" && h.metrics != nil {
		h.metrics.CommandErrors.WithLabelValues(req.Cmd, StatusLabel(resp.Error)).Inc()
	}
	writeJSON(w, resp)
}

func (h *Handler) dispatch(req Request) Response {
	switch req.Cmd {
	case "enable":
		if err := h.coord.Enable(); err != nil {
			return errResp(err)
		}
		return Response{Type: "ok"}
	case "disable":
		if err := h.coord.Disable(); err != nil {
			return errResp(err)
		}
		return Response{Type: "ok"}
	case "blackout":
		if err := h.coord.Blackout(); err != nil {
			return errResp(err)
		}
		return Response{Type: "ok"}
	case "set":
		return h.dispatchSet(req)
	case "get", "status":
		return Response{Type: "status", Data: h.coord.Status()}
	case "groups":
		return Response{Type: "groups", Data: h.coord.Catalogue().Groups}
	case "lights":
		return Response{Type: "lights", Target: req.Target, Data: h.coord.Catalogue().LightsIn(req.Target)}
	default:
		return Response{Type: "error", Error: "unknown cmd: " + req.Cmd}
	}
}

func (h *Handler) dispatchSet(req Request) Response {
	group, light, hasLight := strings.Cut(req.Target, "/")
	if hasLight {
		if err := h.coord.SetLight(group, light, req.Values); err != nil {
			return errResp(err)
		}
		return Response{Type: "ok", Target: req.Target}
	}
	h.coord.SetGroup(req.Target, req.Values)
	return Response{Type: "ok", Target: req.Target}
}

func errResp(err error) Response {
	return Response{Type: "error", Error: err.Error()}
}

// StatusLabel reduces an error message to a short Prometheus label value so
// cardinality stays bounded regardless of the underlying error's detail.
// Shared with the other protocol façades that record the same metric.
func StatusLabel(msg string) string {
	switch {
	case strings.Contains(msg, "range"):
		return "range"
	case strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "transport fault"):
		return "transport_fault"
	case strings.Contains(msg, "unknown cmd"):
		return "unknown_command"
	case strings.Contains(msg, "bad request"):
		return "bad_request"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
