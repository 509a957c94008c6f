// Package modbus implements the Modbus/TCP protocol façade (spec.md §6):
// holding registers 0-511 map to DMX slots 1-512 (low byte only), coil 0
// enables/disables, coil 1 (write-only, value 0xFF00) triggers blackout.
//
// Shape grounded on the other_examples Modbus client split
// (rolfl-modbus's request/response framing concerns) adapted to the real
// ecosystem Modbus/TCP *server*, github.com/tbrandon/mbserver, since the
// example only covered the client side.
package modbus

import (
	"github.com/apex/log"
	"github.com/tbrandon/mbserver"

	"github.com/pierrejay/dmxgateway/internal/coordinator"
	"github.com/pierrejay/dmxgateway/internal/handlers/metrics"
)

// Handler wraps an mbserver.Server wired to a coordinator.Coordinator.
type Handler struct {
	srv     *mbserver.Server
	coord   *coordinator.Coordinator
	metrics *metrics.Registry // nil is valid: metrics are optional (spec.md §7)
	log     *log.Entry
}

const (
	coilEnable   = 0
	coilBlackout = 1
)

// New constructs a Handler. Register handlers for the two write function
// codes are installed so a write takes effect on the coordinator (and, on
// success, the mirrored holding register), rather than merely mutating the
// server's local register array. reg may be nil if this façade should not
// export per-command error counters.
func New(coord *coordinator.Coordinator, reg *metrics.Registry, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "modbus")
	}
	srv := mbserver.NewServer()
	srv.HoldingRegisters = make([]uint16, 512)
	srv.Coils = make([]bool, 2)

	h := &Handler{srv: srv, coord: coord, metrics: reg, log: logger}
	srv.RegisterFunctionHandler(6, h.handleWriteSingleRegister)
	srv.RegisterFunctionHandler(16, h.handleWriteMultipleRegisters)
	srv.RegisterFunctionHandler(5, h.handleWriteSingleCoil)
	return h
}

// ListenAndServe starts the Modbus/TCP listener on addr.
func (h *Handler) ListenAndServe(addr string) error {
	return h.srv.ListenTCP(addr)
}

// Close shuts down the listener.
func (h *Handler) Close() {
	h.srv.Close()
}

// SyncFromCoordinator keeps HoldingRegisters current for read-side function
// codes (3, 4), which mbserver serves directly out of the array. Call this
// after every coordinator mutation or on a periodic tick.
func (h *Handler) SyncFromCoordinator() {
	channels := h.coord.Channels()
	for i, v := range channels {
		h.srv.HoldingRegisters[i] = uint16(v)
	}
	h.srv.Coils[coilEnable] = h.coord.Status().Enabled
}

func (h *Handler) handleWriteSingleRegister(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}
	register := int(data[0])<<8 | int(data[1])
	value := byte(data[3]) // low byte only per spec.md §6
	if err := h.coord.SetChannel(register+1, value); err != nil {
		h.log.WithError(err).Warn("modbus: set_channel failed")
		h.recordError("write_single_register")
		return nil, &mbserver.SlaveDeviceFailure
	}
	h.SyncFromCoordinator()
	return data[0:4], &mbserver.Success
}

func (h *Handler) handleWriteMultipleRegisters(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 5 {
		return nil, &mbserver.IllegalDataValue
	}
	register := int(data[0])<<8 | int(data[1])
	count := int(data[2])<<8 | int(data[3])
	byteCount := int(data[4])
	values := data[5:]
	if byteCount != count*2 || len(values) < byteCount {
		return nil, &mbserver.IllegalDataValue
	}
	for i := 0; i < count; i++ {
		value := values[i*2+1] // low byte only
		if err := h.coord.SetChannel(register+i+1, value); err != nil {
			h.log.WithError(err).Warn("modbus: set_channel failed")
			h.recordError("write_multiple_registers")
			return nil, &mbserver.SlaveDeviceFailure
		}
	}
	h.SyncFromCoordinator()
	return data[0:4], &mbserver.Success
}

func (h *Handler) handleWriteSingleCoil(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return nil, &mbserver.IllegalDataValue
	}
	coil := int(data[0])<<8 | int(data[1])
	on := data[2] == 0xFF

	var err error
	switch coil {
	case coilEnable:
		if on {
			err = h.coord.Enable()
		} else {
			err = h.coord.Disable()
		}
	case coilBlackout:
		if on {
			err = h.coord.Blackout()
		}
	default:
		return nil, &mbserver.IllegalDataAddress
	}
	if err != nil {
		h.log.WithError(err).Warn("modbus: coil write failed")
		h.recordError("write_single_coil")
		return nil, &mbserver.SlaveDeviceFailure
	}
	h.SyncFromCoordinator()
	return data[0:4], &mbserver.Success
}

func (h *Handler) recordError(cmd string) {
	if h.metrics != nil {
		h.metrics.CommandErrors.WithLabelValues(cmd, "error").Inc()
	}
}
