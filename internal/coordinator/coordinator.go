// Package coordinator implements the DMX state coordinator (spec.md §4.6) —
// the single authoritative Linux-side mirror of the universe, the throttled
// subprocess invoker, and the subscriber fan-out. It is adapted from the
// other_examples Art-Net DMX service's dirty-tracking/throttle shape and
// from the teacher's fan-out-with-buffered-channels concurrency idiom
// (periph.Init()'s concurrent stage loader), but the locking topology is
// this spec's own: three distinct locks (mirror, subprocess throttle,
// subscriber set), never nested in a way that lets a slow subscriber or a
// slow peer stall a reader.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/pierrejay/dmxgateway/client"
	"github.com/pierrejay/dmxgateway/internal/catalogue"
)

// Peer is the subset of client.Client the coordinator needs. Kept as an
// interface so tests can substitute a fake without opening a real tty.
type Peer interface {
	Enable() error
	Disable() error
	Blackout() error
	SetChannels(startSlot int, values []byte) error
	// Status returns the remote engine's counters; only FpsX100 is consumed
	// here, to feed the Prometheus frame-rate gauge (spec.md §7, §9).
	Status() (client.Status, error)
}

// Delta is the pre-serialized broadcast payload type subscribers receive.
// It is built once per mutation under the mirror's reader lock and shared
// by reference — never re-marshalled per subscriber (spec.md §9).
type Delta struct {
	Type   string      `json:"type"`
	Target string      `json:"target,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// subscriber wraps a bounded channel; sends are non-blocking with
// drop-on-full semantics so one slow consumer never blocks the mutator.
type subscriber struct {
	ch      chan []byte
	dropped uint64
}

const subscriberBuffer = 32

// Coordinator holds the mirror, the subprocess throttle, and the
// subscriber set behind their own locks, per spec.md §4.6.
type Coordinator struct {
	cat *catalogue.Catalogue
	log *log.Entry

	mirrorMu sync.RWMutex
	enabled  bool
	channels [512]byte // index i = slot i+1

	throttleMu   sync.Mutex
	throttle     time.Duration
	lastCallTime time.Time
	peer         Peer

	subMu   sync.RWMutex
	subs    map[int]*subscriber
	nextSub int

	refreshStop chan struct{}
	refreshDone chan struct{}
}

// New constructs a Coordinator with pre-allocated subscriber and mirror
// storage from the resolved catalogue. throttle bounds the minimum interval
// between consecutive peer invocations.
func New(cat *catalogue.Catalogue, peer Peer, throttle time.Duration, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "coordinator")
	}
	return &Coordinator{
		cat:      cat,
		log:      logger,
		peer:     peer,
		throttle: throttle,
		subs:     make(map[int]*subscriber),
	}
}

// callPeer serializes and throttles one outbound invocation. It runs
// OUTSIDE the mirror lock so a slow peer never stalls readers (spec.md
// §4.6).
func (c *Coordinator) callPeer(fn func() error) error {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()

	if wait := c.throttle - time.Since(c.lastCallTime); wait > 0 {
		time.Sleep(wait)
	}
	err := fn()
	c.lastCallTime = time.Now()
	return err
}

// Enable drives the peer and, only on success, commits and broadcasts.
func (c *Coordinator) Enable() error {
	if err := c.callPeer(c.peer.Enable); err != nil {
		return err
	}
	c.mirrorMu.Lock()
	c.enabled = true
	c.mirrorMu.Unlock()
	c.broadcast(Delta{Type: "status", Data: c.Status()})
	return nil
}

// Disable drives the peer and, only on success, commits and broadcasts.
func (c *Coordinator) Disable() error {
	if err := c.callPeer(c.peer.Disable); err != nil {
		return err
	}
	c.mirrorMu.Lock()
	c.enabled = false
	c.mirrorMu.Unlock()
	c.broadcast(Delta{Type: "status", Data: c.Status()})
	return nil
}

// Blackout zeroes every slot in the mirror after a successful peer call.
func (c *Coordinator) Blackout() error {
	if err := c.callPeer(c.peer.Blackout); err != nil {
		return err
	}
	c.mirrorMu.Lock()
	for i := range c.channels {
		c.channels[i] = 0
	}
	c.mirrorMu.Unlock()
	for _, state := range c.cat.States {
		for alias := range state.Values {
			state.Values[alias] = 0
		}
	}
	c.broadcast(Delta{Type: "ok", Target: "blackout"})
	return nil
}

// SetChannel commits slot=value to the peer and mirror. Out-of-range slots
// are a no-op, not an error (spec.md §4.6).
func (c *Coordinator) SetChannel(slot int, value byte) error {
	if slot < 1 || slot > 512 {
		return nil
	}
	if err := c.callPeer(func() error {
		return c.peer.SetChannels(slot-1, []byte{value})
	}); err != nil {
		return err
	}
	c.mirrorMu.Lock()
	c.channels[slot-1] = value
	c.mirrorMu.Unlock()
	if light := c.cat.SlotIndex[slot]; light != nil {
		for _, b := range light.Bindings {
			if b.Slot == slot {
				light.Values[b.Alias] = value
			}
		}
	}
	c.broadcast(Delta{Type: "ok", Target: "set_channel"})
	return nil
}

// SetLight updates only the named channels of group/light. An unknown
// light is a no-op (spec.md §4.6).
func (c *Coordinator) SetLight(group, light string, values map[string]int) error {
	state := c.cat.Light(group, light)
	if state == nil {
		return nil
	}
	for _, b := range state.Bindings {
		v, ok := values[b.Alias]
		if !ok {
			continue
		}
		if err := c.SetChannel(b.Slot, clampByte(v)); err != nil {
			return err
		}
	}
	c.broadcast(Delta{Type: "light", Target: group + "/" + light, Data: snapshotLight(state)})
	return nil
}

// SetGroup iterates every light in group; per-light failures are logged,
// not fatal (spec.md §4.6).
func (c *Coordinator) SetGroup(group string, values map[string]int) {
	for _, light := range c.cat.LightsIn(group) {
		if err := c.SetLight(group, light, values); err != nil {
			c.log.WithError(err).WithField("group", group).WithField("light", light).
				Warn("coordinator: set_group: per-light failure, continuing")
		}
	}
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// Status is the JSON-serializable snapshot returned over every protocol.
type Status struct {
	Enabled bool `json:"enabled"`
}

// Catalogue returns the coordinator's underlying light catalogue, so
// protocol handlers can answer "lights"/"groups" queries without keeping
// their own reference to it.
func (c *Coordinator) Catalogue() *catalogue.Catalogue {
	return c.cat
}

// Status returns a read-only snapshot under the mirror's reader lock.
func (c *Coordinator) Status() Status {
	c.mirrorMu.RLock()
	defer c.mirrorMu.RUnlock()
	return Status{Enabled: c.enabled}
}

// FrameRateFPS polls the peer for its current frame rate, for the metrics
// façade's frame_rate_fps gauge (spec.md §7, §9). It runs through the same
// throttled peer call path as every other peer invocation.
func (c *Coordinator) FrameRateFPS() (float64, error) {
	var st client.Status
	if err := c.callPeer(func() error {
		var err error
		st, err = c.peer.Status()
		return err
	}); err != nil {
		return 0, err
	}
	return float64(st.FpsX100) / 100, nil
}

// DroppedDeltas returns the total number of broadcast deltas dropped across
// all subscribers due to a full queue, for the metrics façade's
// subscriber-drop counter (spec.md §6, §9).
func (c *Coordinator) DroppedDeltas() uint64 {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	var total uint64
	for _, sub := range c.subs {
		total += sub.dropped
	}
	return total
}

// Channels returns a copy of the 512-slot mirror (callers may hold it
// indefinitely; it is a copy, not a reference into live state).
func (c *Coordinator) Channels() [512]byte {
	c.mirrorMu.RLock()
	defer c.mirrorMu.RUnlock()
	return c.channels
}

func snapshotLight(s *catalogue.LightState) map[string]byte {
	out := make(map[string]byte, len(s.Values))
	for k, v := range s.Values {
		out[k] = v
	}
	return out
}

// Subscribe registers a new delta sink and returns its id and channel.
// Callers MUST eventually Unsubscribe.
func (c *Coordinator) Subscribe() (int, <-chan []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	c.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a previously registered subscriber.
func (c *Coordinator) Unsubscribe(id int) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sub, ok := c.subs[id]; ok {
		close(sub.ch)
		delete(c.subs, id)
	}
}

// broadcast serializes delta once and fans it out with non-blocking sends;
// a full subscriber queue is skipped and counted, never blocked on
// (spec.md §4.6, §9).
func (c *Coordinator) broadcast(delta Delta) {
	c.mirrorMu.RLock()
	payload, err := json.Marshal(delta)
	c.mirrorMu.RUnlock()
	if err != nil {
		c.log.WithError(err).Error("coordinator: failed to marshal broadcast delta")
		return
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subs {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped++
		}
	}
}

// Snapshot builds the full-state payload sent as the WS "init" frame and
// re-broadcast by the periodic refresh.
func (c *Coordinator) Snapshot() Delta {
	channels := c.Channels()
	return Delta{Type: "status", Data: struct {
		Enabled  bool    `json:"enabled"`
		Channels [512]byte `json:"channels"`
	}{Enabled: c.Status().Enabled, Channels: channels}}
}

// StartRefresh launches the optional periodic refresh (spec.md §4.6): every
// interval it re-broadcasts the current snapshot and, if enabled, re-pushes
// every channel value downstream to defend against a peer restart.
func (c *Coordinator) StartRefresh(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.refreshStop = make(chan struct{})
	c.refreshDone = make(chan struct{})
	go func() {
		defer close(c.refreshDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.refreshStop:
				return
			case <-ticker.C:
				c.broadcast(c.Snapshot())
				if c.Status().Enabled {
					c.rePushAll()
				}
			}
		}
	}()
}

// StopRefresh halts the periodic refresh, if running, and waits for it to
// exit. Part of the shutdown ordering in spec.md §5.
func (c *Coordinator) StopRefresh(ctx context.Context) {
	if c.refreshStop == nil {
		return
	}
	close(c.refreshStop)
	select {
	case <-c.refreshDone:
	case <-ctx.Done():
	}
}

func (c *Coordinator) rePushAll() {
	channels := c.Channels()
	if err := c.callPeer(func() error {
		return c.peer.SetChannels(0, channels[:])
	}); err != nil {
		c.log.WithError(err).Warn("coordinator: periodic refresh re-push failed")
	}
}
