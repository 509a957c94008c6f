// Package scheduler implements the wall-clock event loop (spec.md §4.7):
// config-declared HH:MM[:SS] events, sorted by time-of-day, fired at 1 s
// resolution against the coordinator's public API.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/pierrejay/dmxgateway/internal/config"
)

// Target is the subset of coordinator.Coordinator the scheduler drives.
type Target interface {
	Blackout() error
	SetGroup(group string, values map[string]int)
	SetLight(group, light string, values map[string]int) error
}

// Event is one parsed schedule entry: a time-of-day plus an action.
type Event struct {
	Label    string
	Hour     int
	Minute   int
	Second   int
	Action   string // "blackout" | "set"
	Target   string // "group" or "group/light"
	Values   map[string]int
}

// secondsOfDay returns the event's time-of-day in seconds, for sorting and
// for comparison against the current wall clock.
func (e Event) secondsOfDay() int {
	return e.Hour*3600 + e.Minute*60 + e.Second
}

// Scheduler owns the sorted event list and the last-fired label, so a
// 1-second ticker tick never double-fires the same event within its own
// second.
type Scheduler struct {
	events    []Event
	loc       *time.Location
	target    Target
	log       *log.Entry
	lastLabel string

	stop chan struct{}
	done chan struct{}
}

// New parses cfg.Schedule entries into sorted Events.
func New(entries []config.ScheduleEntry, loc *time.Location, target Target, logger *log.Entry) (*Scheduler, error) {
	if logger == nil {
		logger = log.WithField("component", "scheduler")
	}
	events := make([]Event, 0, len(entries))
	for i, e := range entries {
		h, m, s, err := parseTimeOfDay(e.Time)
		if err != nil {
			return nil, fmt.Errorf("scheduler: entry %d: %w", i, err)
		}
		events = append(events, Event{
			Label:  fmt.Sprintf("%02d:%02d:%02d/%s/%s/%d", h, m, s, e.Action, e.Target, i),
			Hour:   h, Minute: m, Second: s,
			Action: e.Action, Target: e.Target, Values: e.Values,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].secondsOfDay() < events[j].secondsOfDay() })
	for i := 1; i < len(events); i++ {
		if events[i].secondsOfDay() == events[i-1].secondsOfDay() {
			return nil, fmt.Errorf("scheduler: events %s and %s share the same time of day", events[i-1].Label, events[i].Label)
		}
	}
	return &Scheduler{events: events, loc: loc, target: target, log: logger}, nil
}

// parseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func parseTimeOfDay(s string) (h, m, sec int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid time %q, want HH:MM or HH:MM:SS", s)
	}
	h, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return h, m, sec, nil
}

// Run starts the 1-second ticker loop; it returns once ctx is cancelled or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now.In(s.loc))
		}
	}
}

// Stop halts Run and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(now time.Time) {
	nowSeconds := now.Hour()*3600 + now.Minute()*60 + now.Second()
	for _, e := range s.events {
		if e.secondsOfDay() != nowSeconds {
			continue
		}
		if e.Label == s.lastLabel {
			continue
		}
		s.fire(e)
		s.lastLabel = e.Label
	}
}

func (s *Scheduler) fire(e Event) {
	switch e.Action {
	case "blackout":
		if err := s.target.Blackout(); err != nil {
			s.log.WithError(err).WithField("event", e.Label).Warn("scheduler: blackout failed")
		}
	case "set":
		group, light, hasLight := strings.Cut(e.Target, "/")
		if hasLight {
			if err := s.target.SetLight(group, light, e.Values); err != nil {
				s.log.WithError(err).WithField("event", e.Label).Warn("scheduler: set_light failed")
			}
		} else {
			s.target.SetGroup(e.Target, e.Values)
		}
	default:
		s.log.WithField("event", e.Label).WithField("action", e.Action).Warn("scheduler: unknown action")
	}
}

// NextEvent returns the nearest future event relative to now, wrapping to
// tomorrow's first event when all of today's have fired.
func (s *Scheduler) NextEvent(now time.Time) (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	now = now.In(s.loc)
	nowSeconds := now.Hour()*3600 + now.Minute()*60 + now.Second()
	for _, e := range s.events {
		if e.secondsOfDay() > nowSeconds {
			return e, true
		}
	}
	return s.events[0], true
}
