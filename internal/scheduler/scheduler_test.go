package scheduler

import (
	"testing"
	"time"

	"github.com/pierrejay/dmxgateway/internal/config"
)

type fakeTarget struct {
	blackouts int
	groups    []string
	lights    []string
}

func (f *fakeTarget) Blackout() error { f.blackouts++; return nil }
func (f *fakeTarget) SetGroup(group string, values map[string]int) {
	f.groups = append(f.groups, group)
}
func (f *fakeTarget) SetLight(group, light string, values map[string]int) error {
	f.lights = append(f.lights, group+"/"+light)
	return nil
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in          string
		h, m, s     int
		expectError bool
	}{
		{"08:30", 8, 30, 0, false},
		{"23:59:59", 23, 59, 59, false},
		{"24:00", 0, 0, 0, true},
		{"bad", 0, 0, 0, true},
	}
	for _, c := range cases {
		h, m, s, err := parseTimeOfDay(c.in)
		if c.expectError {
			if err == nil {
				t.Errorf("parseTimeOfDay(%q): expected error", c.in)
			}
			continue
		}
		if err != nil || h != c.h || m != c.m || s != c.s {
			t.Errorf("parseTimeOfDay(%q) = %d:%d:%d, %v; want %d:%d:%d", c.in, h, m, s, err, c.h, c.m, c.s)
		}
	}
}

func TestTickFiresEventOnceAtMatchingSecond(t *testing.T) {
	target := &fakeTarget{}
	entries := []config.ScheduleEntry{{Time: "08:30:00", Action: "blackout"}}
	s, err := New(entries, time.UTC, target, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	at := time.Date(2026, 7, 29, 8, 30, 0, 0, time.UTC)
	s.tick(at)
	s.tick(at) // same second again: must not double-fire
	if target.blackouts != 1 {
		t.Fatalf("blackouts = %d, want 1", target.blackouts)
	}
}

func TestNextEventWrapsToTomorrow(t *testing.T) {
	target := &fakeTarget{}
	entries := []config.ScheduleEntry{{Time: "08:00", Action: "blackout"}}
	s, err := New(entries, time.UTC, target, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	late := time.Date(2026, 7, 29, 23, 0, 0, 0, time.UTC)
	ev, ok := s.NextEvent(late)
	if !ok || ev.Hour != 8 {
		t.Fatalf("NextEvent = %+v, %v; want wraparound to 08:00", ev, ok)
	}
}

func TestFireSetTargetsLightOrGroup(t *testing.T) {
	target := &fakeTarget{}
	entries := []config.ScheduleEntry{
		{Time: "09:00:00", Action: "set", Target: "stage/par1", Values: map[string]int{"red": 255}},
		{Time: "09:00:01", Action: "set", Target: "stage", Values: map[string]int{"red": 128}},
	}
	s, err := New(entries, time.UTC, target, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.fire(s.events[0])
	s.fire(s.events[1])
	if len(target.lights) != 1 || target.lights[0] != "stage/par1" {
		t.Fatalf("lights = %v, want [stage/par1]", target.lights)
	}
	if len(target.groups) != 1 || target.groups[0] != "stage" {
		t.Fatalf("groups = %v, want [stage]", target.groups)
	}
}
