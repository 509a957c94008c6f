// Package config loads and validates the gateway's YAML configuration file
// (spec.md §6). Validation failures here are the only Fatal-class errors in
// the system (spec.md §7) — they occur at startup only.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pierrejay/dmxgateway/internal/catalogue"
)

// Config is the parsed, not-yet-validated shape of the YAML file.
type Config struct {
	Server struct {
		HTTPAddr   string `yaml:"http_addr"`
		WSAddr     string `yaml:"ws_addr"`
		ModbusAddr string `yaml:"modbus_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	Client struct {
		Device     string `yaml:"device"`
		ThrottleMs int    `yaml:"throttle_ms"`
		TimeoutMs  int    `yaml:"timeout_ms"`
	} `yaml:"client"`

	RefreshMs  int  `yaml:"refresh_ms"`
	AutoEnable bool `yaml:"auto_enable"`

	Catalogue []struct {
		Group    string `yaml:"group"`
		Light    string `yaml:"light"`
		Channels []struct {
			Ch    int    `yaml:"ch"`
			Color string `yaml:"color"`
			Name  string `yaml:"name"`
		} `yaml:"channels"`
	} `yaml:"catalogue"`

	Modbus *struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"modbus"`

	MQTT *struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"`
		Prefix   string `yaml:"prefix"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`

	Schedule []struct {
		Time   string         `yaml:"time"`
		Action string         `yaml:"action"` // "blackout" | "set"
		Target string         `yaml:"target"` // "group" or "group/light"
		Values map[string]int `yaml:"values"`
	} `yaml:"schedule"`

	Timezone string `yaml:"timezone"`
}

// Resolved is the validated, ready-to-use configuration the rest of the
// gateway consumes. Catalogue is fully built; Location is parsed.
type Resolved struct {
	HTTPAddr    string
	WSAddr      string
	ModbusAddr  string
	MetricsAddr string

	Device     string
	ThrottleMs int
	TimeoutMs  int
	RefreshMs  int
	AutoEnable bool

	Catalogue *catalogue.Catalogue

	ModbusEnabled bool

	MQTTEnabled bool
	MQTTBroker  string
	MQTTPrefix  string
	MQTTClientID string

	Schedule []ScheduleEntry
	Location *time.Location
}

// ScheduleEntry is one parsed-but-not-yet-time-parsed schedule line; the
// scheduler package parses Time into a time-of-day at construction.
type ScheduleEntry struct {
	Time   string
	Action string
	Target string
	Values map[string]int
}

// Load reads, unmarshals, and validates path, returning a Resolved
// configuration or a Fatal-class error describing the first problem found.
func Load(path string) (*Resolved, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return resolve(&cfg)
}

func resolve(cfg *Config) (*Resolved, error) {
	if cfg.Client.Device == "" {
		return nil, fmt.Errorf("config: client.device is required")
	}
	if cfg.Client.ThrottleMs < 0 || cfg.Client.TimeoutMs <= 0 {
		return nil, fmt.Errorf("config: client.throttle_ms/timeout_ms must be non-negative/positive")
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("config: invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	var specs []catalogue.LightSpec
	for _, l := range cfg.Catalogue {
		spec := catalogue.LightSpec{Group: l.Group, Light: l.Light}
		for _, ch := range l.Channels {
			spec.Channels = append(spec.Channels, catalogue.ChannelBindingSpec{
				Slot: ch.Ch, Color: ch.Color, Alias: ch.Name,
			})
		}
		specs = append(specs, spec)
	}
	cat, err := catalogue.Build(specs, nil)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	out := &Resolved{
		HTTPAddr:    cfg.Server.HTTPAddr,
		WSAddr:      cfg.Server.WSAddr,
		ModbusAddr:  cfg.Server.ModbusAddr,
		MetricsAddr: cfg.Server.MetricsAddr,
		Device:      cfg.Client.Device,
		ThrottleMs:  cfg.Client.ThrottleMs,
		TimeoutMs:   cfg.Client.TimeoutMs,
		RefreshMs:   cfg.RefreshMs,
		AutoEnable:  cfg.AutoEnable,
		Catalogue:   cat,
		Location:    loc,
	}

	if cfg.Modbus != nil {
		out.ModbusEnabled = cfg.Modbus.Enabled
	}
	if cfg.MQTT != nil {
		out.MQTTEnabled = cfg.MQTT.Enabled
		out.MQTTBroker = cfg.MQTT.Broker
		out.MQTTPrefix = cfg.MQTT.Prefix
		out.MQTTClientID = cfg.MQTT.ClientID
	}
	for _, s := range cfg.Schedule {
		values := make(map[string]int, len(s.Values))
		for k, v := range s.Values {
			values[k] = v
		}
		out.Schedule = append(out.Schedule, ScheduleEntry{
			Time: s.Time, Action: s.Action, Target: s.Target, Values: values,
		})
	}

	return out, nil
}
