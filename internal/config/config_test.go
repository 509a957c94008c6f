package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
server:
  http_addr: ":8080"
  ws_addr: ":8081"
client:
  device: /dev/ttyRPMSG0
  throttle_ms: 20
  timeout_ms: 1000
refresh_ms: 500
auto_enable: true
timezone: UTC
catalogue:
  - group: stage
    light: wash-1
    channels:
      - {ch: 1, color: red}
      - {ch: 2, color: green}
mqtt:
  enabled: true
  broker: tcp://localhost:1883
  prefix: dmx
schedule:
  - time: "22:00"
    action: blackout
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesCatalogueAndMQTT(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device != "/dev/ttyRPMSG0" {
		t.Fatalf("device = %q", cfg.Device)
	}
	if !cfg.MQTTEnabled || cfg.MQTTBroker != "tcp://localhost:1883" {
		t.Fatalf("mqtt = %+v", cfg)
	}
	if cfg.Catalogue.Light("stage", "wash-1") == nil {
		t.Fatal("expected wash-1 to be built into catalogue")
	}
	if len(cfg.Schedule) != 1 || cfg.Schedule[0].Action != "blackout" {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
}

func TestLoadRejectsMissingDevice(t *testing.T) {
	path := writeConfig(t, "client:\n  timeout_ms: 1000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing client.device")
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	path := writeConfig(t, "client:\n  device: /dev/ttyRPMSG0\n  timeout_ms: 1000\ntimezone: Nowhere/Place\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoadRejectsNegativeThrottle(t *testing.T) {
	path := writeConfig(t, "client:\n  device: /dev/ttyRPMSG0\n  throttle_ms: -1\n  timeout_ms: 1000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative throttle_ms")
	}
}
