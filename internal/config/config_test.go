package config

import (
	"log/slog"
	"testing"
	"time"
)

var allKeys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR", "GRPC_ADDR", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"SIM_ENABLED", "SIM_START_TIME", "SIM_SPEED", "SIM_RESET_DB",
	"DB_DSN", "SQLITE_PATH", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_LOG_SQL",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_CLIENT_ID", "MQTT_TELEMETRY_TOPIC", "MQTT_COMMAND_TOPIC_PREFIX",
	"NODE_ID", "NODE_NAME", "NODE_LOCATION", "NODE_LATITUDE", "NODE_LONGITUDE", "NODE_PUBLIC_URL", "CENTRAL_URL",
	"RULE_TICK", "HEARTBEAT_INTERVAL", "DELIVERY_MODE", "DELIVERY_POLL", "DEFAULT_INTERVAL_MINUTES",
	"DISCOVERY_INTERVAL", "NODE_OFFLINE_AFTER", "NODE_QUERY_TIMEOUT", "NODE_PROBE_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadNodeFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadNodeFromEnv()
	if err != nil {
		t.Fatalf("LoadNodeFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want dev", got.AppEnv)
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", got.LogLevel)
	}
	if got.NodeID != "1" || got.Name != "Local Node 1" {
		t.Errorf("identity = %q/%q", got.NodeID, got.Name)
	}
	if got.CentralURL != "" {
		t.Errorf("CentralURL = %q, want empty", got.CentralURL)
	}
	if got.RuleTick != 10*time.Second || got.HeartbeatInterval != 120*time.Second || got.DeliveryPoll != time.Second {
		t.Errorf("timings = %s/%s/%s", got.RuleTick, got.HeartbeatInterval, got.DeliveryPoll)
	}
	if got.DeliveryMode != "mailbox" {
		t.Errorf("DeliveryMode = %q, want mailbox", got.DeliveryMode)
	}
	if got.DefaultIntervalMinutes != 15 {
		t.Errorf("DefaultIntervalMinutes = %v, want 15", got.DefaultIntervalMinutes)
	}
	if got.Latitude != nil || got.Longitude != nil {
		t.Error("coordinates should be unset")
	}
	if got.MQTT.Enabled() {
		t.Error("MQTT should be disabled without a broker")
	}
	if got.Simulation.Enabled || got.Simulation.Speed != 1 {
		t.Errorf("Simulation = %+v", got.Simulation)
	}
}

func TestLoadNodeFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_ID", "7")
	t.Setenv("NODE_LATITUDE", "47.37")
	t.Setenv("NODE_LONGITUDE", " 8.54 ")
	t.Setenv("CENTRAL_URL", "https://central:5000")
	t.Setenv("DELIVERY_MODE", "Shared")
	t.Setenv("SIM_ENABLED", "true")
	t.Setenv("SIM_SPEED", "60")
	t.Setenv("SIM_START_TIME", "2025-08-30T00:00:00Z")
	t.Setenv("MQTT_BROKER", "mosquitto")

	got, err := LoadNodeFromEnv()
	if err != nil {
		t.Fatalf("LoadNodeFromEnv() error = %v", err)
	}
	if got.Name != "Local Node 7" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Latitude == nil || *got.Latitude != 47.37 || got.Longitude == nil || *got.Longitude != 8.54 {
		t.Errorf("coordinates = %v/%v", got.Latitude, got.Longitude)
	}
	if got.DeliveryMode != "shared" {
		t.Errorf("DeliveryMode = %q", got.DeliveryMode)
	}
	if !got.Simulation.Enabled || got.Simulation.Speed != 60 {
		t.Errorf("Simulation = %+v", got.Simulation)
	}
	if !got.Simulation.StartTime.Equal(time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %s", got.Simulation.StartTime)
	}
	if !got.MQTT.Enabled() || got.MQTT.Port != 1883 {
		t.Errorf("MQTT = %+v", got.MQTT)
	}
}

func TestLoadNodeFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"app env", "APP_ENV", "staging"},
		{"uppercase app env", "APP_ENV", "DEV"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"latitude", "NODE_LATITUDE", "north"},
		{"rule tick", "RULE_TICK", "10"},
		{"delivery mode", "DELIVERY_MODE", "queue"},
		{"interval", "DEFAULT_INTERVAL_MINUTES", "0"},
		{"sim speed", "SIM_SPEED", "fast"},
		{"sim start", "SIM_START_TIME", "yesterday"},
		{"sim enabled", "SIM_ENABLED", "maybe"},
		{"mqtt port", "MQTT_PORT", "x"},
		{"tls half configured", "TLS_CERT_FILE", "cert.pem"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := LoadNodeFromEnv(); err == nil {
				t.Fatalf("LoadNodeFromEnv() error = nil with %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoadSimulation_nonPositiveSpeed(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIM_SPEED", "-2")
	got, err := LoadCentralFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if got.Simulation.Speed != 1 {
		t.Errorf("Speed = %v, want 1", got.Simulation.Speed)
	}
}

func TestLoadCentralFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	got, err := LoadCentralFromEnv()
	if err != nil {
		t.Fatalf("LoadCentralFromEnv() error = %v", err)
	}
	if got.HTTPAddr != ":8080" || got.GRPCAddr != ":5000" {
		t.Errorf("addrs = %q/%q", got.HTTPAddr, got.GRPCAddr)
	}
	if got.DiscoveryInterval != time.Minute || got.NodeOfflineAfter != 5*time.Minute {
		t.Errorf("discovery = %s, offline after = %s", got.DiscoveryInterval, got.NodeOfflineAfter)
	}
	if got.NodeQueryTimeout != 30*time.Second || got.NodeProbeTimeout != 15*time.Second {
		t.Errorf("timeouts = %s/%s", got.NodeQueryTimeout, got.NodeProbeTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
