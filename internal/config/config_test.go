package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyAppConfigDefaults(t *testing.T) {
	cfg := EmptyAppConfig()

	if cfg.GetSerialPort() != "" {
		t.Errorf("GetSerialPort() = %q, want empty", cfg.GetSerialPort())
	}
	if cfg.GetBaudRate() != 691200 {
		t.Errorf("GetBaudRate() = %d, want 691200", cfg.GetBaudRate())
	}
	if cfg.GetBroadcastAddr() != "127.0.0.1:65432" {
		t.Errorf("GetBroadcastAddr() = %q, want 127.0.0.1:65432", cfg.GetBroadcastAddr())
	}
	if cfg.GetBroadcastTimeout() != time.Second {
		t.Errorf("GetBroadcastTimeout() = %v, want 1s", cfg.GetBroadcastTimeout())
	}
	if cfg.GetListenAddr() != DefaultListenAddr {
		t.Errorf("GetListenAddr() = %q, want %q", cfg.GetListenAddr(), DefaultListenAddr)
	}
	if cfg.GetHistoryCapacity() != 1000 {
		t.Errorf("GetHistoryCapacity() = %d, want 1000", cfg.GetHistoryCapacity())
	}
	if cfg.GetSledCurrentMA() != 150 {
		t.Errorf("GetSledCurrentMA() = %d, want 150", cfg.GetSledCurrentMA())
	}
	if cfg.GetTempC() != 25 {
		t.Errorf("GetTempC() = %d, want 25", cfg.GetTempC())
	}
	if cfg.GetDevMode() {
		t.Error("GetDevMode() = true, want false")
	}
	if cfg.GetDBPath() != "" {
		t.Errorf("GetDBPath() = %q, want empty", cfg.GetDBPath())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate, got %v", err)
	}
}

func TestLoadAppConfig(t *testing.T) {
	path := writeConfig(t, "siphog.json", `{
  "serial_port": "/dev/ttyUSB0",
  "baud_rate": 115200,
  "sled_current_ma": 300,
  "temp_c": 30,
  "dev_mode": true,
  "broadcast_addr": "0.0.0.0:7000",
  "broadcast_timeout": "250ms",
  "listen_addr": ":9090",
  "history_capacity": 5000,
  "db_path": "telemetry.db"
}`)

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetSerialPort() != "/dev/ttyUSB0" {
		t.Errorf("GetSerialPort() = %q", cfg.GetSerialPort())
	}
	if cfg.GetBaudRate() != 115200 {
		t.Errorf("GetBaudRate() = %d, want 115200", cfg.GetBaudRate())
	}
	if cfg.GetSledCurrentMA() != 300 {
		t.Errorf("GetSledCurrentMA() = %d, want 300", cfg.GetSledCurrentMA())
	}
	if cfg.GetTempC() != 30 {
		t.Errorf("GetTempC() = %d, want 30", cfg.GetTempC())
	}
	if !cfg.GetDevMode() {
		t.Error("GetDevMode() = false, want true")
	}
	if cfg.GetBroadcastAddr() != "0.0.0.0:7000" {
		t.Errorf("GetBroadcastAddr() = %q", cfg.GetBroadcastAddr())
	}
	if cfg.GetBroadcastTimeout() != 250*time.Millisecond {
		t.Errorf("GetBroadcastTimeout() = %v, want 250ms", cfg.GetBroadcastTimeout())
	}
	if cfg.GetListenAddr() != ":9090" {
		t.Errorf("GetListenAddr() = %q", cfg.GetListenAddr())
	}
	if cfg.GetHistoryCapacity() != 5000 {
		t.Errorf("GetHistoryCapacity() = %d, want 5000", cfg.GetHistoryCapacity())
	}
	if cfg.GetDBPath() != "telemetry.db" {
		t.Errorf("GetDBPath() = %q", cfg.GetDBPath())
	}
}

func TestLoadAppConfig_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"temp_c": 40}`)

	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetTempC() != 40 {
		t.Errorf("GetTempC() = %d, want 40", cfg.GetTempC())
	}
	if cfg.GetSledCurrentMA() != DefaultSledCurrentMA {
		t.Errorf("GetSledCurrentMA() = %d, want default", cfg.GetSledCurrentMA())
	}
	if cfg.GetBaudRate() != DefaultBaudRate {
		t.Errorf("GetBaudRate() = %d, want default", cfg.GetBaudRate())
	}
}

func TestLoadAppConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "siphog.yaml", `{}`, "must have .json extension"},
		{"bad json", "bad.json", `{"temp_c": }`, "failed to parse config JSON"},
		{"current too high", "c.json", `{"sled_current_ma": 501}`, "sled_current_ma must be between 0 and 500"},
		{"current negative", "c.json", `{"sled_current_ma": -1}`, "sled_current_ma must be between 0 and 500"},
		{"temp too high", "t.json", `{"temp_c": 51}`, "temp_c must be between 0 and 50"},
		{"zero capacity", "h.json", `{"history_capacity": 0}`, "history_capacity must be at least 1"},
		{"bad baud", "b.json", `{"baud_rate": 0}`, "baud_rate must be positive"},
		{"bad broadcast addr", "a.json", `{"broadcast_addr": "localhost"}`, "invalid broadcast_addr"},
		{"bad listen addr", "l.json", `{"listen_addr": "8080"}`, "invalid listen_addr"},
		{"bad timeout", "d.json", `{"broadcast_timeout": "soon"}`, "invalid broadcast_timeout"},
		{"negative timeout", "d.json", `{"broadcast_timeout": "-1s"}`, "broadcast_timeout must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadAppConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAppConfig_BoundaryValues(t *testing.T) {
	path := writeConfig(t, "edges.json", `{"sled_current_ma": 500, "temp_c": 0, "history_capacity": 1}`)
	cfg, err := LoadAppConfig(path)
	if err != nil {
		t.Fatalf("boundary values should be accepted: %v", err)
	}
	if cfg.GetSledCurrentMA() != 500 || cfg.GetTempC() != 0 || cfg.GetHistoryCapacity() != 1 {
		t.Errorf("unexpected values: %d mA, %d C, capacity %d",
			cfg.GetSledCurrentMA(), cfg.GetTempC(), cfg.GetHistoryCapacity())
	}
}

func TestLoadAppConfig_MissingFile(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to stat config file") {
		t.Errorf("expected stat error, got %v", err)
	}
}

func TestLoadAppConfig_TooLarge(t *testing.T) {
	body := `{"db_path": "` + strings.Repeat("x", 1024*1024) + `"}`
	path := writeConfig(t, "huge.json", body)
	_, err := LoadAppConfig(path)
	if err == nil || !strings.Contains(err.Error(), "config file too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestGetBroadcastTimeout_InvalidFallsBack(t *testing.T) {
	cfg := &AppConfig{BroadcastTimeout: ptrString("nope")}
	if cfg.GetBroadcastTimeout() != DefaultBroadcastTimeout {
		t.Errorf("GetBroadcastTimeout() = %v, want default", cfg.GetBroadcastTimeout())
	}
}

func TestOverride(t *testing.T) {
	base := &AppConfig{
		SerialPort:    ptrString("/dev/ttyUSB0"),
		SledCurrentMA: ptrInt(100),
		TempC:         ptrInt(20),
	}
	flags := EmptyAppConfig()
	flags.SetSledCurrentMA(250)
	flags.SetDevMode(true)
	flags.SetBroadcastAddr("127.0.0.1:7000")

	base.Override(flags)

	if base.GetSerialPort() != "/dev/ttyUSB0" {
		t.Errorf("unset override should keep file value, got %q", base.GetSerialPort())
	}
	if base.GetSledCurrentMA() != 250 {
		t.Errorf("GetSledCurrentMA() = %d, want 250", base.GetSledCurrentMA())
	}
	if base.GetTempC() != 20 {
		t.Errorf("GetTempC() = %d, want 20", base.GetTempC())
	}
	if !base.GetDevMode() {
		t.Error("GetDevMode() = false, want true")
	}
	if base.GetBroadcastAddr() != "127.0.0.1:7000" {
		t.Errorf("GetBroadcastAddr() = %q", base.GetBroadcastAddr())
	}

	// overriding copies values rather than sharing pointers
	flags.SetSledCurrentMA(1)
	if base.GetSledCurrentMA() != 250 {
		t.Errorf("override should not alias flag storage, got %d", base.GetSledCurrentMA())
	}

	base.Override(nil)
	if base.GetSledCurrentMA() != 250 {
		t.Errorf("Override(nil) changed config")
	}
}
