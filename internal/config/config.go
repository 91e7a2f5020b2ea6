package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/siphog/internal/siphog"
)

const (
	DefaultBaudRate         = 691200
	DefaultBroadcastAddr    = "127.0.0.1:65432"
	DefaultListenAddr       = "localhost:8080"
	DefaultHistoryCapacity  = 1000
	DefaultSledCurrentMA    = 150
	DefaultTempC            = 25
	DefaultBroadcastTimeout = time.Second
)

// AppConfig is the startup configuration. Every field is optional; the Get*
// accessors supply defaults so a partial file is safe. Command-line flags
// override whatever the file sets.
type AppConfig struct {
	// Device
	SerialPort    *string `json:"serial_port,omitempty"`
	BaudRate      *int    `json:"baud_rate,omitempty"`
	SledCurrentMA *int    `json:"sled_current_ma,omitempty"`
	TempC         *int    `json:"temp_c,omitempty"`
	DevMode       *bool   `json:"dev_mode,omitempty"`

	// Broadcast server
	BroadcastAddr    *string `json:"broadcast_addr,omitempty"`
	BroadcastTimeout *string `json:"broadcast_timeout,omitempty"` // duration string like "1s"

	// Debug HTTP listener
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Storage
	HistoryCapacity *int    `json:"history_capacity,omitempty"`
	DBPath          *string `json:"db_path,omitempty"` // empty disables recording
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyAppConfig returns an AppConfig with all fields set to nil.
func EmptyAppConfig() *AppConfig {
	return &AppConfig{}
}

// LoadAppConfig loads an AppConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
func LoadAppConfig(path string) (*AppConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAppConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AppConfig) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	if c.SledCurrentMA != nil {
		if *c.SledCurrentMA < siphog.MinSledCurrentMA || *c.SledCurrentMA > siphog.MaxSledCurrentMA {
			return fmt.Errorf("sled_current_ma must be between %d and %d, got %d",
				siphog.MinSledCurrentMA, siphog.MaxSledCurrentMA, *c.SledCurrentMA)
		}
	}

	if c.TempC != nil {
		if *c.TempC < siphog.MinTempC || *c.TempC > siphog.MaxTempC {
			return fmt.Errorf("temp_c must be between %d and %d, got %d", siphog.MinTempC, siphog.MaxTempC, *c.TempC)
		}
	}

	if c.HistoryCapacity != nil && *c.HistoryCapacity < 1 {
		return fmt.Errorf("history_capacity must be at least 1, got %d", *c.HistoryCapacity)
	}

	if c.BroadcastAddr != nil {
		if _, _, err := net.SplitHostPort(*c.BroadcastAddr); err != nil {
			return fmt.Errorf("invalid broadcast_addr '%s': %w", *c.BroadcastAddr, err)
		}
	}

	if c.ListenAddr != nil {
		if _, _, err := net.SplitHostPort(*c.ListenAddr); err != nil {
			return fmt.Errorf("invalid listen_addr '%s': %w", *c.ListenAddr, err)
		}
	}

	if c.BroadcastTimeout != nil && *c.BroadcastTimeout != "" {
		d, err := time.ParseDuration(*c.BroadcastTimeout)
		if err != nil {
			return fmt.Errorf("invalid broadcast_timeout '%s': %w", *c.BroadcastTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("broadcast_timeout must be positive, got %s", d)
		}
	}

	return nil
}

// GetSerialPort returns the serial_port value, or "" when unset.
func (c *AppConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *AppConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetSledCurrentMA returns the sled_current_ma value or the default.
func (c *AppConfig) GetSledCurrentMA() int {
	if c.SledCurrentMA == nil {
		return DefaultSledCurrentMA
	}
	return *c.SledCurrentMA
}

// GetTempC returns the temp_c value or the default.
func (c *AppConfig) GetTempC() int {
	if c.TempC == nil {
		return DefaultTempC
	}
	return *c.TempC
}

// GetDevMode returns the dev_mode value or the default.
func (c *AppConfig) GetDevMode() bool {
	if c.DevMode == nil {
		return false
	}
	return *c.DevMode
}

// GetBroadcastAddr returns the broadcast_addr value or the default.
func (c *AppConfig) GetBroadcastAddr() string {
	if c.BroadcastAddr == nil || *c.BroadcastAddr == "" {
		return DefaultBroadcastAddr
	}
	return *c.BroadcastAddr
}

// GetBroadcastTimeout parses and returns the BroadcastTimeout as a time.Duration.
func (c *AppConfig) GetBroadcastTimeout() time.Duration {
	if c.BroadcastTimeout == nil || *c.BroadcastTimeout == "" {
		return DefaultBroadcastTimeout
	}
	d, err := time.ParseDuration(*c.BroadcastTimeout)
	if err != nil || d <= 0 {
		return DefaultBroadcastTimeout // default on parse error
	}
	return d
}

// GetListenAddr returns the listen_addr value or the default.
func (c *AppConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return DefaultListenAddr
	}
	return *c.ListenAddr
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *AppConfig) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return DefaultHistoryCapacity
	}
	return *c.HistoryCapacity
}

// GetDBPath returns the db_path value, or "" when recording is disabled.
func (c *AppConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// Override applies non-nil fields from o on top of c. The CLI uses it to
// layer explicitly set flags over the file.
func (c *AppConfig) Override(o *AppConfig) {
	if o == nil {
		return
	}
	if o.SerialPort != nil {
		c.SerialPort = ptrString(*o.SerialPort)
	}
	if o.BaudRate != nil {
		c.BaudRate = ptrInt(*o.BaudRate)
	}
	if o.SledCurrentMA != nil {
		c.SledCurrentMA = ptrInt(*o.SledCurrentMA)
	}
	if o.TempC != nil {
		c.TempC = ptrInt(*o.TempC)
	}
	if o.DevMode != nil {
		c.DevMode = ptrBool(*o.DevMode)
	}
	if o.BroadcastAddr != nil {
		c.BroadcastAddr = ptrString(*o.BroadcastAddr)
	}
	if o.BroadcastTimeout != nil {
		c.BroadcastTimeout = ptrString(*o.BroadcastTimeout)
	}
	if o.ListenAddr != nil {
		c.ListenAddr = ptrString(*o.ListenAddr)
	}
	if o.HistoryCapacity != nil {
		c.HistoryCapacity = ptrInt(*o.HistoryCapacity)
	}
	if o.DBPath != nil {
		c.DBPath = ptrString(*o.DBPath)
	}
}

// Set helpers used by flag wiring.

func (c *AppConfig) SetSerialPort(v string)    { c.SerialPort = ptrString(v) }
func (c *AppConfig) SetBaudRate(v int)         { c.BaudRate = ptrInt(v) }
func (c *AppConfig) SetSledCurrentMA(v int)    { c.SledCurrentMA = ptrInt(v) }
func (c *AppConfig) SetTempC(v int)            { c.TempC = ptrInt(v) }
func (c *AppConfig) SetDevMode(v bool)         { c.DevMode = ptrBool(v) }
func (c *AppConfig) SetBroadcastAddr(v string) { c.BroadcastAddr = ptrString(v) }
func (c *AppConfig) SetListenAddr(v string)    { c.ListenAddr = ptrString(v) }
func (c *AppConfig) SetHistoryCapacity(v int)  { c.HistoryCapacity = ptrInt(v) }
func (c *AppConfig) SetDBPath(v string)        { c.DBPath = ptrString(v) }
