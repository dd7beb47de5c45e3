package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Filter    FilterConfig    `yaml:"filter"`
	Bus       BusConfig       `yaml:"bus"`
	Recording RecordingConfig `yaml:"recording"`
	Display   DisplayConfig   `yaml:"display"`
	Log       LogConfig       `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Mock      MockConfig      `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port" validate:"required"`
	BaudRate int    `yaml:"baud_rate" validate:"gt=0"`
}

// FilterConfig contains the low-pass filter parameters.
type FilterConfig struct {
	TimeConstant time.Duration `yaml:"time_constant" validate:"gt=0"`
}

// BusConfig contains per-sink queue capacities.
type BusConfig struct {
	DisplayQueue   int `yaml:"display_queue" validate:"gt=0"`
	RecordingQueue int `yaml:"recording_queue" validate:"gt=0"`
	PublishQueue   int `yaml:"publish_queue" validate:"gt=0"`
}

// RecordingConfig contains CSV recording parameters.
type RecordingConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
}

// DisplayConfig contains display consumer parameters.
type DisplayConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	Window          time.Duration `yaml:"window" validate:"gt=0"`
	MaxPoints       int           `yaml:"max_points" validate:"gt=0"`
}

// LogConfig contains logging parameters.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	File  string `yaml:"file"` // Rotating log file, empty disables file logging
}

// MQTTConfig contains the optional live mirror parameters.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker" validate:"required_if=Enabled true"`
	Topic    string `yaml:"topic" validate:"required_if=Enabled true"`
	ClientID string `yaml:"client_id"`
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	SampleRate time.Duration `yaml:"sample_rate" validate:"gt=0"` // Line period
	Ambient    float64       `yaml:"ambient"`                     // Ambient temperature (°C)
	Setpoint   float64       `yaml:"setpoint"`                    // Controller setpoint (°C)
	Gain       float64       `yaml:"gain"`                        // Proportional gain (V/V)
	Noise      float64       `yaml:"noise"`                       // Temperature noise amplitude (°C)
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "COM4", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			BaudRate: 9600,
		},
		Filter: FilterConfig{
			TimeConstant: 5 * time.Second,
		},
		Bus: BusConfig{
			DisplayQueue:   64,
			RecordingQueue: 4096,
			PublishQueue:   256,
		},
		Recording: RecordingConfig{
			Path:          "dados.csv",
			FlushInterval: time.Second,
		},
		Display: DisplayConfig{
			RefreshInterval: 200 * time.Millisecond,
			Window:          10 * time.Minute,
			MaxPoints:       1000,
		},
		Log: LogConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			Topic:    "thermolog/samples",
			ClientID: "thermolog",
		},
		Mock: MockConfig{
			SampleRate: time.Second,
			Ambient:    22.0,
			Setpoint:   50.0,
			Gain:       8.0,
			Noise:      0.2,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Filter.TimeConstant == 0 {
		c.Filter.TimeConstant = def.Filter.TimeConstant
	}

	if c.Bus.DisplayQueue == 0 {
		c.Bus.DisplayQueue = def.Bus.DisplayQueue
	}
	if c.Bus.RecordingQueue == 0 {
		c.Bus.RecordingQueue = def.Bus.RecordingQueue
	}
	if c.Bus.PublishQueue == 0 {
		c.Bus.PublishQueue = def.Bus.PublishQueue
	}

	if c.Recording.FlushInterval == 0 {
		c.Recording.FlushInterval = def.Recording.FlushInterval
	}

	if c.Display.RefreshInterval == 0 {
		c.Display.RefreshInterval = def.Display.RefreshInterval
	}
	if c.Display.Window == 0 {
		c.Display.Window = def.Display.Window
	}
	if c.Display.MaxPoints == 0 {
		c.Display.MaxPoints = def.Display.MaxPoints
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
}
