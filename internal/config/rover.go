package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/seriallink"
)

// DefaultConfigPath is the path to the canonical rover defaults file.
const DefaultConfigPath = "config/rover.defaults.json"

// RoverConfig is the on-disk configuration. Every field is optional; the Get*
// methods supply the default for anything left out, so partial files are
// safe.
type RoverConfig struct {
	// Serial link to the sensor microcontroller
	SerialPort        *string `json:"serial_port,omitempty"`
	SerialBaudRate    *int    `json:"serial_baud_rate,omitempty"`
	SerialReadTimeout *string `json:"serial_read_timeout,omitempty"` // duration string like "1s"

	// Obstacle avoidance
	ObstacleCruiseSpeed    *float64 `json:"obstacle_cruise_speed,omitempty"`
	ObstacleManoeuvreSpeed *float64 `json:"obstacle_manoeuvre_speed,omitempty"`
	ObstacleHold           *string  `json:"obstacle_hold,omitempty"`

	// Line following
	LineCruiseSpeed *float64 `json:"line_cruise_speed,omitempty"`
	LineTurnSpeed   *float64 `json:"line_turn_speed,omitempty"`
	LineInterval    *string  `json:"line_interval,omitempty"`

	// Manual control
	JoystickID     *int     `json:"joystick_id,omitempty"`
	ToggleButton   *int     `json:"toggle_button,omitempty"`
	ForwardButton  *int     `json:"forward_button,omitempty"`
	BackwardButton *int     `json:"backward_button,omitempty"`
	SteerAxis      *int     `json:"steer_axis,omitempty"`
	Deadzone       *float64 `json:"deadzone,omitempty"`
	SlowSpeed      *float64 `json:"slow_speed,omitempty"`
	FastSpeed      *float64 `json:"fast_speed,omitempty"`
	ManualPoll     *string  `json:"manual_poll,omitempty"`

	// Orchestration
	JoinTimeout *string `json:"join_timeout,omitempty"`

	// Motor HAT
	I2CBus     *string `json:"i2c_bus,omitempty"`
	HATAddress *int    `json:"hat_address,omitempty"`

	// Services
	Listen        *string `json:"listen,omitempty"`
	GRPCListen    *string `json:"grpc_listen,omitempty"`
	DBPath        *string `json:"db_path,omitempty"`
	JournalBuffer *int    `json:"journal_buffer,omitempty"`

	// Camera signalling
	MQTTBroker      *string `json:"mqtt_broker,omitempty"`
	MQTTClientID    *string `json:"mqtt_client_id,omitempty"`
	MQTTUsername    *string `json:"mqtt_username,omitempty"`
	MQTTPassword    *string `json:"mqtt_password,omitempty"`
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
}

func ptrString(v string) *string { return &v }

// EmptyRoverConfig returns a RoverConfig with all fields unset.
func EmptyRoverConfig() *RoverConfig {
	return &RoverConfig{}
}

// LoadRoverConfig loads a RoverConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadRoverConfig(path string) (*RoverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyRoverConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *RoverConfig) Validate() error {
	speeds := map[string]*float64{
		"obstacle_cruise_speed":    c.ObstacleCruiseSpeed,
		"obstacle_manoeuvre_speed": c.ObstacleManoeuvreSpeed,
		"line_cruise_speed":        c.LineCruiseSpeed,
		"line_turn_speed":          c.LineTurnSpeed,
		"slow_speed":               c.SlowSpeed,
		"fast_speed":               c.FastSpeed,
	}
	for name, v := range speeds {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.Deadzone != nil && (*c.Deadzone < 0 || *c.Deadzone >= 1) {
		return fmt.Errorf("deadzone must be in [0, 1), got %f", *c.Deadzone)
	}

	durations := map[string]*string{
		"serial_read_timeout": c.SerialReadTimeout,
		"obstacle_hold":       c.ObstacleHold,
		"line_interval":       c.LineInterval,
		"manual_poll":         c.ManualPoll,
		"join_timeout":        c.JoinTimeout,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.JoinTimeout != nil && *c.JoinTimeout != "" && c.GetJoinTimeout() == 0 {
		return fmt.Errorf("join_timeout must be positive, got %s", *c.JoinTimeout)
	}
	if join, bound := c.GetJoinTimeout(), c.StopBound(); join <= bound {
		return fmt.Errorf("join_timeout %v must exceed the worst-case loop stop time %v", join, bound)
	}

	if c.SerialBaudRate != nil && *c.SerialBaudRate <= 0 {
		return fmt.Errorf("serial_baud_rate must be positive, got %d", *c.SerialBaudRate)
	}
	if c.JournalBuffer != nil && *c.JournalBuffer < 0 {
		return fmt.Errorf("journal_buffer must be non-negative, got %d", *c.JournalBuffer)
	}
	if c.HATAddress != nil && (*c.HATAddress < 0x03 || *c.HATAddress > 0x77) {
		return fmt.Errorf("hat_address 0x%x is not a 7-bit I2C address", *c.HATAddress)
	}
	return nil
}

func getString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetSerialPort returns the sensor serial device.
func (c *RoverConfig) GetSerialPort() string {
	return getString(c.SerialPort, seriallink.DefaultPortPath)
}

// GetSerialOptions returns the serial connection parameters.
func (c *RoverConfig) GetSerialOptions() seriallink.PortOptions {
	return seriallink.PortOptions{
		BaudRate:    getInt(c.SerialBaudRate, seriallink.DefaultBaudRate),
		ReadTimeout: getDuration(c.SerialReadTimeout, seriallink.DefaultReadTimeout),
	}
}

// GetObstacleConfig returns the obstacle avoidance tuning.
func (c *RoverConfig) GetObstacleConfig() modes.ObstacleConfig {
	def := modes.DefaultObstacleConfig()
	return modes.ObstacleConfig{
		PortPath:       c.GetSerialPort(),
		Serial:         c.GetSerialOptions(),
		CruiseSpeed:    getFloat(c.ObstacleCruiseSpeed, def.CruiseSpeed),
		ManoeuvreSpeed: getFloat(c.ObstacleManoeuvreSpeed, def.ManoeuvreSpeed),
		Hold:           getDuration(c.ObstacleHold, def.Hold),
	}
}

// GetLineConfig returns the line following tuning.
func (c *RoverConfig) GetLineConfig() modes.LineConfig {
	def := modes.DefaultLineConfig()
	return modes.LineConfig{
		PortPath:    c.GetSerialPort(),
		Serial:      c.GetSerialOptions(),
		CruiseSpeed: getFloat(c.LineCruiseSpeed, def.CruiseSpeed),
		TurnSpeed:   getFloat(c.LineTurnSpeed, def.TurnSpeed),
		Interval:    getDuration(c.LineInterval, def.Interval),
	}
}

// GetManualConfig returns the controller mapping.
func (c *RoverConfig) GetManualConfig() modes.ManualConfig {
	def := modes.DefaultManualConfig()
	return modes.ManualConfig{
		JoystickID:     getInt(c.JoystickID, def.JoystickID),
		ToggleButton:   getInt(c.ToggleButton, def.ToggleButton),
		ForwardButton:  getInt(c.ForwardButton, def.ForwardButton),
		BackwardButton: getInt(c.BackwardButton, def.BackwardButton),
		SteerAxis:      getInt(c.SteerAxis, def.SteerAxis),
		Deadzone:       getFloat(c.Deadzone, def.Deadzone),
		SlowSpeed:      getFloat(c.SlowSpeed, def.SlowSpeed),
		FastSpeed:      getFloat(c.FastSpeed, def.FastSpeed),
		Poll:           getDuration(c.ManualPoll, def.Poll),
	}
}

// GetJoinTimeout returns how long a mode switch waits for the old loop.
func (c *RoverConfig) GetJoinTimeout() time.Duration {
	return getDuration(c.JoinTimeout, 5*time.Second)
}

// StopBound is the longest a cancelled loop can take to exit with this
// configuration: its longest blocking step, plus the grace a serial link
// allows its reader after the port is closed.
func (c *RoverConfig) StopBound() time.Duration {
	read := c.GetSerialOptions().ReadTimeout
	step := c.GetObstacleConfig().Hold
	if d := c.GetLineConfig().Interval; d > step {
		step = d
	}
	step += read
	if d := c.GetManualConfig().Poll; d > step {
		step = d
	}
	return step + seriallink.CloseGrace(read)
}

// GetI2CBus returns the I2C bus name; empty selects the first bus.
func (c *RoverConfig) GetI2CBus() string { return getString(c.I2CBus, "") }

// GetHATAddress returns the motor HAT's I2C address.
func (c *RoverConfig) GetHATAddress() uint16 { return uint16(getInt(c.HATAddress, 0x60)) }

// GetListen returns the HTTP listen address.
func (c *RoverConfig) GetListen() string { return getString(c.Listen, ":8080") }

// GetGRPCListen returns the gRPC listen address.
func (c *RoverConfig) GetGRPCListen() string { return getString(c.GRPCListen, ":50051") }

// GetDBPath returns the telemetry journal path.
func (c *RoverConfig) GetDBPath() string { return getString(c.DBPath, "rover.db") }

// GetJournalBuffer returns the journal queue length.
func (c *RoverConfig) GetJournalBuffer() int { return getInt(c.JournalBuffer, 1024) }

// GetMQTTBroker returns the camera broker URL; empty disables MQTT.
func (c *RoverConfig) GetMQTTBroker() string { return getString(c.MQTTBroker, "") }

// GetMQTTClientID returns the MQTT client id.
func (c *RoverConfig) GetMQTTClientID() string { return getString(c.MQTTClientID, "rover") }

// GetMQTTUsername returns the MQTT user name.
func (c *RoverConfig) GetMQTTUsername() string { return getString(c.MQTTUsername, "") }

// GetMQTTPassword returns the MQTT password.
func (c *RoverConfig) GetMQTTPassword() string { return getString(c.MQTTPassword, "") }

// GetMQTTTopicPrefix returns the prefix for camera topics.
func (c *RoverConfig) GetMQTTTopicPrefix() string { return getString(c.MQTTTopicPrefix, "rover") }
