package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override the JSON file.
const (
	EnvSerialPort = "ROVER_SERIAL_PORT"
	EnvMQTTBroker = "ROVER_MQTT_BROKER"
	EnvDBPath     = "ROVER_DB_PATH"
	EnvListen     = "ROVER_LISTEN"
)

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set are not overwritten. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overrides fields of c from the environment.
func (c *RoverConfig) ApplyEnv() {
	overrides := map[string]**string{
		EnvSerialPort: &c.SerialPort,
		EnvMQTTBroker: &c.MQTTBroker,
		EnvDBPath:     &c.DBPath,
		EnvListen:     &c.Listen,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = ptrString(v)
		}
	}
}
