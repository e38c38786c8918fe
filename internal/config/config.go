// Package config loads the sensor configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Device        string          `yaml:"device"`
	Sensor        SensorConfig    `yaml:"sensor"`
	LED           LEDConfig       `yaml:"led"`
	Detection     DetectionConfig `yaml:"detection"`
	Network       NetworkConfig   `yaml:"network"`
	MQTT          MQTTConfig      `yaml:"mqtt"`
	Settings      SettingsConfig  `yaml:"settings"`
	HTTP          HTTPConfig      `yaml:"http"`
	InfluxDB      InfluxDBConfig  `yaml:"influxdb"`
	NTP           NTPConfig       `yaml:"ntp"`
	Logging       LoggingConfig   `yaml:"logging"`
	Heartbeat     time.Duration   `yaml:"heartbeat"`
	QueueCapacity int             `yaml:"queue_capacity"`
}

// SensorConfig describes the presence input line.
type SensorConfig struct {
	Chip      string        `yaml:"chip"`
	Pin       int           `yaml:"pin"`
	ActiveLow bool          `yaml:"active_low"`
	PullUp    bool          `yaml:"pull_up"`
	Debounce  time.Duration `yaml:"debounce"`
}

// LED modes.
const (
	LEDModePWM  = "pwm"
	LEDModeLine = "line"
)

// LEDConfig describes the indicator output. In pwm mode the sysfs PWM
// channel is used; in line mode a plain GPIO line is switched.
type LEDConfig struct {
	Mode        string  `yaml:"mode"`
	PWMChip     string  `yaml:"pwm_chip"`
	PWMChannel  int     `yaml:"pwm_channel"`
	FrequencyHz int     `yaml:"frequency_hz"`
	MaxDuty     float64 `yaml:"max_duty"`
	Chip        string  `yaml:"chip"`
	Pin         int     `yaml:"pin"`
}

// DetectionConfig holds the compiled defaults used when the settings store
// has no value yet.
type DetectionConfig struct {
	Enabled            bool  `yaml:"enabled"`
	GracePeriodSeconds int64 `yaml:"grace_period_seconds"`
}

// NetworkConfig describes the wireless interface.
type NetworkConfig struct {
	Interface    string        `yaml:"interface"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxRetries   int           `yaml:"max_retries"`
}

// MQTTConfig contains broker settings.
type MQTTConfig struct {
	Broker     string       `yaml:"broker"`
	ClientID   string       `yaml:"client_id"`
	Username   string       `yaml:"username"`
	Password   string       `yaml:"password"`
	BufferSize int          `yaml:"buffer_size"`
	Topics     TopicsConfig `yaml:"topics"`
}

// TopicsConfig names the MQTT topics.
type TopicsConfig struct {
	Status       string `yaml:"status"`
	Events       string `yaml:"events"`
	System       string `yaml:"system"`
	ConfigPrefix string `yaml:"config_prefix"`
}

// SettingsConfig locates the persistent settings database.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig contains the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// InfluxDBConfig contains occupancy history settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// NTPConfig lists the time servers, queried in order.
type NTPConfig struct {
	Servers []string `yaml:"servers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the compiled configuration.
func Default() *Config {
	return &Config{
		Device: "presence-sensor",
		Sensor: SensorConfig{
			Chip:      "gpiochip0",
			Pin:       4,
			ActiveLow: true,
		},
		LED: LEDConfig{
			Mode:        LEDModePWM,
			PWMChip:     "pwmchip0",
			PWMChannel:  0,
			FrequencyHz: 1000,
			MaxDuty:     25,
			Chip:        "gpiochip0",
			Pin:         18,
		},
		Detection: DetectionConfig{
			Enabled:            true,
			GracePeriodSeconds: 5,
		},
		Network: NetworkConfig{
			Interface:    "wlan0",
			PollInterval: time.Second,
			MaxRetries:   3,
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "presence-sensor",
			BufferSize: 100,
			Topics: TopicsConfig{
				Status:       "presence/sensor/bodydet",
				Events:       "presence/sensor/events",
				System:       "presence/sensor/system",
				ConfigPrefix: "presence/config",
			},
		},
		Settings: SettingsConfig{
			Path: "/var/lib/presence-sensor/settings.db",
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		NTP: NTPConfig{
			Servers: []string{
				"time.ustc.edu.cn",
				"ntp.tuna.tsinghua.edu.cn",
				"time.windows.com",
				"pool.ntp.org",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Heartbeat:     15 * time.Minute,
		QueueCapacity: 20,
	}
}

// Load reads configuration in three layers: compiled defaults, the YAML file
// at path (skipped when path is empty) and PRESENCE_* environment variables.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) error {
	if v := getenv("PRESENCE_DEVICE"); v != "" {
		cfg.Device = v
	}
	if v := getenv("PRESENCE_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := getenv("PRESENCE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := getenv("PRESENCE_WIFI_INTERFACE"); v != "" {
		cfg.Network.Interface = v
	}
	if v := getenv("PRESENCE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := getenv("PRESENCE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := getenv("PRESENCE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := getenv("PRESENCE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := getenv("PRESENCE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("PRESENCE_SENSOR_PIN"); v != "" {
		pin, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRESENCE_SENSOR_PIN: %w", err)
		}
		cfg.Sensor.Pin = pin
	}
	if v := getenv("PRESENCE_SENSOR_ACTIVE_LOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PRESENCE_SENSOR_ACTIVE_LOW: %w", err)
		}
		cfg.Sensor.ActiveLow = b
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Sensor.Chip == "" {
		errs = append(errs, "sensor.chip is required")
	}
	if c.Sensor.Pin < 0 {
		errs = append(errs, "sensor.pin must not be negative")
	}
	if c.Sensor.Debounce < 0 {
		errs = append(errs, "sensor.debounce must not be negative")
	}

	switch c.LED.Mode {
	case LEDModePWM:
		if c.LED.PWMChip == "" {
			errs = append(errs, "led.pwm_chip is required in pwm mode")
		}
		if c.LED.PWMChannel < 0 {
			errs = append(errs, "led.pwm_channel must not be negative")
		}
		if c.LED.FrequencyHz <= 0 {
			errs = append(errs, "led.frequency_hz must be positive")
		}
	case LEDModeLine:
		if c.LED.Pin < 0 {
			errs = append(errs, "led.pin must not be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("led.mode must be %q or %q", LEDModePWM, LEDModeLine))
	}
	if c.LED.MaxDuty <= 0 || c.LED.MaxDuty > 100 {
		errs = append(errs, "led.max_duty must be in (0, 100]")
	}

	if c.Detection.GracePeriodSeconds <= 0 || c.Detection.GracePeriodSeconds > 1<<32-1 {
		errs = append(errs, "detection.grace_period_seconds must be between 1 and 4294967295")
	}

	if c.Network.Interface == "" {
		errs = append(errs, "network.interface is required")
	}
	if c.Network.PollInterval <= 0 {
		errs = append(errs, "network.poll_interval must be positive")
	}
	if c.Network.MaxRetries < 0 {
		errs = append(errs, "network.max_retries must not be negative")
	}

	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, "mqtt.buffer_size must not be negative")
	}
	t := c.MQTT.Topics
	if t.Status == "" || t.Events == "" || t.System == "" || t.ConfigPrefix == "" {
		errs = append(errs, "mqtt.topics must all be set")
	}

	if c.Settings.Path == "" {
		errs = append(errs, "settings.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when enabled")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}

	if c.Heartbeat < 0 {
		errs = append(errs, "heartbeat must not be negative")
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, "queue_capacity must be positive")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}
