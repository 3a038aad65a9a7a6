package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel      zapcore.Level
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Modbus        ModbusConfig        `mapstructure:"modbus"`
	Emhass        EmhassConfig        `mapstructure:"emhass"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`

	// HomeConfigFile is the YAML file describing the home sensors and the
	// devices.
	HomeConfigFile string `mapstructure:"home_config_file"`
	// DataFolder holds the measurement and session files.
	DataFolder string `mapstructure:"data_folder"`
	// DeviceTypesFolder holds the YAML device type definitions used to
	// resolve devices by manufacturer and model.
	DeviceTypesFolder string `mapstructure:"device_types_folder"`
	Port       uint   `mapstructure:"port"`
	HttpLog    bool   `mapstructure:"http_log"`
}

type HomeAssistantConfig struct {
	URL   string
	Token string
	// DemoMode suppresses all writes towards Home Assistant.
	DemoMode bool `mapstructure:"demo_mode"`
}

type MQTTConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

type ModbusConfig struct {
	Enabled bool
	Host    string
	Port    uint
	UnitId  uint8 `mapstructure:"unit_id"`
	// Registers maps state ids to input register addresses.
	Registers []ModbusRegisterConfig
}

type ModbusRegisterConfig struct {
	Id      string  `mapstructure:"id"`
	Address uint16  `mapstructure:"address"`
	Scale   float64 `mapstructure:"scale"`
	// Kind is "input" (default) or "holding"
	Kind string `mapstructure:"kind"`
}

type EmhassConfig struct {
	Enabled bool
	URL     string
}

type MonitorConfig struct {
	PollIntervalMillis  uint32 `mapstructure:"poll_interval_millis"`
	OptimizeCronHourUTC uint   `mapstructure:"optimize_cron_hour_utc"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
