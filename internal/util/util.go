package util

import (
	"go.uber.org/zap"

	"sunledger/internal/config"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		HomeAssistant: config.HomeAssistantConfig{
			URL:      "http://localhost:8123",
			Token:    "test-token",
			DemoMode: true,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "sunledger",
		},
		Monitor: config.MonitorConfig{
			PollIntervalMillis:  5000,
			OptimizeCronHourUTC: 3,
		},
		HomeConfigFile: "home.yaml",
		DataFolder:     "data",
		Port:           8080,
	}
}
