package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// HomeFile is the YAML document wiring the home and its devices to sensor
// entities.
type HomeFile struct {
	Home    HomeConfig     `yaml:"home"`
	Devices []DeviceConfig `yaml:"devices"`
}

type HomeConfig struct {
	Name                 string     `yaml:"name"`
	SolarPower           *ValueSpec `yaml:"solar_power"`
	GridSupplyPower      *ValueSpec `yaml:"grid_supply_power"`
	SolarEnergy          *ValueSpec `yaml:"solar_energy"`
	ImportedEnergy       *ValueSpec `yaml:"imported_energy"`
	ExportedEnergy       *ValueSpec `yaml:"exported_energy"`
	DisableDeviceControl bool       `yaml:"disable_device_control"`
}

// DeviceConfig is the union of the per-kind device parameters; each kind
// validates its own required fields at construction time.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
	Name string `yaml:"name"`
	Icon string `yaml:"icon"`

	// homeassistant kind
	Power           string                `yaml:"power"`
	Energy          *ValueSpec            `yaml:"energy"`
	Output          string                `yaml:"output"`
	Manufacturer    string                `yaml:"manufacturer"`
	Model           string                `yaml:"model"`
	NominalPower    *float64              `yaml:"nominal_power"`
	NominalDuration *float64              `yaml:"nominal_duration"`
	Constant        *bool                 `yaml:"constant"`
	StateDetection  *StateDetectionConfig `yaml:"state"`
	MaxOnPerDay     *float64              `yaml:"max_on_per_day"`
	MinOnDuration   *float64              `yaml:"min_on_duration"`
	SwitchOnDelay   *float64              `yaml:"switch_on_delay"`
	SwitchOffDelay  *float64              `yaml:"switch_off_delay"`

	// heat-pump kind
	Temperature              string   `yaml:"temperature"`
	State                    string   `yaml:"state"`
	ComfortTargetTemperature string   `yaml:"comfort_target_temperature"`
	TargetTemperatureNormal  *float64 `yaml:"target_temperature_normal"`
	TargetTemperaturePV      *float64 `yaml:"target_temperature_pv"`

	// evcc kind
	LoadPointName string `yaml:"load_point_name"`
	Continuous    *bool  `yaml:"continuous"`

	StoreSessions bool `yaml:"store_sessions"`
}

// StateDetectionConfig configures on/off detection from power readings for
// devices without a discrete state entity.
type StateDetectionConfig struct {
	StateOn  ThresholdConfig `yaml:"state_on"`
	StateOff OffConfig       `yaml:"state_off"`
}

type ThresholdConfig struct {
	Threshold float64 `yaml:"threshold"`
}

type OffConfig struct {
	Threshold        float64 `yaml:"threshold"`
	Upper            float64 `yaml:"upper"`
	Lower            float64 `yaml:"lower"`
	For              float64 `yaml:"for"`
	TrailingZerosFor float64 `yaml:"trailing_zeros_for"`
}

// ValueSpec is either a bare entity id or a record with a direct value id
// or a template plus optional scale/inversion.
type ValueSpec struct {
	Value    string  `yaml:"value"`
	Template string  `yaml:"template"`
	Scale    float64 `yaml:"scale"`
	Inverted bool    `yaml:"inverted"`
}

// UnmarshalYAML accepts both the scalar and the record form.
func (s *ValueSpec) UnmarshalYAML(data []byte) error {
	var id string
	if err := yaml.Unmarshal(data, &id); err == nil {
		s.Value = id
		return nil
	}
	type plain ValueSpec
	var record plain
	if err := yaml.Unmarshal(data, &record); err != nil {
		return err
	}
	*s = ValueSpec(record)
	return nil
}

// LoadHomeFile reads and parses the home configuration.
func LoadHomeFile(path string) (*HomeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read home config: %w", err)
	}
	var file HomeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse home config: %w", err)
	}
	return &file, nil
}
