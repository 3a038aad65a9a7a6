package service

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// DeviceTypeID identifies a device type by manufacturer and model.
type DeviceTypeID struct {
	Manufacturer string
	Model        string
}

// DeviceType holds the power profile of a known appliance model, used for
// on/off detection from the power curve and as planning defaults.
type DeviceType struct {
	Icon              string
	NominalPower      float64
	NominalDuration   float64
	Constant          bool
	StateOnThreshold  float64
	StateOffThreshold float64
	StateOffUpper     float64
	StateOffLower     float64
	StateOffFor       float64
	TrailingZerosFor  float64
}

type deviceTypeFile struct {
	DeviceType *struct {
		Manufacturer    string   `yaml:"manufacturer"`
		Model           string   `yaml:"model"`
		Icon            string   `yaml:"icon"`
		NominalPower    *float64 `yaml:"nominal_power"`
		NominalDuration *float64 `yaml:"nominal_duration"`
		Constant        bool     `yaml:"constant"`
		State           *struct {
			StateOn *struct {
				Threshold *float64 `yaml:"threshold"`
			} `yaml:"state_on"`
			StateOff *struct {
				Threshold        float64  `yaml:"threshold"`
				Upper            *float64 `yaml:"upper"`
				Lower            *float64 `yaml:"lower"`
				For              *float64 `yaml:"for"`
				TrailingZerosFor *float64 `yaml:"trailing_zeros_for"`
			} `yaml:"state_off"`
		} `yaml:"state"`
	} `yaml:"device_type"`
}

// DeviceTypeRegistry loads device type definitions from YAML files. Files
// that cannot be parsed or miss required fields are skipped with a log
// entry; one broken file must not take the whole registry down.
type DeviceTypeRegistry struct {
	types  map[DeviceTypeID]DeviceType
	logger *zap.Logger
}

func NewDeviceTypeRegistry(logger *zap.Logger) *DeviceTypeRegistry {
	return &DeviceTypeRegistry{
		types:  map[DeviceTypeID]DeviceType{},
		logger: logger,
	}
}

// Load reads every .yaml file below folder into the registry.
func (r *DeviceTypeRegistry) Load(folder string) error {
	return filepath.WalkDir(folder, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			return nil
		}
		r.LoadDeviceTypeFile(path)
		return nil
	})
}

// LoadDeviceTypeFile parses one device type file and adds it to the
// registry when complete.
func (r *DeviceTypeRegistry) LoadDeviceTypeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Error("cannot read device type file", zap.String("file", path), zap.Error(err))
		return
	}
	var file deviceTypeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		r.logger.Error("cannot parse device type file", zap.String("file", path), zap.Error(err))
		return
	}
	raw := file.DeviceType
	if raw == nil {
		r.logger.Error("device type file has no device_type item", zap.String("file", path))
		return
	}
	if raw.Manufacturer == "" || raw.Model == "" || raw.Icon == "" {
		r.logger.Error("manufacturer, model or icon missing in device type file", zap.String("file", path))
		return
	}
	deviceType := DeviceType{
		Icon:            raw.Icon,
		NominalPower:    DefaultNominalPower,
		NominalDuration: DefaultNominalDuration,
		Constant:        raw.Constant,
	}
	if raw.NominalPower != nil {
		deviceType.NominalPower = *raw.NominalPower
	}
	if raw.NominalDuration != nil {
		deviceType.NominalDuration = *raw.NominalDuration
	}
	if raw.State == nil || raw.State.StateOn == nil || raw.State.StateOn.Threshold == nil || raw.State.StateOff == nil {
		r.logger.Error("state detection incomplete in device type file", zap.String("file", path))
		return
	}
	off := raw.State.StateOff
	if off.Upper == nil || off.Lower == nil || off.For == nil || off.TrailingZerosFor == nil {
		r.logger.Error("state detection incomplete in device type file", zap.String("file", path))
		return
	}
	deviceType.StateOnThreshold = *raw.State.StateOn.Threshold
	deviceType.StateOffThreshold = off.Threshold
	deviceType.StateOffUpper = *off.Upper
	deviceType.StateOffLower = *off.Lower
	deviceType.StateOffFor = *off.For
	deviceType.TrailingZerosFor = *off.TrailingZerosFor

	r.types[DeviceTypeID{Manufacturer: raw.Manufacturer, Model: raw.Model}] = deviceType
}

// GetDeviceType looks up the device type for a manufacturer and model.
func (r *DeviceTypeRegistry) GetDeviceType(manufacturer string, model string) (DeviceType, bool) {
	deviceType, ok := r.types[DeviceTypeID{Manufacturer: manufacturer, Model: model}]
	return deviceType, ok
}
