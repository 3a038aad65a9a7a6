package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PowerMode selects how a controllable device is driven.
type PowerMode string

const (
	PowerModeDeviceControlled PowerMode = "device_controlled"
	PowerModeOff              PowerMode = "off"
	PowerModePV               PowerMode = "pv"
	PowerModeMinPV            PowerMode = "min_pv"
	PowerModeFast             PowerMode = "fast"
	PowerModeOptimized        PowerMode = "optimized"
)

// ParsePowerMode validates an externally provided power mode name.
func ParsePowerMode(value string) (PowerMode, error) {
	switch PowerMode(strings.ToLower(value)) {
	case PowerModeDeviceControlled:
		return PowerModeDeviceControlled, nil
	case PowerModeOff:
		return PowerModeOff, nil
	case PowerModePV:
		return PowerModePV, nil
	case PowerModeMinPV:
		return PowerModeMinPV, nil
	case PowerModeFast:
		return PowerModeFast, nil
	case PowerModeOptimized:
		return PowerModeOptimized, nil
	}
	return "", fmt.Errorf("unknown power mode %q", value)
}

// OnOffState is the discrete running state of a device.
type OnOffState string

const (
	StateOn      OnOffState = "on"
	StateOff     OnOffState = "off"
	StateUnknown OnOffState = "unknown"
)

func OnOffStateFromString(value string) OnOffState {
	switch strings.ToLower(value) {
	case "on":
		return StateOn
	case "off":
		return StateOff
	}
	return StateUnknown
}

func OnOffStateFromBool(on bool) OnOffState {
	if on {
		return StateOn
	}
	return StateOff
}

// Session is one on-phase of a device, tracked by a SessionStorage.
type Session struct {
	ID                       int64
	Start                    time.Time
	StartSolarConsumedEnergy float64
	StartConsumedEnergy      float64
}

// LoadInfo describes a load the optimizer may plan or shift.
type LoadInfo struct {
	DeviceID     uuid.UUID
	NominalPower float64
	// Duration of the load in seconds.
	Duration     float64
	IsContinuous bool
	IsConstant   bool
	IsDeferrable bool
}

// EnergySnapshot is a point-in-time copy of a device's cumulative totals,
// taken once per calendar day. Today's values are the live totals minus the
// snapshot. Snapshots are replaced wholesale, never mutated.
type EnergySnapshot struct {
	ConsumedSolarEnergy float64
	ConsumedEnergy      float64
}

// HomeEnergySnapshot is the whole-home variant of EnergySnapshot. The
// consumed totals are derived from the grid and solar counters through the
// energy balance identity, never stored independently.
type HomeEnergySnapshot struct {
	ProducedSolarEnergy float64
	GridImportedEnergy  float64
	GridExportedEnergy  float64
}

func (s HomeEnergySnapshot) ConsumedEnergy() float64 {
	return s.GridImportedEnergy - s.GridExportedEnergy + s.ProducedSolarEnergy
}

func (s HomeEnergySnapshot) ConsumedSolarEnergy() float64 {
	return s.ProducedSolarEnergy - s.GridExportedEnergy
}

// DeviceConfigError reports a missing required device parameter. Devices
// fail fast at construction, never at runtime.
type DeviceConfigError struct {
	Parameter string
}

func (e *DeviceConfigError) Error() string {
	return fmt.Sprintf("missing device config parameter %q", e.Parameter)
}

func NewDeviceConfigError(parameter string) error {
	return &DeviceConfigError{Parameter: parameter}
}

// UnsupportedPowerModeError reports an attempt to put a device into a power
// mode it does not support. The device state stays untouched.
type UnsupportedPowerModeError struct {
	DeviceID  uuid.UUID
	PowerMode PowerMode
}

func (e *UnsupportedPowerModeError) Error() string {
	return fmt.Sprintf("device %s does not support power mode %q", e.DeviceID, e.PowerMode)
}

func NewUnsupportedPowerModeError(deviceID uuid.UUID, mode PowerMode) error {
	return &UnsupportedPowerModeError{DeviceID: deviceID, PowerMode: mode}
}

// UnknownDeviceError reports a device id that is not part of the home.
type UnknownDeviceError struct {
	DeviceID uuid.UUID
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device %s", e.DeviceID)
}

func NewUnknownDeviceError(deviceID uuid.UUID) error {
	return &UnknownDeviceError{DeviceID: deviceID}
}

func IsUnknownDeviceError(err error) bool {
	var unknownDevice *UnknownDeviceError
	return errors.As(err, &unknownDevice)
}
