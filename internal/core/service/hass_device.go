package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
)

const attributeUnit = "unit_of_measurement"

// InvalidUnitError reports an energy reading in a unit the device cannot
// convert to kWh.
type InvalidUnitError struct {
	Unit string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("invalid unit %q, expected Wh or kWh", e.Unit)
}

// ConvertToKWh normalizes an energy reading to kWh based on its
// unit_of_measurement attribute. Readings without a unit pass through
// unchanged, unavailable readings are never converted.
func ConvertToKWh(state *domain.State) (*domain.State, error) {
	if state == nil {
		return nil, nil
	}
	if !state.Available() {
		return state, nil
	}
	unit := state.StringAttribute(attributeUnit)
	attributes := map[string]any{}
	for key, value := range state.Attributes() {
		attributes[key] = value
	}
	attributes[attributeUnit] = "kWh"
	switch unit {
	case "Wh":
		value := strconv.FormatFloat(state.NumericValue()/1000, 'f', -1, 64)
		return domain.NewState(state.ID(), value, attributes), nil
	case "kWh", "":
		return domain.NewState(state.ID(), state.Value(), attributes), nil
	}
	return nil, &InvalidUnitError{Unit: unit}
}

// ReadOnlyHomeAssistantDevice tracks a Home Assistant appliance through its
// power and energy sensors without controlling it. When a device type or a
// state detection block is configured, the on/off state is derived from the
// power curve.
type ReadOnlyHomeAssistantDevice struct {
	BaseDevice
	sessions sessionTracker

	powerEntityID  string
	energyEntityID string
	energyScale    float64
	energyValue    *StateValue
	icon           string

	deviceType      *DeviceType
	nominalPower    *float64
	nominalDuration *float64
	isConstant      bool

	power          *domain.State
	consumedEnergy *domain.State
	powerData      *FloatDataBuffer
	state          domain.OnOffState
}

func NewReadOnlyHomeAssistantDevice(
	cfg config.DeviceConfig,
	sessions port.SessionStorage,
	registry *DeviceTypeRegistry,
	logger *zap.Logger,
) (*ReadOnlyHomeAssistantDevice, error) {
	id, err := uuid.Parse(cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	if cfg.Name == "" {
		return nil, domain.NewDeviceConfigError("name")
	}
	if cfg.Power == "" {
		return nil, domain.NewDeviceConfigError("power")
	}
	d := &ReadOnlyHomeAssistantDevice{
		BaseDevice:    newBaseDevice(id, cfg.Name, logger),
		powerEntityID: cfg.Power,
		energyScale:   1.0,
		icon:          "mdi-home",
		powerData:     NewFloatDataBuffer(),
		state:         domain.StateUnknown,
	}
	d.sessions = sessionTracker{storage: sessions, enabled: cfg.StoreSessions, logger: d.logger}
	if cfg.Icon != "" {
		d.icon = cfg.Icon
	}

	switch {
	case cfg.Energy == nil:
		return nil, domain.NewDeviceConfigError("energy")
	case cfg.Energy.Template != "":
		d.energyValue = stateValueFrom(cfg.Energy, d.logger)
	case cfg.Energy.Value != "":
		d.energyEntityID = cfg.Energy.Value
		if cfg.Energy.Scale != 0 {
			d.energyScale = cfg.Energy.Scale
		}
		if cfg.Energy.Inverted {
			d.energyScale = -d.energyScale
		}
	default:
		return nil, domain.NewDeviceConfigError("energy")
	}

	if cfg.Manufacturer != "" && cfg.Model != "" {
		if deviceType, ok := registry.GetDeviceType(cfg.Manufacturer, cfg.Model); ok {
			d.deviceType = &deviceType
		}
	}
	d.nominalPower = cfg.NominalPower
	d.nominalDuration = cfg.NominalDuration
	if d.deviceType != nil {
		if d.nominalPower == nil {
			value := d.deviceType.NominalPower
			d.nominalPower = &value
		}
		if d.nominalDuration == nil {
			value := d.deviceType.NominalDuration
			d.nominalDuration = &value
		}
		d.isConstant = d.deviceType.Constant
	}
	if cfg.Constant != nil {
		d.isConstant = *cfg.Constant
	}

	if d.deviceType == nil && cfg.StateDetection != nil {
		icon := "mdi:lightning-bolt"
		if cfg.Icon != "" {
			icon = cfg.Icon
		}
		d.deviceType = &DeviceType{
			Icon:              icon,
			NominalPower:      d.NominalPower(),
			NominalDuration:   d.NominalDuration(),
			Constant:          d.isConstant,
			StateOnThreshold:  cfg.StateDetection.StateOn.Threshold,
			StateOffThreshold: cfg.StateDetection.StateOff.Threshold,
			StateOffUpper:     cfg.StateDetection.StateOff.Upper,
			StateOffLower:     cfg.StateDetection.StateOff.Lower,
			StateOffFor:       cfg.StateDetection.StateOff.For,
			TrailingZerosFor:  cfg.StateDetection.StateOff.TrailingZerosFor,
		}
	}
	return d, nil
}

func (d *ReadOnlyHomeAssistantDevice) Type() string {
	return "readonly-homeassistant"
}

func (d *ReadOnlyHomeAssistantDevice) Icon() string {
	return d.icon
}

func (d *ReadOnlyHomeAssistantDevice) State() domain.OnOffState {
	return d.state
}

// HasState reports whether on/off detection is configured for the device.
func (d *ReadOnlyHomeAssistantDevice) HasState() bool {
	return d.deviceType != nil
}

func (d *ReadOnlyHomeAssistantDevice) Power() float64 {
	if d.power == nil {
		return 0.0
	}
	return d.power.NumericValue()
}

func (d *ReadOnlyHomeAssistantDevice) ConsumedEnergy() float64 {
	if d.consumedEnergy == nil {
		return 0.0
	}
	return d.consumedEnergy.NumericValue()
}

func (d *ReadOnlyHomeAssistantDevice) NominalPower() float64 {
	if d.nominalPower != nil {
		return *d.nominalPower
	}
	return DefaultNominalPower
}

func (d *ReadOnlyHomeAssistantDevice) NominalDuration() float64 {
	if d.nominalDuration != nil {
		return *d.nominalDuration
	}
	return DefaultNominalDuration
}

func (d *ReadOnlyHomeAssistantDevice) Available() bool {
	return d.consumedEnergy != nil && d.consumedEnergy.Available() &&
		d.power != nil && d.power.Available()
}

func (d *ReadOnlyHomeAssistantDevice) UpdateState(repository domain.StatesRepository, selfSufficiency float64) error {
	d.power = domain.AssignIfAvailable(d.power, repository.GetState(d.powerEntityID))

	if d.energyValue != nil {
		d.consumedEnergy = domain.AssignIfAvailable(d.consumedEnergy, d.energyValue.Evaluate(repository))
	} else {
		energy, err := ConvertToKWh(repository.GetState(d.energyEntityID))
		if err != nil {
			return err
		}
		energy = scaleState(energy, d.energyScale)
		d.consumedEnergy = domain.AssignIfAvailable(d.consumedEnergy, energy)
	}

	d.consumedSolarEnergy.AddMeasurement(d.ConsumedEnergy(), selfSufficiency)
	if d.EnergySnapshot() == nil {
		d.SetSnapshot(d.ConsumedSolarEnergy(), d.ConsumedEnergy())
	}
	if d.HasState() {
		return d.checkState()
	}
	return nil
}

// checkState derives the on/off state from the power curve. A device turns
// on when power exceeds the on threshold, and off when power stays low long
// enough per the off rules of its device type.
func (d *ReadOnlyHomeAssistantDevice) checkState() error {
	oldOn := d.state == domain.StateOn
	now := d.now()
	d.powerData.AddDataPoint(d.Power(), now)
	if d.state != domain.StateOn && d.Power() > d.deviceType.StateOnThreshold {
		d.state = domain.StateOn
	} else if d.state != domain.StateOff {
		if d.state == domain.StateOn && d.Power() <= d.deviceType.StateOffThreshold {
			isBetween := d.deviceType.StateOffFor > 0 && d.powerData.IsBetween(
				d.deviceType.StateOffLower,
				d.deviceType.StateOffUpper,
				d.deviceType.StateOffFor,
				now,
			)
			maxValue := 0.0
			if d.deviceType.TrailingZerosFor > 0 {
				maxValue = d.powerData.MaxFor(d.deviceType.TrailingZerosFor, now)
			}
			if isBetween || maxValue <= d.deviceType.StateOffThreshold {
				d.state = domain.StateOff
			}
		} else if d.state == domain.StateUnknown {
			d.state = domain.StateOff
		}
	}
	newOn := d.state == domain.StateOn
	return d.sessions.track(d.ID(), "Power State Device", oldOn, newOn, d.ConsumedSolarEnergy(), d.ConsumedEnergy())
}

func (d *ReadOnlyHomeAssistantDevice) UpdatePowerConsumption(domain.StatesRepository, port.Optimizer, *FloatDataBuffer) error {
	return nil
}

func (d *ReadOnlyHomeAssistantDevice) RestoreState(consumedSolarEnergy float64, consumedEnergy float64) {
	d.BaseDevice.RestoreState(consumedSolarEnergy, consumedEnergy)
	d.consumedEnergy = domain.NewNumericState("", consumedEnergy)
}

func (d *ReadOnlyHomeAssistantDevice) Attributes() map[string]string {
	result := map[string]string{}
	if d.HasState() {
		result["state"] = string(d.state)
	}
	if d.state == domain.StateOn {
		d.sessions.sessionAttributes(d.now(), d.ConsumedSolarEnergy(), d.ConsumedEnergy(), result)
	}
	return result
}

func (d *ReadOnlyHomeAssistantDevice) LoadInfo() *domain.LoadInfo {
	if d.nominalPower == nil || d.nominalDuration == nil {
		return nil
	}
	if d.PowerMode() == domain.PowerModeOptimized {
		return &domain.LoadInfo{
			DeviceID:     d.ID(),
			NominalPower: *d.nominalPower,
			Duration:     *d.nominalDuration,
			IsConstant:   d.isConstant,
			IsDeferrable: true,
		}
	}
	if d.state == domain.StateOn {
		return &domain.LoadInfo{
			DeviceID:     d.ID(),
			NominalPower: *d.nominalPower,
			Duration:     *d.nominalDuration - d.sessions.sessionDuration(d.now()).Seconds(),
			IsConstant:   d.isConstant,
			IsDeferrable: false,
		}
	}
	return nil
}

func scaleState(state *domain.State, scale float64) *domain.State {
	if state == nil || !state.Available() || scale == 1.0 {
		return state
	}
	return domain.NewState(state.ID(), strconv.FormatFloat(state.NumericValue()*scale, 'f', -1, 64), state.Attributes())
}

// HomeAssistantDevice is a ReadOnlyHomeAssistantDevice that can additionally
// switch an output entity on and off, either tracking PV surplus with
// hysteresis or following the optimizer plan.
type HomeAssistantDevice struct {
	ReadOnlyHomeAssistantDevice

	outputID     string
	outputState  *domain.State
	outputStates *OnOffDataBuffer

	// all durations in seconds
	maxOnPerDay    float64
	minOnDuration  float64
	switchOnDelay  float64
	switchOffDelay float64
}

func NewHomeAssistantDevice(
	cfg config.DeviceConfig,
	sessions port.SessionStorage,
	registry *DeviceTypeRegistry,
	logger *zap.Logger,
) (*HomeAssistantDevice, error) {
	base, err := NewReadOnlyHomeAssistantDevice(cfg, sessions, registry, logger)
	if err != nil {
		return nil, err
	}
	d := &HomeAssistantDevice{
		ReadOnlyHomeAssistantDevice: *base,
		outputID:                    cfg.Output,
		outputStates:                NewOnOffDataBuffer(),
		maxOnPerDay:                 24 * 60 * 60,
		minOnDuration:               60.0,
		switchOnDelay:               300.0,
		switchOffDelay:              300.0,
	}
	d.addSupportedPowerModes(domain.PowerModePV, domain.PowerModeOptimized)
	if cfg.MaxOnPerDay != nil {
		d.maxOnPerDay = *cfg.MaxOnPerDay
	}
	if cfg.MinOnDuration != nil {
		d.minOnDuration = *cfg.MinOnDuration
	}
	if cfg.SwitchOnDelay != nil {
		d.switchOnDelay = *cfg.SwitchOnDelay
	}
	if cfg.SwitchOffDelay != nil {
		d.switchOffDelay = *cfg.SwitchOffDelay
	}
	return d, nil
}

func (d *HomeAssistantDevice) Type() string {
	return "homeassistant"
}

func (d *HomeAssistantDevice) UpdateState(repository domain.StatesRepository, selfSufficiency float64) error {
	if d.outputID != "" {
		d.outputState = domain.AssignIfAvailable(d.outputState, repository.GetState(d.outputID))
	} else {
		d.outputState = nil
	}
	return d.ReadOnlyHomeAssistantDevice.UpdateState(repository, selfSufficiency)
}

func (d *HomeAssistantDevice) UpdatePowerConsumption(repository domain.StatesRepository, optimizer port.Optimizer, gridExportedPower *FloatDataBuffer) error {
	if d.outputID == "" {
		return nil
	}
	on := d.outputState != nil && d.outputState.Value() == "on"
	newOn := on
	switch d.PowerMode() {
	case domain.PowerModePV:
		now := d.now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		onToday := d.outputStates.TotalDurationInStateSince(true, midnight, now).Seconds()
		if on {
			maxGridPower := gridExportedPower.MaxFor(d.switchOffDelay, now)
			surplusGone := maxGridPower < d.NominalPower()*(1-PowerHysteresis) &&
				d.outputStates.DurationInState(true, now).Seconds() > d.minOnDuration
			if surplusGone || onToday > d.maxOnPerDay {
				newOn = false
			}
		} else {
			minGridPower := gridExportedPower.MinFor(d.switchOnDelay, now)
			if minGridPower > d.NominalPower()*(1+PowerHysteresis) && onToday < d.maxOnPerDay {
				newOn = true
			}
		}
	case domain.PowerModeOptimized:
		newOn = optimizer.GetOptimizedPower(d.ID()) > 0
	}
	if newOn != on {
		value := "off"
		if newOn {
			value = "on"
		}
		d.logger.Info("switching output", zap.String("output", d.outputID), zap.String("value", value))
		repository.SetState(domain.StateID{ID: d.outputID, Channel: domain.ChannelHomeAssistant}, value, nil)
		d.outputStates.AddDataPoint(newOn, d.now())
	}
	return nil
}
