package service

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
)

const heatPumpDefaultNominalPower = 5000.0

// HeatPumpDevice is a heat pump reporting a discrete on/off state and a
// target temperature. PV and optimized control raise the comfort target
// temperature when surplus solar power is available, so the pump stores the
// surplus as heat.
type HeatPumpDevice struct {
	BaseDevice
	sessions sessionTracker

	temperatureEntityID         string
	stateEntityID               string
	comfortTargetTemperatureID  string
	targetTemperatureNormal     *float64
	targetTemperaturePV         *float64
	nominalPower                float64
	energyValue                 *StateValue

	actualTemperature *domain.State
	state             *domain.State
	consumedEnergy    *domain.State
}

func NewHeatPumpDevice(cfg config.DeviceConfig, sessions port.SessionStorage, logger *zap.Logger) (*HeatPumpDevice, error) {
	id, err := uuid.Parse(cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	if cfg.Name == "" {
		return nil, domain.NewDeviceConfigError("name")
	}
	if cfg.Energy == nil {
		return nil, domain.NewDeviceConfigError("energy")
	}
	if cfg.Temperature == "" {
		return nil, domain.NewDeviceConfigError("temperature")
	}
	if cfg.State == "" {
		return nil, domain.NewDeviceConfigError("state")
	}
	d := &HeatPumpDevice{
		BaseDevice:                 newBaseDevice(id, cfg.Name, logger),
		temperatureEntityID:        cfg.Temperature,
		stateEntityID:              cfg.State,
		comfortTargetTemperatureID: cfg.ComfortTargetTemperature,
		targetTemperatureNormal:    cfg.TargetTemperatureNormal,
		targetTemperaturePV:        cfg.TargetTemperaturePV,
		nominalPower:               heatPumpDefaultNominalPower,
	}
	d.sessions = sessionTracker{storage: sessions, enabled: cfg.StoreSessions, logger: d.logger}
	d.energyValue = stateValueFrom(cfg.Energy, d.logger)
	if cfg.NominalPower != nil {
		d.nominalPower = *cfg.NominalPower
	}
	if d.controllable() {
		d.addSupportedPowerModes(domain.PowerModePV, domain.PowerModeOptimized)
	}
	return d, nil
}

func (d *HeatPumpDevice) controllable() bool {
	return d.targetTemperatureNormal != nil && d.targetTemperaturePV != nil && d.comfortTargetTemperatureID != ""
}

func (d *HeatPumpDevice) Type() string {
	return "heat-pump"
}

func (d *HeatPumpDevice) Icon() string {
	return "mdi-heat-pump"
}

func (d *HeatPumpDevice) State() domain.OnOffState {
	if d.state == nil {
		return domain.StateUnknown
	}
	return domain.OnOffStateFromString(d.state.Value())
}

func (d *HeatPumpDevice) Power() float64 {
	if d.State() == domain.StateOn {
		return d.nominalPower
	}
	return 0.0
}

func (d *HeatPumpDevice) ConsumedEnergy() float64 {
	if d.consumedEnergy == nil {
		return 0.0
	}
	return d.consumedEnergy.NumericValue()
}

func (d *HeatPumpDevice) ActualTemperature() float64 {
	if d.actualTemperature == nil {
		return 0.0
	}
	return d.actualTemperature.NumericValue()
}

func (d *HeatPumpDevice) Available() bool {
	return d.consumedEnergy != nil && d.consumedEnergy.Available() &&
		d.actualTemperature != nil && d.actualTemperature.Available() &&
		d.state != nil && d.state.Available()
}

func (d *HeatPumpDevice) UpdateState(repository domain.StatesRepository, selfSufficiency float64) error {
	oldOn := d.State() == domain.StateOn
	d.state = domain.AssignIfAvailable(d.state, repository.GetState(d.stateEntityID))
	newOn := d.State() == domain.StateOn

	d.consumedEnergy = domain.AssignIfAvailable(d.consumedEnergy, d.energyValue.Evaluate(repository))
	d.consumedSolarEnergy.AddMeasurement(d.ConsumedEnergy(), selfSufficiency)
	d.actualTemperature = domain.AssignIfAvailable(d.actualTemperature, repository.GetState(d.temperatureEntityID))

	if d.EnergySnapshot() == nil {
		d.SetSnapshot(d.ConsumedSolarEnergy(), d.ConsumedEnergy())
	}
	return d.sessions.track(d.ID(), "Heat pump", oldOn, newOn, d.ConsumedSolarEnergy(), d.ConsumedEnergy())
}

// RequestedAdditionalPower is how much power the pump could take up in PV
// mode.
func (d *HeatPumpDevice) RequestedAdditionalPower() float64 {
	if d.State() == domain.StateOff {
		return d.nominalPower
	}
	return 0.0
}

func (d *HeatPumpDevice) UpdatePowerConsumption(repository domain.StatesRepository, optimizer port.Optimizer, gridExportedPower *FloatDataBuffer) error {
	if !d.controllable() {
		return nil
	}
	current := repository.GetState(d.comfortTargetTemperatureID)
	if current == nil {
		return nil
	}
	targetTemperature := current.NumericValue()
	switch d.PowerMode() {
	case domain.PowerModePV:
		if d.State() == domain.StateOff {
			average := gridExportedPower.AverageFor(300, d.now())
			if average > d.RequestedAdditionalPower()*(1+PowerHysteresis) {
				targetTemperature = *d.targetTemperaturePV
			} else if average < d.RequestedAdditionalPower()*(1-PowerHysteresis) {
				targetTemperature = *d.targetTemperatureNormal
			}
		}
	case domain.PowerModeOptimized:
		targetTemperature = d.optimizedTargetTemperature(optimizer, targetTemperature)
	}
	if targetTemperature != current.NumericValue() {
		d.logger.Info("adjusting target temperature", zap.Float64("temperature", targetTemperature))
		repository.SetState(
			domain.StateID{ID: d.comfortTargetTemperatureID, Channel: domain.ChannelHomeAssistant},
			strconv.FormatFloat(targetTemperature, 'f', -1, 64),
			nil,
		)
	}
	return nil
}

func (d *HeatPumpDevice) optimizedTargetTemperature(optimizer port.Optimizer, current float64) float64 {
	if d.State() == domain.StateOff {
		if optimizer.GetOptimizedPower(d.ID()) > 0 {
			return *d.targetTemperaturePV
		}
		return *d.targetTemperatureNormal
	}
	return current
}

func (d *HeatPumpDevice) RestoreState(consumedSolarEnergy float64, consumedEnergy float64) {
	d.BaseDevice.RestoreState(consumedSolarEnergy, consumedEnergy)
	d.consumedEnergy = domain.NewNumericState("", consumedEnergy)
}

func (d *HeatPumpDevice) Attributes() map[string]string {
	result := map[string]string{
		"state":              string(d.State()),
		"actual_temperature": fmt.Sprintf("%g °C", d.ActualTemperature()),
	}
	if d.State() == domain.StateOn {
		d.sessions.sessionAttributes(d.now(), d.ConsumedSolarEnergy(), d.ConsumedEnergy(), result)
	}
	return result
}

func (d *HeatPumpDevice) LoadInfo() *domain.LoadInfo {
	if d.PowerMode() != domain.PowerModeOptimized {
		return nil
	}
	return &domain.LoadInfo{
		DeviceID:     d.ID(),
		NominalPower: d.nominalPower,
		Duration:     DefaultNominalDuration,
		IsContinuous: false,
		IsDeferrable: true,
	}
}
