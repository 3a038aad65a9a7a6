package service

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
)

// EvccDevice is an evcc charge point surfaced through Home Assistant
// entities. It is the only device kind supporting the full power mode set;
// control happens by writing the evcc charge mode.
type EvccDevice struct {
	BaseDevice
	sessions sessionTracker

	loadPointName string
	isContinuous  bool
	nominalPower  *float64

	state           domain.OnOffState
	power           *domain.State
	consumedEnergy  *domain.State
	mode            *domain.State
	vehicleSoc      *domain.State
	vehicleCapacity *domain.State
	maxCurrent      *domain.State
	isConnected     *domain.State

	energyMeter *UtilityMeter
}

func NewEvccDevice(cfg config.DeviceConfig, sessions port.SessionStorage, logger *zap.Logger) (*EvccDevice, error) {
	id, err := uuid.Parse(cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	if cfg.Name == "" {
		return nil, domain.NewDeviceConfigError("name")
	}
	if cfg.LoadPointName == "" {
		return nil, domain.NewDeviceConfigError("load_point_name")
	}
	d := &EvccDevice{
		BaseDevice:    newBaseDevice(id, cfg.Name, logger),
		loadPointName: cfg.LoadPointName,
		isContinuous:  true,
		nominalPower:  cfg.NominalPower,
		state:         domain.StateUnknown,
	}
	d.sessions = sessionTracker{storage: sessions, enabled: cfg.StoreSessions, logger: d.logger}
	if cfg.Continuous != nil {
		d.isContinuous = *cfg.Continuous
	}
	d.addSupportedPowerModes(
		domain.PowerModeOff,
		domain.PowerModePV,
		domain.PowerModeMinPV,
		domain.PowerModeFast,
		domain.PowerModeOptimized,
	)
	d.energyMeter = d.AddUtilityMeter("energy")
	return d, nil
}

// deviceTopicID is the entity id of one load point topic, e.g.
// sensor.evcc_garage_charge_power.
func (d *EvccDevice) deviceTopicID(name string, entityType string) string {
	return fmt.Sprintf("%s.evcc_%s_%s", entityType, d.loadPointName, name)
}

func (d *EvccDevice) sensorTopicID(name string) string {
	return d.deviceTopicID(name, "sensor")
}

func (d *EvccDevice) Type() string {
	return "evcc"
}

func (d *EvccDevice) Icon() string {
	return "mdi-car-electric"
}

func (d *EvccDevice) State() domain.OnOffState {
	return d.state
}

// Power is the charge power in W. Readings with a kW unit are converted.
func (d *EvccDevice) Power() float64 {
	if d.power == nil {
		return 0.0
	}
	if d.power.StringAttribute(attributeUnit) == "kW" {
		return d.power.NumericValue() * 1000
	}
	return d.power.NumericValue()
}

func (d *EvccDevice) ConsumedEnergy() float64 {
	if d.consumedEnergy == nil {
		return 0.0
	}
	return d.consumedEnergy.NumericValue()
}

// Mode is the charge mode evcc currently reports.
func (d *EvccDevice) Mode() string {
	if d.mode == nil {
		return "unknown"
	}
	return d.mode.Value()
}

func (d *EvccDevice) VehicleSoc() float64 {
	if d.vehicleSoc == nil {
		return 0.0
	}
	return d.vehicleSoc.NumericValue()
}

func (d *EvccDevice) VehicleCapacity() float64 {
	if d.vehicleCapacity == nil {
		return 0.0
	}
	return d.vehicleCapacity.NumericValue()
}

func (d *EvccDevice) Available() bool {
	return true
}

func (d *EvccDevice) UpdateState(repository domain.StatesRepository, selfSufficiency float64) error {
	oldOn := d.state == domain.StateOn
	charging := repository.GetState(d.deviceTopicID("charging", "binary_sensor"))
	if charging != nil {
		d.state = domain.OnOffStateFromBool(charging.Value() == "true" || charging.Value() == "on")
	} else {
		d.state = domain.StateUnknown
	}
	newOn := d.state == domain.StateOn

	d.consumedEnergy = repository.GetState(d.sensorTopicID("charge_total_import"))
	if d.ConsumedEnergy() == 0 {
		// Load points without a total import counter only expose the
		// per-session energy, which resets on every charge. The utility
		// meter reconstructs a monotonic total from it.
		if state := repository.GetState(d.sensorTopicID("session_energy")); state != nil {
			d.consumedEnergy = d.energyMeter.UpdateEnergyState(state)
		}
	}
	d.consumedSolarEnergy.AddMeasurement(d.ConsumedEnergy(), selfSufficiency)

	d.power = repository.GetState(d.sensorTopicID("charge_power"))
	d.mode = repository.GetState(d.deviceTopicID("mode", "select"))
	d.vehicleSoc = repository.GetState(d.sensorTopicID("vehicle_soc"))
	d.vehicleCapacity = repository.GetState(d.sensorTopicID("vehicle_capacity"))
	d.maxCurrent = repository.GetState(d.deviceTopicID("max_current", "select"))
	d.isConnected = repository.GetState(d.deviceTopicID("connected", "binary_sensor"))

	if d.EnergySnapshot() == nil {
		d.SetSnapshot(d.ConsumedSolarEnergy(), d.ConsumedEnergy())
	}
	return d.sessions.track(d.ID(), "EVCC", oldOn, newOn, d.ConsumedSolarEnergy(), d.ConsumedEnergy())
}

func (d *EvccDevice) UpdatePowerConsumption(repository domain.StatesRepository, optimizer port.Optimizer, gridExportedPower *FloatDataBuffer) error {
	if d.PowerMode() == domain.PowerModeDeviceControlled {
		return nil
	}
	var newMode string
	switch d.PowerMode() {
	case domain.PowerModeOff:
		newMode = "off"
	case domain.PowerModePV:
		newMode = "pv"
	case domain.PowerModeMinPV:
		newMode = "minpv"
	case domain.PowerModeFast:
		newMode = "now"
	case domain.PowerModeOptimized:
		newMode = "pv"
	}
	if newMode != "" && newMode != d.Mode() {
		d.logger.Info("switching charge mode", zap.String("mode", newMode))
		repository.SetState(
			domain.StateID{ID: d.deviceTopicID("mode", "select"), Channel: domain.ChannelHomeAssistant},
			newMode,
			nil,
		)
	}
	return nil
}

func (d *EvccDevice) RestoreState(consumedSolarEnergy float64, consumedEnergy float64) {
	d.BaseDevice.RestoreState(consumedSolarEnergy, consumedEnergy)
	d.consumedEnergy = domain.NewNumericState(d.sensorTopicID("charge_total_import"), consumedEnergy)
	// continue the reconstructed total where the last run left off
	d.energyMeter.RestoreEnergy(consumedEnergy)
}

func (d *EvccDevice) Attributes() map[string]string {
	result := map[string]string{
		"state":   string(d.state),
		"pv_mode": d.Mode(),
	}
	if d.vehicleSoc != nil {
		result["vehicle_soc"] = fmt.Sprintf("%.0f %%", d.VehicleSoc())
	}
	if d.state == domain.StateOn {
		d.sessions.sessionAttributes(d.now(), d.ConsumedSolarEnergy(), d.ConsumedEnergy(), result)
	}
	return result
}

func (d *EvccDevice) LoadInfo() *domain.LoadInfo {
	if d.state != domain.StateOn || d.isConnected == nil || d.maxCurrent == nil || d.isConnected.Value() != "true" {
		return nil
	}
	remainingEnergy := (1 - d.VehicleSoc()/100) * d.VehicleCapacity() * 1000
	if remainingEnergy <= 0 {
		return nil
	}
	power := d.maxCurrent.NumericValue() * 230
	if d.nominalPower != nil {
		power = *d.nominalPower
	}
	return &domain.LoadInfo{
		DeviceID:     d.ID(),
		NominalPower: power,
		Duration:     remainingEnergy / power * 3600,
		IsContinuous: d.isContinuous,
		IsDeferrable: d.PowerMode() == domain.PowerModeOptimized,
	}
}
