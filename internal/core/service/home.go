package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
)

// homeEnergyState tracks the three home energy counters. The consumed
// totals are always derived from them, so the energy balance identity holds
// by construction.
type homeEnergyState struct {
	solarEnergyValue    *StateValue
	importedEnergyValue *StateValue
	exportedEnergyValue *StateValue

	producedSolarEnergy *domain.State
	gridImportedEnergy  *domain.State
	gridExportedEnergy  *domain.State
}

func newHomeEnergyState(cfg config.HomeConfig, logger *zap.Logger) (*homeEnergyState, error) {
	if cfg.SolarEnergy == nil {
		return nil, domain.NewDeviceConfigError("solar_energy")
	}
	if cfg.ImportedEnergy == nil {
		return nil, domain.NewDeviceConfigError("imported_energy")
	}
	if cfg.ExportedEnergy == nil {
		return nil, domain.NewDeviceConfigError("exported_energy")
	}
	return &homeEnergyState{
		solarEnergyValue:    stateValueFrom(cfg.SolarEnergy, logger),
		importedEnergyValue: stateValueFrom(cfg.ImportedEnergy, logger),
		exportedEnergyValue: stateValueFrom(cfg.ExportedEnergy, logger),
	}, nil
}

func (s *homeEnergyState) updateState(repository domain.StatesRepository) {
	s.producedSolarEnergy = domain.AssignIfAvailable(s.producedSolarEnergy, s.solarEnergyValue.Evaluate(repository))
	s.gridImportedEnergy = domain.AssignIfAvailable(s.gridImportedEnergy, s.importedEnergyValue.Evaluate(repository))
	s.gridExportedEnergy = domain.AssignIfAvailable(s.gridExportedEnergy, s.exportedEnergyValue.Evaluate(repository))
}

func (s *homeEnergyState) restoreState(producedSolarEnergy, gridImportedEnergy, gridExportedEnergy float64) {
	s.producedSolarEnergy = domain.NewNumericState("", producedSolarEnergy)
	s.gridImportedEnergy = domain.NewNumericState("", gridImportedEnergy)
	s.gridExportedEnergy = domain.NewNumericState("", gridExportedEnergy)
}

func stateNumeric(state *domain.State) float64 {
	if state == nil {
		return 0.0
	}
	return state.NumericValue()
}

// Home is the root of the device tree. It evaluates the home power and
// energy counters, derives the self-sufficiency ratio and fans the update
// cycle out to the devices.
type Home struct {
	name                 string
	energyState          *homeEnergyState
	solarPowerValue      *StateValue
	gridImportedValue    *StateValue
	disableDeviceControl bool

	solarProductionPower *domain.State
	gridImportedPower    *domain.State

	// GridExportedPowerData buffers the recent grid supply readings for
	// the PV control hysteresis windows.
	GridExportedPowerData *FloatDataBuffer

	energySnapshot *domain.HomeEnergySnapshot
	devices        []Device
	logger         *zap.Logger
	now            func() time.Time
}

// NewHome builds the home and its devices from the home configuration file.
func NewHome(
	cfg *config.HomeFile,
	sessions port.SessionStorage,
	registry *DeviceTypeRegistry,
	logger *zap.Logger,
) (*Home, error) {
	if cfg.Home.Name == "" {
		return nil, domain.NewDeviceConfigError("name")
	}
	if cfg.Home.SolarPower == nil {
		return nil, domain.NewDeviceConfigError("solar_power")
	}
	if cfg.Home.GridSupplyPower == nil {
		return nil, domain.NewDeviceConfigError("grid_supply_power")
	}
	energyState, err := newHomeEnergyState(cfg.Home, logger)
	if err != nil {
		return nil, err
	}
	home := &Home{
		name:                  cfg.Home.Name,
		energyState:           energyState,
		solarPowerValue:       stateValueFrom(cfg.Home.SolarPower, logger),
		gridImportedValue:     stateValueFrom(cfg.Home.GridSupplyPower, logger),
		disableDeviceControl:  cfg.Home.DisableDeviceControl,
		GridExportedPowerData: NewFloatDataBuffer(),
		logger:                logger,
		now:                   time.Now,
	}
	for _, deviceConfig := range cfg.Devices {
		device, err := NewDevice(deviceConfig, sessions, registry, logger)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", deviceConfig.Name, err)
		}
		home.devices = append(home.devices, device)
	}
	return home, nil
}

// NewDevice builds one device from its configuration block. The device
// kinds form a closed set.
func NewDevice(
	cfg config.DeviceConfig,
	sessions port.SessionStorage,
	registry *DeviceTypeRegistry,
	logger *zap.Logger,
) (Device, error) {
	switch cfg.Type {
	case "homeassistant":
		return NewHomeAssistantDevice(cfg, sessions, registry, logger)
	case "readonly-homeassistant":
		return NewReadOnlyHomeAssistantDevice(cfg, sessions, registry, logger)
	case "heat-pump":
		return NewHeatPumpDevice(cfg, sessions, logger)
	case "evcc":
		return NewEvccDevice(cfg, sessions, logger)
	}
	return nil, fmt.Errorf("unknown device type %q", cfg.Type)
}

func (h *Home) Name() string {
	return h.name
}

func (h *Home) Icon() string {
	return "mdi-home"
}

func (h *Home) Devices() []Device {
	return h.devices
}

func (h *Home) AddDevice(device Device) {
	h.devices = append(h.devices, device)
}

func (h *Home) RemoveDevice(id uuid.UUID) {
	for i, device := range h.devices {
		if device.ID() == id {
			h.devices = append(h.devices[:i], h.devices[i+1:]...)
			return
		}
	}
}

func (h *Home) GetDevice(id uuid.UUID) Device {
	for _, device := range h.devices {
		if device.ID() == id {
			return device
		}
	}
	return nil
}

func (h *Home) SolarProductionPower() float64 {
	return stateNumeric(h.solarProductionPower)
}

// GridImportedPower is the current grid supply power in W, positive while
// exporting and negative while importing.
func (h *Home) GridImportedPower() float64 {
	return stateNumeric(h.gridImportedPower)
}

// HomeConsumptionPower is the power the home currently consumes, clamped at
// zero.
func (h *Home) HomeConsumptionPower() float64 {
	result := h.SolarProductionPower() - h.GridImportedPower()
	if result > 0 {
		return result
	}
	return 0.0
}

// SolarSelfConsumptionPower is the part of the solar production consumed in
// the home instead of being exported.
func (h *Home) SolarSelfConsumptionPower() float64 {
	if h.GridImportedPower() < 0 {
		return h.SolarProductionPower()
	}
	return h.SolarProductionPower() - h.GridImportedPower()
}

// SelfSufficiency is the fraction of the home consumption covered by solar
// production, in [0, 1]. Zero consumption yields zero.
func (h *Home) SelfSufficiency() float64 {
	consumption := h.HomeConsumptionPower()
	if consumption > 0 {
		return min(h.SolarSelfConsumptionPower()/consumption, 1.0)
	}
	return 0.0
}

// SelfConsumption is the fraction of the solar production consumed in the
// home, in [0, 1]. Zero production yields zero.
func (h *Home) SelfConsumption() float64 {
	production := h.SolarProductionPower()
	if production > 0 {
		return min(h.SolarSelfConsumptionPower()/production, 1.0)
	}
	return 0.0
}

func (h *Home) ProducedSolarEnergy() float64 {
	return stateNumeric(h.energyState.producedSolarEnergy)
}

func (h *Home) GridImportedEnergy() float64 {
	return stateNumeric(h.energyState.gridImportedEnergy)
}

func (h *Home) GridExportedEnergy() float64 {
	return stateNumeric(h.energyState.gridExportedEnergy)
}

func (h *Home) ConsumedEnergy() float64 {
	return h.GridImportedEnergy() - h.GridExportedEnergy() + h.ProducedSolarEnergy()
}

func (h *Home) ConsumedSolarEnergy() float64 {
	return h.ProducedSolarEnergy() - h.GridExportedEnergy()
}

// UpdateState refreshes the home metrics from the repository and fans the
// update out to every device with the current self-sufficiency ratio.
func (h *Home) UpdateState(repository domain.StatesRepository) error {
	h.solarProductionPower = domain.AssignIfAvailable(h.solarProductionPower, h.solarPowerValue.Evaluate(repository))
	h.gridImportedPower = domain.AssignIfAvailable(h.gridImportedPower, h.gridImportedValue.Evaluate(repository))
	h.energyState.updateState(repository)

	if h.energySnapshot == nil {
		h.SetSnapshot(h.ProducedSolarEnergy(), h.GridImportedEnergy(), h.GridExportedEnergy())
	}

	selfSufficiency := h.SelfSufficiency()
	for _, device := range h.devices {
		if err := device.UpdateState(repository, selfSufficiency); err != nil {
			return fmt.Errorf("update device %q: %w", device.Name(), err)
		}
	}
	return nil
}

// UpdatePowerConsumption records the current grid supply reading and lets
// every device adjust its control target, unless device control is
// disabled for the home.
func (h *Home) UpdatePowerConsumption(repository domain.StatesRepository, optimizer port.Optimizer) error {
	h.GridExportedPowerData.AddDataPoint(h.GridImportedPower(), h.now())

	if h.disableDeviceControl {
		return nil
	}
	for _, device := range h.devices {
		if err := device.UpdatePowerConsumption(repository, optimizer, h.GridExportedPowerData); err != nil {
			return fmt.Errorf("control device %q: %w", device.Name(), err)
		}
	}
	return nil
}

func (h *Home) RestoreState(producedSolarEnergy, gridImportedEnergy, gridExportedEnergy float64) {
	h.energyState.restoreState(producedSolarEnergy, gridImportedEnergy, gridExportedEnergy)
	h.SetSnapshot(producedSolarEnergy, gridImportedEnergy, gridExportedEnergy)
}

func (h *Home) SetSnapshot(producedSolarEnergy, gridImportedEnergy, gridExportedEnergy float64) {
	h.energySnapshot = &domain.HomeEnergySnapshot{
		ProducedSolarEnergy: producedSolarEnergy,
		GridImportedEnergy:  gridImportedEnergy,
		GridExportedEnergy:  gridExportedEnergy,
	}
}

func (h *Home) EnergySnapshot() *domain.HomeEnergySnapshot {
	return h.energySnapshot
}

// StoreEnergySnapshot freezes the current totals as the new daily baseline
// for the home and every device.
func (h *Home) StoreEnergySnapshot() {
	h.SetSnapshot(h.ProducedSolarEnergy(), h.GridImportedEnergy(), h.GridExportedEnergy())
	for _, device := range h.devices {
		device.SetSnapshot(device.ConsumedSolarEnergy(), device.ConsumedEnergy())
	}
}
