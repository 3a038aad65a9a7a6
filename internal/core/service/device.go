package service

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/core/domain"
	"sunledger/internal/core/port"
)

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 0, 64)
}

func formatEnergy(kwh float64) string {
	return strconv.FormatFloat(kwh, 'f', 3, 64)
}

const (
	// PowerHysteresis is the relative dead band around a device's nominal
	// power used by the PV control mode to avoid flapping.
	PowerHysteresis = 0.1

	DefaultNominalPower    = 300.0
	DefaultNominalDuration = 1800.0
)

// Device is a consumer of energy tracked by the home. The concrete kinds
// are a closed set; they share BaseDevice for the attribution plumbing.
type Device interface {
	ID() uuid.UUID
	Name() string
	Type() string
	Icon() string
	Available() bool
	State() domain.OnOffState

	// Power is the current consumption in W.
	Power() float64
	// ConsumedEnergy is the cumulative consumption in kWh.
	ConsumedEnergy() float64
	// ConsumedSolarEnergy is the solar share of ConsumedEnergy in kWh.
	ConsumedSolarEnergy() float64

	PowerMode() domain.PowerMode
	SupportedPowerModes() []domain.PowerMode
	SetPowerMode(mode domain.PowerMode) error

	// UpdateState refreshes the device fields from the repository and
	// feeds the consumed-energy reading into the attribution integrator.
	UpdateState(repository domain.StatesRepository, selfSufficiency float64) error
	// UpdatePowerConsumption decides a new control target based on the
	// power mode and stages it on the repository if it changed.
	UpdatePowerConsumption(repository domain.StatesRepository, optimizer port.Optimizer, gridExportedPower *FloatDataBuffer) error

	RestoreState(consumedSolarEnergy float64, consumedEnergy float64)
	SetSnapshot(consumedSolarEnergy float64, consumedEnergy float64)
	EnergySnapshot() *domain.EnergySnapshot

	Attributes() map[string]string
	// LoadInfo describes the device as a plannable load, nil when it
	// cannot be planned right now.
	LoadInfo() *domain.LoadInfo
}

// BaseDevice carries identity, the attribution integrator, the daily
// snapshot and the power-mode bookkeeping shared by all device kinds.
type BaseDevice struct {
	id                  uuid.UUID
	name                string
	consumedSolarEnergy *EnergyIntegrator
	energySnapshot      *domain.EnergySnapshot
	supportedPowerModes []domain.PowerMode
	powerMode           domain.PowerMode
	utilityMeters       []*UtilityMeter
	logger              *zap.Logger
	now                 func() time.Time
}

func newBaseDevice(id uuid.UUID, name string, logger *zap.Logger) BaseDevice {
	return BaseDevice{
		id:                  id,
		name:                name,
		consumedSolarEnergy: NewEnergyIntegrator(),
		supportedPowerModes: []domain.PowerMode{domain.PowerModeDeviceControlled},
		powerMode:           domain.PowerModeDeviceControlled,
		logger:              logger.With(zap.String("device", name)),
		now:                 time.Now,
	}
}

func (d *BaseDevice) ID() uuid.UUID {
	return d.id
}

func (d *BaseDevice) Name() string {
	return d.name
}

func (d *BaseDevice) ConsumedSolarEnergy() float64 {
	return d.consumedSolarEnergy.ConsumedSolarEnergy()
}

func (d *BaseDevice) PowerMode() domain.PowerMode {
	return d.powerMode
}

func (d *BaseDevice) SupportedPowerModes() []domain.PowerMode {
	return append([]domain.PowerMode(nil), d.supportedPowerModes...)
}

// SetPowerMode rejects modes the device does not support; the device state
// is left untouched on error.
func (d *BaseDevice) SetPowerMode(mode domain.PowerMode) error {
	for _, supported := range d.supportedPowerModes {
		if supported == mode {
			d.powerMode = mode
			return nil
		}
	}
	return domain.NewUnsupportedPowerModeError(d.id, mode)
}

func (d *BaseDevice) addSupportedPowerModes(modes ...domain.PowerMode) {
	d.supportedPowerModes = append(d.supportedPowerModes, modes...)
}

// RestoreState seeds the attribution integrator and the snapshot from the
// persisted totals, so the first post-restart cycle produces no spurious
// delta.
func (d *BaseDevice) RestoreState(consumedSolarEnergy float64, consumedEnergy float64) {
	d.consumedSolarEnergy.RestoreState(consumedSolarEnergy, consumedEnergy)
	d.SetSnapshot(consumedSolarEnergy, consumedEnergy)
}

func (d *BaseDevice) SetSnapshot(consumedSolarEnergy float64, consumedEnergy float64) {
	d.energySnapshot = &domain.EnergySnapshot{
		ConsumedSolarEnergy: consumedSolarEnergy,
		ConsumedEnergy:      consumedEnergy,
	}
}

func (d *BaseDevice) EnergySnapshot() *domain.EnergySnapshot {
	return d.energySnapshot
}

// AddUtilityMeter attaches a reset-tolerant meter to the device.
func (d *BaseDevice) AddUtilityMeter(name string) *UtilityMeter {
	meter := NewUtilityMeter(name)
	d.utilityMeters = append(d.utilityMeters, meter)
	return meter
}

func (d *BaseDevice) UtilityMeters() []*UtilityMeter {
	return d.utilityMeters
}

// UpdateEnergyState runs a reading provided as a State through the meter
// and wraps the reconstructed total in a new State.
func (m *UtilityMeter) UpdateEnergyState(state *domain.State) *domain.State {
	if state == nil {
		return nil
	}
	return domain.NewNumericState(state.ID(), m.UpdateEnergy(state.NumericValue()))
}

// sessionTracker runs the on/off session state machine against the
// injected SessionStorage. OFF to ON starts a session, ON to ON updates the
// running totals, ON to OFF closes it out.
type sessionTracker struct {
	storage        port.SessionStorage
	currentSession *domain.Session
	enabled        bool
	logger         *zap.Logger
}

func (t *sessionTracker) track(deviceID uuid.UUID, label string, oldOn bool, newOn bool, solarEnergy float64, energy float64) error {
	if !t.enabled || t.storage == nil {
		return nil
	}
	if newOn {
		if !oldOn {
			t.logger.Info("session started", zap.String("label", label))
			session, err := t.storage.StartSession(deviceID, label, solarEnergy, energy)
			if err != nil {
				return err
			}
			t.currentSession = &session
			return nil
		}
		if t.currentSession != nil {
			return t.storage.UpdateSession(t.currentSession.ID, solarEnergy, energy)
		}
		return nil
	}
	if oldOn {
		t.logger.Info("session ended", zap.String("label", label))
	}
	if t.currentSession != nil {
		return t.storage.UpdateSessionEnergy(t.currentSession.ID, solarEnergy, energy)
	}
	return nil
}

// sessionDuration is how long the current session has been running.
func (t *sessionTracker) sessionDuration(now time.Time) time.Duration {
	if t.currentSession == nil {
		return 0
	}
	return now.Sub(t.currentSession.Start)
}

func (t *sessionTracker) sessionAttributes(now time.Time, solarEnergy float64, energy float64, result map[string]string) {
	if t.currentSession == nil {
		return
	}
	result["session_time"] = formatSeconds(now.Sub(t.currentSession.Start).Seconds())
	result["session_energy"] = formatEnergy(energy - t.currentSession.StartConsumedEnergy)
	result["session_solar_energy"] = formatEnergy(solarEnergy - t.currentSession.StartSolarConsumedEnergy)
}
