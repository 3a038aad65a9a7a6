package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

func f64(value float64) *float64 {
	return &value
}

func TestConvertToKWh(t *testing.T) {
	state, err := ConvertToKWh(domain.NewState("sensor.energy", "2500", map[string]any{attributeUnit: "Wh"}))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, state.NumericValue(), 1e-9)
	assert.Equal(t, "kWh", state.StringAttribute(attributeUnit))

	state, err = ConvertToKWh(domain.NewState("sensor.energy", "2.5", map[string]any{attributeUnit: "kWh"}))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, state.NumericValue(), 1e-9)

	// a missing unit is assumed to already be kWh
	state, err = ConvertToKWh(domain.NewState("sensor.energy", "2.5", nil))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, state.NumericValue(), 1e-9)

	_, err = ConvertToKWh(domain.NewState("sensor.energy", "2.5", map[string]any{attributeUnit: "W"}))
	var invalidUnit *InvalidUnitError
	require.ErrorAs(t, err, &invalidUnit)
	assert.Equal(t, "W", invalidUnit.Unit)

	state, err = ConvertToKWh(nil)
	require.NoError(t, err)
	assert.Nil(t, state)

	unavailable := domain.NewUnavailableState("sensor.energy")
	state, err = ConvertToKWh(unavailable)
	require.NoError(t, err)
	assert.Same(t, unavailable, state)
}

func testPumpConfig() config.DeviceConfig {
	return config.DeviceConfig{
		ID:           testDeviceID,
		Type:         "homeassistant",
		Name:         "Pool Pump",
		Power:        "sensor.pump_power",
		Energy:       &config.ValueSpec{Value: "sensor.pump_energy"},
		Output:       "switch.pump",
		NominalPower: f64(1000),
		StateDetection: &config.StateDetectionConfig{
			StateOn:  config.ThresholdConfig{Threshold: 5},
			StateOff: config.OffConfig{Threshold: 2, TrailingZerosFor: 60},
		},
	}
}

func newTestPump(t *testing.T, clock *time.Time) *HomeAssistantDevice {
	t.Helper()
	device, err := NewHomeAssistantDevice(testPumpConfig(), &fakeSessionStorage{}, NewDeviceTypeRegistry(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	device.now = func() time.Time { return *clock }
	return device
}

func TestReadOnlyDeviceRequiresConfig(t *testing.T) {
	cfg := testPumpConfig()
	cfg.Energy = nil
	_, err := NewHomeAssistantDevice(cfg, &fakeSessionStorage{}, NewDeviceTypeRegistry(zap.NewNop()), zap.NewNop())
	var configErr *domain.DeviceConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "energy", configErr.Parameter)
}

func TestDeviceStateDetection(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	repository := newFakeRepository()
	repository.set("sensor.pump_energy", "10", map[string]any{attributeUnit: "kWh"})

	// an idle device starts off
	repository.set("sensor.pump_power", "0", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, domain.StateOff, device.State())

	// power above the on threshold switches on
	clock = clock.Add(30 * time.Second)
	repository.set("sensor.pump_power", "600", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, domain.StateOn, device.State())

	// a short dip keeps it on, the 600W sample is still in the window
	clock = clock.Add(30 * time.Second)
	repository.set("sensor.pump_power", "0", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, domain.StateOn, device.State())

	// sustained zero power switches off
	for i := 0; i < 4; i++ {
		clock = clock.Add(30 * time.Second)
		require.NoError(t, device.UpdateState(repository, 0.5))
	}
	assert.Equal(t, domain.StateOff, device.State())
}

func TestDeviceUnavailableSensorKeepsLastValue(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	repository := newFakeRepository()
	repository.set("sensor.pump_power", "600", nil)
	repository.set("sensor.pump_energy", "10", map[string]any{attributeUnit: "kWh"})
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, 10.0, device.ConsumedEnergy())

	repository.set("sensor.pump_energy", domain.ValueUnavailable, nil)
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, 10.0, device.ConsumedEnergy())
}

func TestDeviceSolarAttribution(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	repository := newFakeRepository()
	repository.set("sensor.pump_power", "600", nil)
	repository.set("sensor.pump_energy", "10", map[string]any{attributeUnit: "kWh"})
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.InDelta(t, 5.0, device.ConsumedSolarEnergy(), 1e-9)

	repository.set("sensor.pump_energy", "14", map[string]any{attributeUnit: "kWh"})
	require.NoError(t, device.UpdateState(repository, 0.25))
	assert.InDelta(t, 6.0, device.ConsumedSolarEnergy(), 1e-9)
}

func TestDeviceRestoreState(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	device.RestoreState(15, 20)
	assert.Equal(t, 15.0, device.ConsumedSolarEnergy())
	assert.Equal(t, 20.0, device.ConsumedEnergy())
	require.NotNil(t, device.EnergySnapshot())
	assert.Equal(t, 15.0, device.EnergySnapshot().ConsumedSolarEnergy)

	repository := newFakeRepository()
	repository.set("sensor.pump_power", "0", nil)
	repository.set("sensor.pump_energy", "30", map[string]any{attributeUnit: "kWh"})
	require.NoError(t, device.UpdateState(repository, 0.1))
	assert.InDelta(t, 16.0, device.ConsumedSolarEnergy(), 1e-9)
}

func TestDevicePVModeSwitchesOnSurplus(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModePV))
	repository := newFakeRepository()

	// steady export above nominal power plus hysteresis
	gridExported := NewFloatDataBuffer()
	for i := 0; i < 10; i++ {
		gridExported.AddDataPoint(1200, clock.Add(time.Duration(i-10)*30*time.Second))
	}
	require.NoError(t, device.UpdatePowerConsumption(repository, nil, gridExported))

	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "switch.pump", writes[0].ID())
	assert.Equal(t, "on", writes[0].Value())
}

func TestDevicePVModeSwitchesOffWhenSurplusGone(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModePV))
	repository := newFakeRepository()

	// switch on first
	gridExported := NewFloatDataBuffer()
	for i := 0; i < 10; i++ {
		gridExported.AddDataPoint(1200, clock.Add(time.Duration(i-10)*30*time.Second))
	}
	require.NoError(t, device.UpdatePowerConsumption(repository, nil, gridExported))
	repository.StagedWrites()

	// the output turned on, ten minutes later the surplus is gone
	repository.set("switch.pump", "on", nil)
	repository.set("sensor.pump_power", "950", nil)
	repository.set("sensor.pump_energy", "10", map[string]any{attributeUnit: "kWh"})
	clock = clock.Add(10 * time.Minute)
	require.NoError(t, device.UpdateState(repository, 0.5))

	lowExport := NewFloatDataBuffer()
	for i := 0; i < 10; i++ {
		lowExport.AddDataPoint(100, clock.Add(time.Duration(i-10)*30*time.Second))
	}
	require.NoError(t, device.UpdatePowerConsumption(repository, nil, lowExport))

	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "off", writes[0].Value())
}

func TestDeviceOptimizedModeFollowsPlan(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModeOptimized))
	repository := newFakeRepository()
	optimizer := &fakeOptimizer{budgets: map[uuid.UUID]float64{device.ID(): 800}}

	require.NoError(t, device.UpdatePowerConsumption(repository, optimizer, NewFloatDataBuffer()))
	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "on", writes[0].Value())

	// no budget means off; without a prior output reading nothing changes
	noBudget := &fakeOptimizer{}
	require.NoError(t, device.UpdatePowerConsumption(repository, noBudget, NewFloatDataBuffer()))
	assert.Nil(t, repository.StagedWrites())
}

func TestDeviceRejectsUnsupportedPowerMode(t *testing.T) {
	clock := bufferBase
	device := newTestPump(t, &clock)
	err := device.SetPowerMode(domain.PowerModeMinPV)
	var unsupported *domain.UnsupportedPowerModeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, domain.PowerModeDeviceControlled, device.PowerMode())
}
