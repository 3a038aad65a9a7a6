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

func testHeatPumpConfig() config.DeviceConfig {
	return config.DeviceConfig{
		ID:                       testDeviceID,
		Type:                     "heat-pump",
		Name:                     "Heat Pump",
		Energy:                   &config.ValueSpec{Value: "sensor.heatpump_energy"},
		Temperature:              "sensor.water_temperature",
		State:                    "binary_sensor.heatpump_state",
		ComfortTargetTemperature: "number.water_target_temperature",
		TargetTemperatureNormal:  f64(50),
		TargetTemperaturePV:      f64(55),
		NominalPower:             f64(3000),
	}
}

func newTestHeatPump(t *testing.T, clock *time.Time) *HeatPumpDevice {
	t.Helper()
	device, err := NewHeatPumpDevice(testHeatPumpConfig(), &fakeSessionStorage{}, zap.NewNop())
	require.NoError(t, err)
	device.now = func() time.Time { return *clock }
	return device
}

func TestHeatPumpRequiresConfig(t *testing.T) {
	cfg := testHeatPumpConfig()
	cfg.Temperature = ""
	_, err := NewHeatPumpDevice(cfg, &fakeSessionStorage{}, zap.NewNop())
	var configErr *domain.DeviceConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "temperature", configErr.Parameter)
}

func TestHeatPumpUpdateState(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	repository := newFakeRepository()
	repository.set("binary_sensor.heatpump_state", "on", nil)
	repository.set("sensor.heatpump_energy", "12", nil)
	repository.set("sensor.water_temperature", "48.5", nil)

	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, domain.StateOn, device.State())
	assert.Equal(t, 3000.0, device.Power())
	assert.Equal(t, 12.0, device.ConsumedEnergy())
	assert.Equal(t, 48.5, device.ActualTemperature())
	assert.InDelta(t, 6.0, device.ConsumedSolarEnergy(), 1e-9)
	assert.True(t, device.Available())

	repository.set("binary_sensor.heatpump_state", "off", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))
	assert.Equal(t, domain.StateOff, device.State())
	assert.Equal(t, 0.0, device.Power())
}

func TestHeatPumpPVModeRaisesTargetOnSurplus(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModePV))
	repository := newFakeRepository()
	repository.set("binary_sensor.heatpump_state", "off", nil)
	repository.set("sensor.heatpump_energy", "12", nil)
	repository.set("sensor.water_temperature", "48.5", nil)
	repository.set("number.water_target_temperature", "50", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))

	// average export above nominal power plus hysteresis
	gridExported := NewFloatDataBuffer()
	for i := 0; i < 10; i++ {
		gridExported.AddDataPoint(3500, clock.Add(time.Duration(i-10)*30*time.Second))
	}
	require.NoError(t, device.UpdatePowerConsumption(repository, nil, gridExported))

	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "number.water_target_temperature", writes[0].ID())
	assert.Equal(t, "55", writes[0].Value())
}

func TestHeatPumpPVModeLowersTargetWhenSurplusGone(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModePV))
	repository := newFakeRepository()
	repository.set("binary_sensor.heatpump_state", "off", nil)
	repository.set("sensor.heatpump_energy", "12", nil)
	repository.set("sensor.water_temperature", "54", nil)
	repository.set("number.water_target_temperature", "55", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))

	gridExported := NewFloatDataBuffer()
	for i := 0; i < 10; i++ {
		gridExported.AddDataPoint(500, clock.Add(time.Duration(i-10)*30*time.Second))
	}
	require.NoError(t, device.UpdatePowerConsumption(repository, nil, gridExported))

	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "50", writes[0].Value())
}

func TestHeatPumpPVModeKeepsTargetWhileRunning(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModePV))
	repository := newFakeRepository()
	repository.set("binary_sensor.heatpump_state", "on", nil)
	repository.set("sensor.heatpump_energy", "12", nil)
	repository.set("sensor.water_temperature", "48.5", nil)
	repository.set("number.water_target_temperature", "55", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))

	require.NoError(t, device.UpdatePowerConsumption(repository, nil, NewFloatDataBuffer()))
	assert.Nil(t, repository.StagedWrites())
}

func TestHeatPumpOptimizedModeFollowsPlan(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	require.NoError(t, device.SetPowerMode(domain.PowerModeOptimized))
	repository := newFakeRepository()
	repository.set("binary_sensor.heatpump_state", "off", nil)
	repository.set("sensor.heatpump_energy", "12", nil)
	repository.set("sensor.water_temperature", "48.5", nil)
	repository.set("number.water_target_temperature", "50", nil)
	require.NoError(t, device.UpdateState(repository, 0.5))

	optimizer := &fakeOptimizer{budgets: map[uuid.UUID]float64{device.ID(): 3000}}
	require.NoError(t, device.UpdatePowerConsumption(repository, optimizer, NewFloatDataBuffer()))
	writes := repository.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "55", writes[0].Value())
}

func TestHeatPumpWithoutTargetsIsNotControllable(t *testing.T) {
	cfg := testHeatPumpConfig()
	cfg.TargetTemperaturePV = nil
	device, err := NewHeatPumpDevice(cfg, &fakeSessionStorage{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []domain.PowerMode{domain.PowerModeDeviceControlled}, device.SupportedPowerModes())

	err = device.SetPowerMode(domain.PowerModePV)
	var unsupported *domain.UnsupportedPowerModeError
	assert.ErrorAs(t, err, &unsupported)
}

func TestHeatPumpLoadInfo(t *testing.T) {
	clock := bufferBase
	device := newTestHeatPump(t, &clock)
	assert.Nil(t, device.LoadInfo())

	require.NoError(t, device.SetPowerMode(domain.PowerModeOptimized))
	info := device.LoadInfo()
	require.NotNil(t, info)
	assert.Equal(t, device.ID(), info.DeviceID)
	assert.Equal(t, 3000.0, info.NominalPower)
	assert.True(t, info.IsDeferrable)
}
