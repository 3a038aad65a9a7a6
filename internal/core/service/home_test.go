package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

const testDeviceID = "5678b1ca-0d90-4d20-9723-12ee5a43f607"

func testHomeFile() *config.HomeFile {
	return &config.HomeFile{
		Home: config.HomeConfig{
			Name:            "Test Home",
			SolarPower:      &config.ValueSpec{Value: "sensor.solar_power"},
			GridSupplyPower: &config.ValueSpec{Value: "sensor.grid_power"},
			SolarEnergy:     &config.ValueSpec{Value: "sensor.solar_energy"},
			ImportedEnergy:  &config.ValueSpec{Value: "sensor.imported_energy"},
			ExportedEnergy:  &config.ValueSpec{Value: "sensor.exported_energy"},
		},
		Devices: []config.DeviceConfig{
			{
				ID:     testDeviceID,
				Type:   "readonly-homeassistant",
				Name:   "Dishwasher",
				Power:  "sensor.dishwasher_power",
				Energy: &config.ValueSpec{Value: "sensor.dishwasher_energy"},
			},
		},
	}
}

func testHome(t *testing.T) (*Home, *fakeRepository) {
	t.Helper()
	home, err := NewHome(testHomeFile(), &fakeSessionStorage{}, NewDeviceTypeRegistry(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	repository := newFakeRepository()
	repository.set("sensor.solar_power", "5000", nil)
	repository.set("sensor.grid_power", "-2000", nil)
	repository.set("sensor.solar_energy", "100", nil)
	repository.set("sensor.imported_energy", "50", nil)
	repository.set("sensor.exported_energy", "30", nil)
	repository.set("sensor.dishwasher_power", "600", nil)
	repository.set("sensor.dishwasher_energy", "12", nil)
	return home, repository
}

func TestNewHomeValidatesConfig(t *testing.T) {
	file := testHomeFile()
	file.Home.SolarPower = nil
	_, err := NewHome(file, &fakeSessionStorage{}, NewDeviceTypeRegistry(zap.NewNop()), zap.NewNop())
	var configErr *domain.DeviceConfigError
	require.ErrorAs(t, err, &configErr)
}

func TestNewDeviceRejectsUnknownKind(t *testing.T) {
	_, err := NewDevice(config.DeviceConfig{Type: "washing-machine"}, &fakeSessionStorage{}, NewDeviceTypeRegistry(zap.NewNop()), zap.NewNop())
	assert.Error(t, err)
}

func TestHomePowerMetrics(t *testing.T) {
	home, repository := testHome(t)
	require.NoError(t, home.UpdateState(repository))

	assert.Equal(t, 5000.0, home.SolarProductionPower())
	assert.Equal(t, -2000.0, home.GridImportedPower())
	// producing 5000 and importing 2000 -> consuming 7000, the full solar
	// production is consumed at home
	assert.Equal(t, 7000.0, home.HomeConsumptionPower())
	assert.Equal(t, 5000.0, home.SolarSelfConsumptionPower())
}

func TestHomeSelfSufficiencyBounds(t *testing.T) {
	home, repository := testHome(t)

	// everything produced leaves the home, nothing is consumed
	repository.set("sensor.solar_power", "1000", nil)
	repository.set("sensor.grid_power", "3000", nil)
	require.NoError(t, home.UpdateState(repository))
	assert.InDelta(t, 0.0, home.SelfSufficiency(), 1e-9)

	// exporting surplus: the remaining consumption is fully solar
	repository.set("sensor.solar_power", "3000", nil)
	repository.set("sensor.grid_power", "1000", nil)
	require.NoError(t, home.UpdateState(repository))
	assert.InDelta(t, 1.0, home.SelfSufficiency(), 1e-9)

	repository.set("sensor.solar_power", "2000", nil)
	repository.set("sensor.grid_power", "2000", nil)
	require.NoError(t, home.UpdateState(repository))
	// consumption 0 is not covered by anything
	assert.InDelta(t, 0.0, home.SelfSufficiency(), 1e-9)
}

func TestHomeSelfSufficiencyNeverExceedsOne(t *testing.T) {
	home, repository := testHome(t)
	repository.set("sensor.solar_power", "5000", nil)
	repository.set("sensor.grid_power", "-2000", nil)
	require.NoError(t, home.UpdateState(repository))

	self := home.SelfSufficiency()
	assert.GreaterOrEqual(t, self, 0.0)
	assert.LessOrEqual(t, self, 1.0)
}

func TestHomeEnergyBalance(t *testing.T) {
	home, repository := testHome(t)
	require.NoError(t, home.UpdateState(repository))

	assert.Equal(t, 100.0, home.ProducedSolarEnergy())
	assert.Equal(t, 50.0, home.GridImportedEnergy())
	assert.Equal(t, 30.0, home.GridExportedEnergy())
	// imported - exported + produced
	assert.InDelta(t, 120.0, home.ConsumedEnergy(), 1e-9)
	assert.InDelta(t, 70.0, home.ConsumedSolarEnergy(), 1e-9)
	assert.InDelta(t, home.ConsumedEnergy(),
		home.GridImportedEnergy()-home.GridExportedEnergy()+home.ProducedSolarEnergy(), 1e-9)
}

func TestHomeEnergyKeepsLastValueWhenUnavailable(t *testing.T) {
	home, repository := testHome(t)
	require.NoError(t, home.UpdateState(repository))

	repository.set("sensor.solar_energy", domain.ValueUnavailable, nil)
	require.NoError(t, home.UpdateState(repository))
	assert.Equal(t, 100.0, home.ProducedSolarEnergy())
}

func TestHomeSnapshotRoundTrip(t *testing.T) {
	home, repository := testHome(t)
	require.NoError(t, home.UpdateState(repository))

	// the first cycle froze the baseline at the current totals
	snapshot := home.EnergySnapshot()
	require.NotNil(t, snapshot)
	assert.Equal(t, 100.0, snapshot.ProducedSolarEnergy)
	assert.Equal(t, 50.0, snapshot.GridImportedEnergy)
	assert.Equal(t, 30.0, snapshot.GridExportedEnergy)

	repository.set("sensor.solar_energy", "110", nil)
	repository.set("sensor.imported_energy", "55", nil)
	repository.set("sensor.exported_energy", "33", nil)
	require.NoError(t, home.UpdateState(repository))

	home.StoreEnergySnapshot()
	snapshot = home.EnergySnapshot()
	assert.Equal(t, 110.0, snapshot.ProducedSolarEnergy)
	assert.Equal(t, 55.0, snapshot.GridImportedEnergy)
	assert.Equal(t, 33.0, snapshot.GridExportedEnergy)
}

func TestHomeRestoreState(t *testing.T) {
	home, _ := testHome(t)
	home.RestoreState(100, 50, 30)

	assert.Equal(t, 100.0, home.ProducedSolarEnergy())
	assert.Equal(t, 50.0, home.GridImportedEnergy())
	assert.Equal(t, 30.0, home.GridExportedEnergy())
	require.NotNil(t, home.EnergySnapshot())
	assert.Equal(t, 100.0, home.EnergySnapshot().ProducedSolarEnergy)
}

func TestHomeDeviceLookup(t *testing.T) {
	home, _ := testHome(t)
	require.Len(t, home.Devices(), 1)

	device := home.Devices()[0]
	assert.Same(t, device, home.GetDevice(device.ID()))
	assert.Nil(t, home.GetDevice(uuid.New()))

	home.RemoveDevice(device.ID())
	assert.Empty(t, home.Devices())
}
