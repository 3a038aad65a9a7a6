package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const homeYAML = `home:
  name: My Home
  solar_power: sensor.solar_power
  grid_supply_power:
    value: sensor.grid_power
    inverted: true
  solar_energy:
    template: "{{ sensor.solar_energy_1 + sensor.solar_energy_2 }}"
  imported_energy:
    value: sensor.imported_energy
    scale: 0.001
  exported_energy: sensor.exported_energy
devices:
  - id: 5678b1ca-0d90-4d20-9723-12ee5a43f607
    type: homeassistant
    name: Pool Pump
    power: sensor.pump_power
    energy: sensor.pump_energy
    output: switch.pump
    nominal_power: 1000
    state:
      state_on:
        threshold: 5
      state_off:
        threshold: 2
        trailing_zeros_for: 120
`

func TestLoadHomeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.yaml")
	require.NoError(t, os.WriteFile(path, []byte(homeYAML), 0o644))

	file, err := LoadHomeFile(path)
	require.NoError(t, err)

	assert.Equal(t, "My Home", file.Home.Name)

	// scalar form carries just the entity id
	require.NotNil(t, file.Home.SolarPower)
	assert.Equal(t, "sensor.solar_power", file.Home.SolarPower.Value)

	// record form with modifiers
	require.NotNil(t, file.Home.GridSupplyPower)
	assert.Equal(t, "sensor.grid_power", file.Home.GridSupplyPower.Value)
	assert.True(t, file.Home.GridSupplyPower.Inverted)

	require.NotNil(t, file.Home.SolarEnergy)
	assert.Equal(t, "{{ sensor.solar_energy_1 + sensor.solar_energy_2 }}", file.Home.SolarEnergy.Template)

	require.NotNil(t, file.Home.ImportedEnergy)
	assert.Equal(t, 0.001, file.Home.ImportedEnergy.Scale)

	require.Len(t, file.Devices, 1)
	device := file.Devices[0]
	assert.Equal(t, "homeassistant", device.Type)
	assert.Equal(t, "sensor.pump_energy", device.Energy.Value)
	assert.Equal(t, "switch.pump", device.Output)
	require.NotNil(t, device.NominalPower)
	assert.Equal(t, 1000.0, *device.NominalPower)
	require.NotNil(t, device.StateDetection)
	assert.Equal(t, 5.0, device.StateDetection.StateOn.Threshold)
	assert.Equal(t, 120.0, device.StateDetection.StateOff.TrailingZerosFor)
}

func TestLoadHomeFileMissing(t *testing.T) {
	_, err := LoadHomeFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadHomeFileRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.yaml")
	require.NoError(t, os.WriteFile(path, []byte("home: [broken"), 0o644))
	_, err := LoadHomeFile(path)
	assert.Error(t, err)
}
