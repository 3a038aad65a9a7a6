package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRepository struct {
	*StatesCache
}

func newTestRepository(channel string) *testRepository {
	return &testRepository{StatesCache: NewStatesCache(channel)}
}

func (r *testRepository) ReadStates(ctx context.Context) error  { return nil }
func (r *testRepository) WriteStates(ctx context.Context) error { return nil }

func TestStatesCacheLookup(t *testing.T) {
	cache := newTestRepository(ChannelHomeAssistant)
	cache.UpdateReadState(NewState("sensor.power", "100", nil))

	require.NotNil(t, cache.GetState("sensor.power"))
	assert.Equal(t, 100.0, cache.GetState("sensor.power").NumericValue())
	assert.Nil(t, cache.GetState("sensor.missing"))

	assert.NotNil(t, cache.GetStateByID(StateID{ID: "sensor.power", Channel: ChannelHomeAssistant}))
	assert.Nil(t, cache.GetStateByID(StateID{ID: "sensor.power", Channel: ChannelMQTT}))
}

func TestStatesCacheTemplateStates(t *testing.T) {
	cache := newTestRepository(ChannelHomeAssistant)
	cache.UpdateReadState(NewState("sensor.energy_low", "856", nil))
	cache.UpdateReadState(NewState("sensor.energy_high", "7", nil))
	cache.UpdateReadState(NewState("bare_counter", "3", nil))

	states := cache.GetTemplateStates()
	sensors, ok := states["sensor"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, 856.0, sensors["energy_low"])
	assert.Equal(t, 7.0, sensors["energy_high"])
	assert.Equal(t, 3.0, states["bare_counter"])

	// a fresh reading invalidates the grouped view
	cache.UpdateReadState(NewState("sensor.energy_low", "857", nil))
	sensors = cache.GetTemplateStates()["sensor"].(map[string]float64)
	assert.Equal(t, 857.0, sensors["energy_low"])
}

func TestStatesCacheStagedWrites(t *testing.T) {
	cache := newTestRepository(ChannelHomeAssistant)
	cache.SetState(StateID{ID: "switch.pump", Channel: ChannelHomeAssistant}, "on", nil)
	cache.SetState(StateID{ID: "switch.pump", Channel: ChannelHomeAssistant}, "off", nil)

	writes := cache.StagedWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, "off", writes[0].Value())

	// drained
	assert.Nil(t, cache.StagedWrites())
}

func TestStatesMultipleRepositoriesRouting(t *testing.T) {
	ha := newTestRepository(ChannelHomeAssistant)
	mqtt := newTestRepository(ChannelMQTT)
	ha.UpdateReadState(NewState("sensor.power", "100", nil))
	mqtt.UpdateReadState(NewState("sensor.power", "200", nil))
	mqtt.UpdateReadState(NewState("meter.energy", "5", nil))

	multi := NewStatesMultipleRepositories(ha, mqtt)

	// bare id lookup takes the first channel that knows the id
	assert.Equal(t, 100.0, multi.GetState("sensor.power").NumericValue())
	assert.Equal(t, 5.0, multi.GetState("meter.energy").NumericValue())

	// channel qualified lookup routes to the matching member
	assert.Equal(t, 200.0,
		multi.GetStateByID(StateID{ID: "sensor.power", Channel: ChannelMQTT}).NumericValue())

	multi.SetState(StateID{ID: "switch.pump", Channel: ChannelMQTT}, "on", nil)
	assert.Nil(t, ha.StagedWrites())
	require.Len(t, mqtt.StagedWrites(), 1)
}
