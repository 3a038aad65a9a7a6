package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sunledger/internal/core/port"
)

func TestMeasurementStoreRoundTrip(t *testing.T) {
	folder := t.TempDir()
	store, err := NewMeasurementStore(folder, zap.NewNop())
	require.NoError(t, err)

	deviceID := uuid.New()
	measurement := port.HomeMeasurement{
		Date:                time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		ProducedSolarEnergy: 120,
		GridImportedEnergy:  80,
		GridExportedEnergy:  30,
		Devices: []port.DeviceMeasurement{
			{DeviceID: deviceID, ConsumedEnergy: 12, ConsumedSolarEnergy: 7},
		},
	}
	require.NoError(t, store.Store(context.Background(), measurement))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, measurement, *loaded)
}

func TestMeasurementStoreLoadMissing(t *testing.T) {
	store, err := NewMeasurementStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMeasurementStoreRejectsCorruptFile(t *testing.T) {
	folder := t.TempDir()
	store, err := NewMeasurementStore(folder, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(folder, measurementFile), []byte("{broken"), 0o644))

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestMeasurementStoreOverwrites(t *testing.T) {
	folder := t.TempDir()
	store, err := NewMeasurementStore(folder, zap.NewNop())
	require.NoError(t, err)

	first := port.HomeMeasurement{ProducedSolarEnergy: 1}
	second := port.HomeMeasurement{ProducedSolarEnergy: 2}
	require.NoError(t, store.Store(context.Background(), first))
	require.NoError(t, store.Store(context.Background(), second))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, loaded.ProducedSolarEnergy)
}
