// Package storage persists measurements and device sessions as JSON files
// under the configured data folder.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sunledger/internal/core/port"
)

const measurementFile = "measurement.json"

// MeasurementStore keeps the latest home measurement in a single JSON file,
// replaced atomically on every store.
type MeasurementStore struct {
	path   string
	logger *zap.Logger
}

func NewMeasurementStore(dataFolder string, logger *zap.Logger) (*MeasurementStore, error) {
	if err := os.MkdirAll(dataFolder, 0o755); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}
	return &MeasurementStore{
		path:   filepath.Join(dataFolder, measurementFile),
		logger: logger.With(zap.String("adapter", "storage")),
	}, nil
}

func (s *MeasurementStore) Load(ctx context.Context) (*port.HomeMeasurement, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read measurement: %w", err)
	}
	var measurement port.HomeMeasurement
	if err := json.Unmarshal(data, &measurement); err != nil {
		return nil, fmt.Errorf("decode measurement: %w", err)
	}
	return &measurement, nil
}

func (s *MeasurementStore) Store(ctx context.Context, measurement port.HomeMeasurement) error {
	data, err := json.MarshalIndent(measurement, "", "  ")
	if err != nil {
		return fmt.Errorf("encode measurement: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic replaces path via a rename so readers never observe a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
