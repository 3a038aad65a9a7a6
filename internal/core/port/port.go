// Package port declares the seams between the energy core and its external
// collaborators. The core only ever sees these interfaces.
package port

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sunledger/internal/core/domain"
)

// Optimizer plans power budgets for deferrable loads. How the plan is
// computed is not the core's concern.
type Optimizer interface {
	// GetOptimizedPower returns the planned power for a device right now.
	// A negative value means no plan is available and the device must not
	// be turned on.
	GetOptimizedPower(deviceID uuid.UUID) float64
	// UpdateLoads hands the optimizer the current deferrable load set so
	// it can recompute its plan.
	UpdateLoads(ctx context.Context, loads []domain.LoadInfo) error
	// Optimize runs a day-ahead optimization over the current load set.
	Optimize(ctx context.Context) error
}

// SessionStorage records device on-phases. Persistence format is the
// collaborator's concern; the core only drives the transitions.
type SessionStorage interface {
	StartSession(deviceID uuid.UUID, label string, solarConsumedEnergy float64, consumedEnergy float64) (domain.Session, error)
	UpdateSession(id int64, solarConsumedEnergy float64, consumedEnergy float64) error
	UpdateSessionEnergy(id int64, solarConsumedEnergy float64, consumedEnergy float64) error
}

// DeviceMeasurement is the durable per-device snapshot state.
type DeviceMeasurement struct {
	DeviceID            uuid.UUID `json:"device_id"`
	ConsumedEnergy      float64   `json:"consumed_energy"`
	ConsumedSolarEnergy float64   `json:"consumed_solar_energy"`
}

// HomeMeasurement is the durable whole-home snapshot state.
type HomeMeasurement struct {
	Date                time.Time           `json:"date"`
	ProducedSolarEnergy float64             `json:"produced_solar_energy"`
	GridImportedEnergy  float64             `json:"grid_imported_energy"`
	GridExportedEnergy  float64             `json:"grid_exported_energy"`
	Devices             []DeviceMeasurement `json:"devices"`
}

// MeasurementStore persists the cumulative totals across process restarts
// and once per day for the daily aggregates.
type MeasurementStore interface {
	// Load returns the most recently stored measurement, or nil when
	// nothing has been stored yet.
	Load(ctx context.Context) (*HomeMeasurement, error)
	Store(ctx context.Context, measurement HomeMeasurement) error
}
