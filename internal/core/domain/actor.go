package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActorIDMaster    = "master"
	ActorIDMonitor   = "monitor"
	ActorIDOptimizer = "optimizer"
)

type ActorRequestMixIn struct{}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	ID      string
	Healthy bool
	State   string
}

// HomeStateRequest asks the monitor for a copy of the current home metrics.
type HomeStateRequest struct {
	ActorRequestMixIn
}

type HomeStateResponse struct {
	ActorResponseMixIn
	Home HomeInfo
}

type DeviceListRequest struct {
	ActorRequestMixIn
}

type DeviceListResponse struct {
	ActorResponseMixIn
	Devices []DeviceInfo
}

// SetPowerModeRequest changes the power mode of one device. It is handled
// inside the monitor mailbox so it serializes with the update cycle.
type SetPowerModeRequest struct {
	ActorRequestMixIn
	DeviceID  uuid.UUID
	PowerMode PowerMode
}

type SetPowerModeResponse struct {
	ActorResponseMixIn
	DeviceID  uuid.UUID
	PowerMode PowerMode
}

// OptimizeRequest triggers a day-ahead optimization run. Sent by the cron
// schedule, handled inside the monitor mailbox.
type OptimizeRequest struct {
	ActorRequestMixIn
}

type OptimizeResponse struct {
	ActorResponseMixIn
}

// HomeInfo is a snapshot of the home metrics for the API layer.
type HomeInfo struct {
	Name                     string    `json:"name"`
	SolarProductionPower     float64   `json:"solar_production_power"`
	GridImportedPower        float64   `json:"grid_imported_power"`
	HomeConsumptionPower     float64   `json:"home_consumption_power"`
	SelfSufficiency          float64   `json:"self_sufficiency"`
	ProducedSolarEnergy      float64   `json:"produced_solar_energy"`
	GridImportedEnergy       float64   `json:"grid_imported_energy"`
	GridExportedEnergy       float64   `json:"grid_exported_energy"`
	ConsumedEnergy           float64   `json:"consumed_energy"`
	ConsumedSolarEnergy      float64   `json:"consumed_solar_energy"`
	DailyConsumedEnergy      float64   `json:"daily_consumed_energy"`
	DailyConsumedSolarEnergy float64   `json:"daily_consumed_solar_energy"`
	DailyProducedSolarEnergy float64   `json:"daily_produced_solar_energy"`
	Timestamp                time.Time `json:"timestamp"`
}

// DeviceInfo is a snapshot of one device for the API layer.
type DeviceInfo struct {
	ID                  uuid.UUID         `json:"id"`
	Name                string            `json:"name"`
	Type                string            `json:"type"`
	Icon                string            `json:"icon"`
	State               OnOffState        `json:"state"`
	Available           bool              `json:"available"`
	Power               float64           `json:"power"`
	ConsumedEnergy      float64           `json:"consumed_energy"`
	ConsumedSolarEnergy float64           `json:"consumed_solar_energy"`
	PowerMode           PowerMode         `json:"power_mode"`
	SupportedPowerModes []PowerMode       `json:"supported_power_modes"`
	Attributes          map[string]string `json:"attributes"`
}
