// Package emhass implements the load optimizer against an EMHASS server.
// Day-ahead optimizations run over REST and the resulting deferrable load
// schedule is cached so power budget lookups stay local.
package emhass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

const requestTimeout = 10 * time.Minute

// runtimeParams is the subset of EMHASS runtime parameters driven by the
// current deferrable load set.
type runtimeParams struct {
	NumberOfDeferrableLoads int       `json:"number_of_deferrable_loads"`
	NominalPower            []float64 `json:"nominal_power_of_deferrable_loads"`
	OperatingHours          []float64 `json:"operating_hours_of_each_deferrable_load"`
	TreatAsSemiContinuous   []bool    `json:"treat_deferrable_load_as_semi_cont"`
	SetAsConstant           []bool    `json:"set_deferrable_load_single_constant"`
}

// dayAheadPlan is one decoded optimization result. Series are keyed by
// EMHASS column name, P_deferrable0..n for the deferrable loads.
type dayAheadPlan struct {
	timestamps []time.Time
	series     map[string][]float64
}

// valueAt returns the series value for the slot closest to now, or -1 when
// the series is missing or now falls outside the plan.
func (p *dayAheadPlan) valueAt(column string, now time.Time) float64 {
	values, ok := p.series[column]
	if !ok || len(values) == 0 || len(p.timestamps) == 0 {
		return -1
	}
	closest := -1
	var closestDistance time.Duration
	for i, timestamp := range p.timestamps {
		distance := now.Sub(timestamp).Abs()
		if closest < 0 || distance < closestDistance {
			closest = i
			closestDistance = distance
		}
	}
	if closest >= len(values) {
		return -1
	}
	return values[closest]
}

// Optimizer is the EMHASS-backed load planner. It is driven from a single
// goroutine and keeps no internal locking.
type Optimizer struct {
	url    string
	client *http.Client
	logger *zap.Logger

	deferrable []domain.LoadInfo
	projected  []domain.LoadInfo
	plan       *dayAheadPlan
	stale      bool
}

func NewOptimizer(cfg config.EmhassConfig, logger *zap.Logger) *Optimizer {
	return &Optimizer{
		url:    strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{Timeout: requestTimeout},
		logger: logger.With(zap.String("adapter", "emhass")),
	}
}

// GetOptimizedPower returns the planned power for a deferrable device in
// the current plan slot. Negative means no budget is available.
func (o *Optimizer) GetOptimizedPower(deviceID uuid.UUID) float64 {
	if o.plan == nil {
		return -1
	}
	for i, load := range o.deferrable {
		if load.DeviceID == deviceID {
			return o.plan.valueAt(fmt.Sprintf("P_deferrable%d", i), time.Now())
		}
	}
	return -1
}

// UpdateLoads refreshes the deferrable load set from the current device
// states. A changed set marks the plan stale until the next optimization.
func (o *Optimizer) UpdateLoads(ctx context.Context, loads []domain.LoadInfo) error {
	var deferrable, projected []domain.LoadInfo
	for _, load := range loads {
		if load.IsDeferrable {
			deferrable = append(deferrable, load)
		} else {
			projected = append(projected, load)
		}
	}
	if !sameLoadSet(o.deferrable, deferrable) {
		o.stale = true
		o.logger.Info("deferrable load set changed, plan is stale",
			zap.Int("loads", len(deferrable)))
	}
	o.deferrable = deferrable
	o.projected = projected
	return nil
}

// Optimize runs a day-ahead optimization over the current load set and
// caches the returned schedule.
func (o *Optimizer) Optimize(ctx context.Context) error {
	params := runtimeParams{
		NumberOfDeferrableLoads: len(o.deferrable),
		NominalPower:            []float64{},
		OperatingHours:          []float64{},
		TreatAsSemiContinuous:   []bool{},
		SetAsConstant:           []bool{},
	}
	for _, load := range o.deferrable {
		params.NominalPower = append(params.NominalPower, load.NominalPower)
		params.OperatingHours = append(params.OperatingHours, load.Duration/3600)
		params.TreatAsSemiContinuous = append(params.TreatAsSemiContinuous, !load.IsContinuous)
		params.SetAsConstant = append(params.SetAsConstant, load.IsConstant)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode runtime params: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.url+"/action/dayahead-optim", bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := o.client.Do(request)
	if err != nil {
		return fmt.Errorf("day-ahead optimization: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		return fmt.Errorf("day-ahead optimization: unexpected status %s", response.Status)
	}

	plan, err := decodePlan(response.Body)
	if err != nil {
		return fmt.Errorf("decode day-ahead plan: %w", err)
	}
	o.plan = plan
	o.stale = false
	o.logger.Info("day-ahead plan updated",
		zap.Int("slots", len(plan.timestamps)), zap.Int("deferrable_loads", len(o.deferrable)))
	return nil
}

// NeedsOptimization reports whether no usable plan exists for the current
// load set.
func (o *Optimizer) NeedsOptimization() bool {
	return o.plan == nil || o.stale
}

func decodePlan(r io.Reader) (*dayAheadPlan, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	index, ok := raw["index"]
	if !ok {
		return nil, fmt.Errorf("missing index series")
	}
	var stamps []string
	if err := json.Unmarshal(index, &stamps); err != nil {
		return nil, fmt.Errorf("index series: %w", err)
	}
	plan := &dayAheadPlan{series: map[string][]float64{}}
	for _, stamp := range stamps {
		parsed, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, fmt.Errorf("index timestamp %q: %w", stamp, err)
		}
		plan.timestamps = append(plan.timestamps, parsed)
	}
	for name, message := range raw {
		if name == "index" {
			continue
		}
		var values []float64
		if err := json.Unmarshal(message, &values); err != nil {
			// non numeric columns are not part of the plan
			continue
		}
		plan.series[name] = values
	}
	return plan, nil
}

func sameLoadSet(a, b []domain.LoadInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].DeviceID != b[i].DeviceID {
			return false
		}
	}
	return true
}
