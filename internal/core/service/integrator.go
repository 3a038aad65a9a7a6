// Package service holds the pure energy-attribution logic: accumulators,
// state values, devices and the home aggregate. Nothing in this package
// performs I/O.
package service

import "math"

// minIntegrationGapSeconds gates the trapezoid contribution. Duplicate or
// rapid-fire updates below this gap would only add sampling noise.
const minIntegrationGapSeconds = 0.1

// Integrator converts an instantaneous measurement (e.g. power in W) into
// an accumulated value (e.g. energy in Ws) with trapezoidal integration
// over irregular sampling intervals.
type Integrator struct {
	lastMeasurement float64
	lastTimestamp   float64
	seeded          bool
	value           float64
}

func NewIntegrator() *Integrator {
	return &Integrator{}
}

// Value returns the accumulated integral.
func (i *Integrator) Value() float64 {
	return i.value
}

// AddMeasurement feeds a new sample taken at timestamp (seconds). The first
// sample only establishes the baseline. The timestamp is advanced on every
// later call; the trapezoid contribution is skipped for gaps of 0.1s or
// less.
func (i *Integrator) AddMeasurement(measurement float64, timestamp float64) {
	if !i.seeded {
		i.lastMeasurement = measurement
		i.lastTimestamp = timestamp
		i.seeded = true
		return
	}
	deltaT := timestamp - i.lastTimestamp
	i.lastTimestamp = timestamp
	if deltaT > minIntegrationGapSeconds {
		i.value += deltaT * (i.lastMeasurement + measurement) / 2
	}
	i.lastMeasurement = measurement
}

// RestoreState replaces the accumulated value with a previously saved one.
func (i *Integrator) RestoreState(value float64) {
	i.value = value
}

// EnergyIntegrator attributes deltas of a monotonically increasing energy
// counter to solar consumption, weighted by the instantaneous
// self-sufficiency ratio of the home.
type EnergyIntegrator struct {
	lastConsumedEnergy  float64
	consumedSolarEnergy float64
}

func NewEnergyIntegrator() *EnergyIntegrator {
	return &EnergyIntegrator{}
}

// ConsumedSolarEnergy returns the solar share accumulated so far.
func (i *EnergyIntegrator) ConsumedSolarEnergy() float64 {
	return i.consumedSolarEnergy
}

// AddMeasurement attributes the delta since the last cumulative reading to
// solar with the given self-sufficiency ratio.
func (i *EnergyIntegrator) AddMeasurement(consumedEnergy float64, selfSufficiency float64) {
	i.consumedSolarEnergy += (consumedEnergy - i.lastConsumedEnergy) * selfSufficiency
	i.lastConsumedEnergy = consumedEnergy
}

// RestoreState sets both accumulator fields directly. This pair is the
// durable snapshot state of the integrator.
func (i *EnergyIntegrator) RestoreState(consumedSolarEnergy float64, lastConsumedEnergy float64) {
	i.consumedSolarEnergy = consumedSolarEnergy
	i.lastConsumedEnergy = lastConsumedEnergy
}

// UtilityMeter reconstructs a monotonically increasing total from a counter
// that may reset to zero, e.g. on power loss. A downward jump contributes
// zero; the energy consumed between the last good reading and the reset is
// lost, which is the documented trade-off of this meter type.
type UtilityMeter struct {
	name           string
	lastMeterValue float64
	energy         float64
}

func NewUtilityMeter(name string) *UtilityMeter {
	return &UtilityMeter{name: name}
}

func (m *UtilityMeter) Name() string {
	return m.name
}

func (m *UtilityMeter) Energy() float64 {
	return m.energy
}

func (m *UtilityMeter) LastMeterValue() float64 {
	return m.lastMeterValue
}

// UpdateEnergy feeds a raw counter reading and returns the reconstructed
// total.
func (m *UtilityMeter) UpdateEnergy(reading float64) float64 {
	delta := math.Max(reading-m.lastMeterValue, 0)
	m.lastMeterValue = reading
	m.energy += delta
	return m.energy
}

// RestoreLastMeterValue seeds the meter at process start so the first
// post-restart reading does not produce a spurious delta.
func (m *UtilityMeter) RestoreLastMeterValue(value float64) {
	m.lastMeterValue = value
}

// RestoreEnergy restores the reconstructed total.
func (m *UtilityMeter) RestoreEnergy(energy float64) {
	m.energy = energy
}
