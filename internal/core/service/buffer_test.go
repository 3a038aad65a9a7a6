package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var bufferBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func filledBuffer(values []float64, step time.Duration) (*FloatDataBuffer, time.Time) {
	buffer := NewFloatDataBuffer()
	at := bufferBase
	for _, value := range values {
		buffer.AddDataPoint(value, at)
		at = at.Add(step)
	}
	return buffer, at.Add(-step)
}

func TestFloatDataBufferWindow(t *testing.T) {
	buffer, now := filledBuffer([]float64{1, 2, 3, 4, 5, 6}, 10*time.Second)

	assert.Equal(t, []float64{4, 5, 6}, buffer.DataFor(20, now))
	assert.InDelta(t, 5.0, buffer.AverageFor(20, now), 1e-9)
	assert.Equal(t, 4.0, buffer.MinFor(20, now))
	assert.Equal(t, 6.0, buffer.MaxFor(20, now))

	// the whole history
	assert.InDelta(t, 3.5, buffer.AverageFor(3600, now), 1e-9)
}

func TestFloatDataBufferEmptyWindow(t *testing.T) {
	buffer := NewFloatDataBuffer()
	now := bufferBase
	assert.Nil(t, buffer.DataFor(60, now))
	assert.Equal(t, 0.0, buffer.AverageFor(60, now))
	assert.Equal(t, 0.0, buffer.MinFor(60, now))
	assert.Equal(t, 0.0, buffer.MaxFor(60, now))
	assert.False(t, buffer.IsBetween(0, 100, 60, now))
}

func TestFloatDataBufferIsBetweenIgnoresTrailingZeros(t *testing.T) {
	buffer, now := filledBuffer([]float64{50, 60, 55, 0, 0}, 10*time.Second)
	assert.True(t, buffer.IsBetween(40, 70, 3600, now))
	assert.False(t, buffer.IsBetween(55, 70, 3600, now))

	// all-zero window has no appliance program in it
	zeros, zerosNow := filledBuffer([]float64{0, 0, 0}, 10*time.Second)
	assert.False(t, zeros.IsBetween(0, 100, 3600, zerosNow))
}

func TestFloatDataBufferCapped(t *testing.T) {
	buffer := NewFloatDataBuffer()
	at := bufferBase
	for i := 0; i < maxBufferLen+100; i++ {
		buffer.AddDataPoint(float64(i), at)
		at = at.Add(time.Second)
	}
	assert.Equal(t, maxBufferLen, buffer.Len())
}

func TestOnOffDataBufferDurationInState(t *testing.T) {
	buffer := NewOnOffDataBuffer()
	buffer.AddDataPoint(false, bufferBase)
	buffer.AddDataPoint(true, bufferBase.Add(1*time.Minute))
	buffer.AddDataPoint(true, bufferBase.Add(2*time.Minute))
	now := bufferBase.Add(5 * time.Minute)

	assert.Equal(t, 4*time.Minute, buffer.DurationInState(true, now))
	assert.Equal(t, time.Duration(0), buffer.DurationInState(false, now))
}

func TestOnOffDataBufferTotalDurationSince(t *testing.T) {
	buffer := NewOnOffDataBuffer()
	buffer.AddDataPoint(true, bufferBase)
	buffer.AddDataPoint(false, bufferBase.Add(10*time.Minute))
	buffer.AddDataPoint(true, bufferBase.Add(20*time.Minute))
	now := bufferBase.Add(25 * time.Minute)

	total := buffer.TotalDurationInStateSince(true, bufferBase, now)
	assert.Equal(t, 15*time.Minute, total)

	// phases before the cutoff only count from the cutoff on
	total = buffer.TotalDurationInStateSince(true, bufferBase.Add(5*time.Minute), now)
	assert.Equal(t, 10*time.Minute, total)
}
