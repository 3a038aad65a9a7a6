package service

import "time"

// maxBufferLen caps the rolling buffers. With a 30 second cycle this keeps
// roughly one day of samples.
const maxBufferLen = 3000

type floatSample struct {
	value float64
	at    time.Time
}

// FloatDataBuffer is a rolling window of timestamped float samples used for
// hysteresis decisions over recent power readings.
type FloatDataBuffer struct {
	data []floatSample
}

func NewFloatDataBuffer() *FloatDataBuffer {
	return &FloatDataBuffer{}
}

func (b *FloatDataBuffer) AddDataPoint(value float64, at time.Time) {
	b.data = append(b.data, floatSample{value: value, at: at})
	if len(b.data) > maxBufferLen {
		b.data = b.data[len(b.data)-maxBufferLen:]
	}
}

func (b *FloatDataBuffer) Len() int {
	return len(b.data)
}

// DataFor extracts the samples of the last timespan seconds before now.
func (b *FloatDataBuffer) DataFor(timespan float64, now time.Time) []float64 {
	threshold := now.Add(-time.Duration(timespan * float64(time.Second)))
	var result []float64
	for _, sample := range b.data {
		if !sample.at.Before(threshold) {
			result = append(result, sample.value)
		}
	}
	return result
}

func withoutTrailingZeros(values []float64) []float64 {
	for len(values) > 0 && values[len(values)-1] == 0.0 {
		values = values[:len(values)-1]
	}
	return values
}

// AverageFor returns the mean over the last timespan seconds, 0 when no
// sample falls in the window.
func (b *FloatDataBuffer) AverageFor(timespan float64, now time.Time) float64 {
	data := b.DataFor(timespan, now)
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// MinFor returns the minimum over the last timespan seconds, 0 when no
// sample falls in the window.
func (b *FloatDataBuffer) MinFor(timespan float64, now time.Time) float64 {
	data := b.DataFor(timespan, now)
	if len(data) == 0 {
		return 0
	}
	result := data[0]
	for _, v := range data[1:] {
		if v < result {
			result = v
		}
	}
	return result
}

// MaxFor returns the maximum over the last timespan seconds, 0 when no
// sample falls in the window.
func (b *FloatDataBuffer) MaxFor(timespan float64, now time.Time) float64 {
	data := b.DataFor(timespan, now)
	if len(data) == 0 {
		return 0
	}
	result := data[0]
	for _, v := range data[1:] {
		if v > result {
			result = v
		}
	}
	return result
}

// IsBetween reports whether every sample of the window lies within
// [lower, upper]. Trailing zero samples are ignored; they are the idle tail
// of an appliance program, not part of it.
func (b *FloatDataBuffer) IsBetween(lower, upper float64, timespan float64, now time.Time) bool {
	data := withoutTrailingZeros(b.DataFor(timespan, now))
	if len(data) == 0 {
		return false
	}
	for _, v := range data {
		if v < lower || v > upper {
			return false
		}
	}
	return true
}

type onOffSample struct {
	value bool
	at    time.Time
}

// OnOffDataBuffer tracks the switching history of a binary output.
type OnOffDataBuffer struct {
	data []onOffSample
}

func NewOnOffDataBuffer() *OnOffDataBuffer {
	return &OnOffDataBuffer{}
}

func (b *OnOffDataBuffer) AddDataPoint(value bool, at time.Time) {
	b.data = append(b.data, onOffSample{value: value, at: at})
	if len(b.data) > maxBufferLen {
		b.data = b.data[len(b.data)-maxBufferLen:]
	}
}

// DurationInState returns how long the output has been continuously in the
// given state, up to now.
func (b *OnOffDataBuffer) DurationInState(state bool, now time.Time) time.Duration {
	if len(b.data) == 0 || b.data[len(b.data)-1].value != state {
		return 0
	}
	since := b.data[len(b.data)-1].at
	for i := len(b.data) - 1; i >= 0; i-- {
		if b.data[i].value != state {
			break
		}
		since = b.data[i].at
	}
	return now.Sub(since)
}

// TotalDurationInStateSince sums all phases in the given state since the
// given point in time. An open phase counts up to now.
func (b *OnOffDataBuffer) TotalDurationInStateSince(state bool, since time.Time, now time.Time) time.Duration {
	var total time.Duration
	var phaseStart *time.Time
	for _, sample := range b.data {
		at := sample.at
		if at.Before(since) {
			at = since
		}
		if sample.value == state {
			if phaseStart == nil {
				phaseStart = &at
			}
		} else if phaseStart != nil {
			total += at.Sub(*phaseStart)
			phaseStart = nil
		}
	}
	if phaseStart != nil {
		total += now.Sub(*phaseStart)
	}
	return total
}
