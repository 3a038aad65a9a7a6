package domain

import "strconv"

// Value a transport reports when a sensor is offline.
const ValueUnavailable = "unavailable"

// Channel names of the supported transports.
const (
	ChannelHomeAssistant = "ha"
	ChannelMQTT          = "mqtt"
	ChannelModbus        = "modbus"
	ChannelCalculated    = "calculated"
)

// State is one sensor reading. It is immutable after construction.
type State struct {
	id         string
	value      string
	attributes map[string]any
	available  bool
}

func NewState(id string, value string, attributes map[string]any) *State {
	if attributes == nil {
		attributes = map[string]any{}
	}
	return &State{
		id:         id,
		value:      value,
		attributes: attributes,
		available:  value != ValueUnavailable,
	}
}

func NewNumericState(id string, value float64) *State {
	return NewState(id, strconv.FormatFloat(value, 'f', -1, 64), nil)
}

// NewUnavailableState returns a state that reports as offline. Its numeric
// value is zero.
func NewUnavailableState(id string) *State {
	return &State{
		id:         id,
		value:      "0",
		attributes: map[string]any{},
		available:  false,
	}
}

func (s *State) ID() string {
	return s.id
}

func (s *State) Value() string {
	return s.value
}

func (s *State) Available() bool {
	return s.available
}

// NumericValue returns the value parsed as a float. Unparsable values are
// coerced to 0 and never fail.
func (s *State) NumericValue() float64 {
	v, err := strconv.ParseFloat(s.value, 64)
	if err != nil {
		return 0.0
	}
	return v
}

func (s *State) Attributes() map[string]any {
	return s.attributes
}

// StringAttribute returns a string attribute or "" when missing.
func (s *State) StringAttribute(key string) string {
	if v, ok := s.attributes[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// AssignIfAvailable returns newState when it carries a usable reading and
// keeps oldState otherwise. Sensors transiently report unavailable during
// network blips; integrators must keep the last good value instead of
// seeing a zero.
func AssignIfAvailable(oldState *State, newState *State) *State {
	if newState != nil && newState.Available() {
		return newState
	}
	return oldState
}

// StateID identifies a state on a specific transport channel. Two states
// with the same entity id arriving from different channels are distinct.
type StateID struct {
	ID      string
	Channel string
}
