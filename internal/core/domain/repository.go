package domain

import (
	"context"
	"errors"
	"strings"
)

// StatesRepository is a pull-based cache of the latest known State per id.
// Reads and writes happen in discrete cycles: GetState/SetState only touch
// the in-memory cache, ReadStates/WriteStates talk to the transport.
type StatesRepository interface {
	// GetState looks up a state by bare entity id.
	GetState(id string) *State
	// GetStateByID looks up a state requiring the channel to match.
	GetStateByID(id StateID) *State
	// GetNumericStates returns all cached states coerced to numbers.
	GetNumericStates() map[string]float64
	// GetTemplateStates regroups the numeric states into a two-level map
	// by splitting each id on the first dot.
	GetTemplateStates() map[string]any
	// SetState stages a write. Nothing is transmitted until WriteStates.
	SetState(id StateID, value string, attributes map[string]any)
	Channel() string
	// ReadStates pulls fresh values from the transport into the cache.
	// Push-based transports may implement it as a no-op.
	ReadStates(ctx context.Context) error
	// WriteStates flushes staged writes to the transport and clears the
	// staging area.
	WriteStates(ctx context.Context) error
}

// StatesCache implements the cache half of StatesRepository for a single
// channel. Transport adapters embed it and fill in ReadStates/WriteStates.
type StatesCache struct {
	channel        string
	readStates     map[string]*State
	writeStates    map[string]*State
	templateStates map[string]any
}

func NewStatesCache(channel string) *StatesCache {
	return &StatesCache{
		channel:     channel,
		readStates:  map[string]*State{},
		writeStates: map[string]*State{},
	}
}

func (c *StatesCache) Channel() string {
	return c.channel
}

func (c *StatesCache) GetState(id string) *State {
	return c.readStates[id]
}

func (c *StatesCache) GetStateByID(id StateID) *State {
	if id.Channel != c.channel {
		return nil
	}
	return c.readStates[id.ID]
}

func (c *StatesCache) GetNumericStates() map[string]float64 {
	result := make(map[string]float64, len(c.readStates))
	for id, state := range c.readStates {
		result[id] = state.NumericValue()
	}
	return result
}

func (c *StatesCache) GetTemplateStates() map[string]any {
	if c.templateStates == nil {
		c.templateStates = map[string]any{}
		for id, value := range c.GetNumericStates() {
			group, attribute, found := strings.Cut(id, ".")
			if !found {
				c.templateStates[id] = value
				continue
			}
			attributes, ok := c.templateStates[group].(map[string]float64)
			if !ok {
				attributes = map[string]float64{}
				c.templateStates[group] = attributes
			}
			attributes[attribute] = value
		}
	}
	return c.templateStates
}

func (c *StatesCache) SetState(id StateID, value string, attributes map[string]any) {
	c.writeStates[id.ID] = NewState(id.ID, value, attributes)
}

// UpdateReadState stores a fresh reading in the cache. Transport adapters
// call this from their poll or push path.
func (c *StatesCache) UpdateReadState(state *State) {
	c.readStates[state.ID()] = state
	c.templateStates = nil
}

// ReplaceReadStates swaps the whole cache, used by poll-based transports
// that fetch all states at once.
func (c *StatesCache) ReplaceReadStates(states []*State) {
	c.readStates = make(map[string]*State, len(states))
	for _, state := range states {
		c.readStates[state.ID()] = state
	}
	c.templateStates = nil
}

// StagedWrites drains the staging area and returns its content.
func (c *StatesCache) StagedWrites() []*State {
	if len(c.writeStates) == 0 {
		return nil
	}
	result := make([]*State, 0, len(c.writeStates))
	for _, state := range c.writeStates {
		result = append(result, state)
	}
	c.writeStates = map[string]*State{}
	return result
}

// StatesMultipleRepositories composes single-channel repositories behind one
// lookup surface. Lookups by bare id try each member in order, lookups by
// StateID route to the member whose channel matches.
type StatesMultipleRepositories struct {
	repositories []StatesRepository
}

func NewStatesMultipleRepositories(repositories ...StatesRepository) *StatesMultipleRepositories {
	return &StatesMultipleRepositories{repositories: repositories}
}

func (m *StatesMultipleRepositories) Channel() string {
	return "multiple"
}

func (m *StatesMultipleRepositories) GetState(id string) *State {
	for _, repository := range m.repositories {
		if state := repository.GetState(id); state != nil {
			return state
		}
	}
	return nil
}

func (m *StatesMultipleRepositories) GetStateByID(id StateID) *State {
	for _, repository := range m.repositories {
		if repository.Channel() == id.Channel {
			if state := repository.GetStateByID(id); state != nil {
				return state
			}
		}
	}
	return nil
}

func (m *StatesMultipleRepositories) GetNumericStates() map[string]float64 {
	result := map[string]float64{}
	for _, repository := range m.repositories {
		for id, value := range repository.GetNumericStates() {
			result[id] = value
		}
	}
	return result
}

func (m *StatesMultipleRepositories) GetTemplateStates() map[string]any {
	result := map[string]any{}
	for _, repository := range m.repositories {
		for group, value := range repository.GetTemplateStates() {
			result[group] = value
		}
	}
	return result
}

func (m *StatesMultipleRepositories) SetState(id StateID, value string, attributes map[string]any) {
	for _, repository := range m.repositories {
		if repository.Channel() == id.Channel {
			repository.SetState(id, value, attributes)
		}
	}
}

func (m *StatesMultipleRepositories) ReadStates(ctx context.Context) error {
	var errs []error
	for _, repository := range m.repositories {
		errs = append(errs, repository.ReadStates(ctx))
	}
	return errors.Join(errs...)
}

func (m *StatesMultipleRepositories) WriteStates(ctx context.Context) error {
	var errs []error
	for _, repository := range m.repositories {
		errs = append(errs, repository.WriteStates(ctx))
	}
	return errors.Join(errs...)
}

var _ StatesRepository = (*StatesMultipleRepositories)(nil)
