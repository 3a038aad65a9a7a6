// Package homeassistant pulls entity states from a Home Assistant instance
// over its REST API and pushes staged writes back as service calls.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Repository is the Home Assistant states repository. One ReadStates call
// fetches every entity of the instance; writes are routed to the matching
// service by entity domain.
type Repository struct {
	*domain.StatesCache

	url      string
	token    string
	demoMode bool
	client   *http.Client
	logger   *zap.Logger
}

func NewRepository(cfg config.HomeAssistantConfig, logger *zap.Logger) *Repository {
	return &Repository{
		StatesCache: domain.NewStatesCache(domain.ChannelHomeAssistant),
		url:         strings.TrimRight(cfg.URL, "/"),
		token:       cfg.Token,
		demoMode:    cfg.DemoMode,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger.With(zap.String("channel", domain.ChannelHomeAssistant)),
	}
}

func (r *Repository) ReadStates(ctx context.Context) error {
	if r.demoMode {
		r.ReplaceReadStates(demoStates())
		return nil
	}
	request, err := r.newRequest(ctx, http.MethodGet, r.url+"/api/states", nil)
	if err != nil {
		return err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return fmt.Errorf("read states: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("read states: unexpected status %d", response.StatusCode)
	}
	var haStates []haState
	if err := json.NewDecoder(response.Body).Decode(&haStates); err != nil {
		return fmt.Errorf("read states: %w", err)
	}
	states := make([]*domain.State, 0, len(haStates))
	for _, state := range haStates {
		states = append(states, domain.NewState(state.EntityID, state.State, state.Attributes))
	}
	r.ReplaceReadStates(states)
	return nil
}

func (r *Repository) WriteStates(ctx context.Context) error {
	staged := r.StagedWrites()
	if r.demoMode {
		return nil
	}
	var errs []error
	for _, state := range staged {
		if err := r.writeState(ctx, state); err != nil {
			r.logger.Error("state update failed", zap.String("id", state.ID()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Repository) writeState(ctx context.Context, state *domain.State) error {
	id := state.ID()
	switch {
	case strings.HasPrefix(id, "number."):
		return r.callService(ctx, "number", "set_value", map[string]any{
			"entity_id": id,
			"value":     state.Value(),
		})
	case strings.HasPrefix(id, "switch."):
		return r.callService(ctx, "switch", "turn_"+state.Value(), map[string]any{
			"entity_id": id,
		})
	case strings.HasPrefix(id, "select."):
		return r.callService(ctx, "select", "select_option", map[string]any{
			"entity_id": id,
			"option":    state.Value(),
		})
	case strings.HasPrefix(id, "sensor."):
		return r.postJSON(ctx, fmt.Sprintf("%s/api/states/%s", r.url, id), map[string]any{
			"state":      state.Value(),
			"attributes": state.Attributes(),
		})
	}
	return fmt.Errorf("writing to id %q is not supported", id)
}

func (r *Repository) callService(ctx context.Context, serviceDomain string, service string, data map[string]any) error {
	return r.postJSON(ctx, fmt.Sprintf("%s/api/services/%s/%s", r.url, serviceDomain, service), data)
}

func (r *Repository) postJSON(ctx context.Context, url string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := r.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	return nil
}

func (r *Repository) newRequest(ctx context.Context, method string, url string, body *bytes.Reader) (*http.Request, error) {
	var request *http.Request
	var err error
	if body != nil {
		request, err = http.NewRequestWithContext(ctx, method, url, body)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+r.token)
	request.Header.Set("Content-Type", "application/json")
	return request, nil
}

// demoStates is a canned household for running without a Home Assistant
// instance.
func demoStates() []*domain.State {
	return []*domain.State{
		domain.NewState("sensor.solaredge_i1_ac_power", "10000", nil),
		domain.NewState("sensor.solaredge_m1_ac_power", "6000", nil),
		domain.NewState("sensor.keba_charge_power", "2500", nil),
		domain.NewState("sensor.tumbler_power", "600", nil),
		domain.NewState("sensor.officedesk_power", "40", nil),
		domain.NewState("sensor.rack_power", "80", nil),
	}
}
