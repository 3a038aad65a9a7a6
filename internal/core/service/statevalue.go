package service

import (
	"go.uber.org/zap"

	"sunledger/internal/config"
	"sunledger/internal/core/domain"
)

const calculatedStateID = "calculated"

// StateValue resolves a configured value into a State: either
// a direct entity id or an arithmetic template over all numeric states,
// with an optional scale and inversion. It lets device configuration
// express derived sensors without hardcoding formulas per device type.
type StateValue struct {
	valueID  string
	template string
	scale    float64
	logger   *zap.Logger
}

// NewStateValue resolves a plain entity id.
func NewStateValue(valueID string) *StateValue {
	return &StateValue{valueID: valueID, scale: 1.0, logger: zap.NewNop()}
}

// NewTemplateStateValue resolves an arithmetic expression over the
// template states, e.g. "{{sensor.energy_low + sensor.energy_high * 1000}}".
func NewTemplateStateValue(template string) *StateValue {
	return &StateValue{template: template, scale: 1.0, logger: zap.NewNop()}
}

func (v *StateValue) WithLogger(logger *zap.Logger) *StateValue {
	v.logger = logger
	return v
}

// SetScale multiplies every evaluated value by scale.
func (v *StateValue) SetScale(scale float64) *StateValue {
	v.scale = scale
	return v
}

// Invert flips the sign of every evaluated value.
func (v *StateValue) Invert() *StateValue {
	v.scale = -v.scale
	return v
}

// stateValueFrom builds a StateValue from a configured value, nil when
// the configuration omits it.
func stateValueFrom(spec *config.ValueSpec, logger *zap.Logger) *StateValue {
	if spec == nil {
		return nil
	}
	var value *StateValue
	if spec.Template != "" {
		value = NewTemplateStateValue(spec.Template)
	} else {
		value = NewStateValue(spec.Value)
	}
	value.WithLogger(logger)
	if spec.Scale != 0 {
		value.SetScale(spec.Scale)
	}
	if spec.Inverted {
		value.Invert()
	}
	return value
}

// Evaluate resolves the value against the repository. A missing sensor or a
// failing template yields an unavailable zero-valued state so that callers
// hold their last good value through AssignIfAvailable.
func (v *StateValue) Evaluate(repository domain.StatesRepository) *domain.State {
	if v.valueID != "" {
		state := repository.GetState(v.valueID)
		if state == nil || !state.Available() {
			return domain.NewUnavailableState(calculatedStateID)
		}
		return domain.NewNumericState(calculatedStateID, state.NumericValue()*v.scale)
	}
	if v.template != "" {
		value, err := EvaluateExpression(v.template, repository.GetTemplateStates())
		if err != nil {
			v.logger.Warn("template evaluation failed", zap.String("template", v.template), zap.Error(err))
			return domain.NewUnavailableState(calculatedStateID)
		}
		return domain.NewNumericState(calculatedStateID, value*v.scale)
	}
	return domain.NewUnavailableState(calculatedStateID)
}
