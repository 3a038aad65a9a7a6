package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateExpressionArithmetic(t *testing.T) {
	value, err := EvaluateExpression("1 + 2 * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 7.0, value)

	value, err = EvaluateExpression("(1 + 2) * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 9.0, value)

	value, err = EvaluateExpression("10 / 4 - 0.5", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)

	value, err = EvaluateExpression("-3 + 5", nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)
}

func TestEvaluateExpressionVariables(t *testing.T) {
	states := map[string]any{
		"sensor": map[string]float64{
			"energy_low":  856.0,
			"energy_high": 7.0,
		},
	}
	value, err := EvaluateExpression("sensor.energy_low + sensor.energy_high * 1000", states)
	require.NoError(t, err)
	assert.Equal(t, 7856.0, value)

	value, err = EvaluateExpression("{{ sensor.energy_low + sensor.energy_high * 1000 }}", states)
	require.NoError(t, err)
	assert.Equal(t, 7856.0, value)
}

func TestEvaluateExpressionUndefinedVariable(t *testing.T) {
	states := map[string]any{
		"sensor": map[string]float64{"energy_low": 856.0},
	}
	_, err := EvaluateExpression("sensor.energy_low + sensor.missing", states)
	require.Error(t, err)
	var undefined *UndefinedVariableError
	assert.ErrorAs(t, err, &undefined)
}

func TestEvaluateExpressionMalformed(t *testing.T) {
	_, err := EvaluateExpression("1 +", nil)
	assert.Error(t, err)

	_, err = EvaluateExpression("(1 + 2", nil)
	assert.Error(t, err)
}
