package solver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSolverJSON(t *testing.T) {
	adam, err := NewAdam(1e-3, 1e-8, 0.9, 0.999, 1)
	require.NoError(t, err)

	data, err := json.Marshal(adam)
	require.NoError(t, err)

	var decoded Solver
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, Adam, decoded.Type)
	require.Equal(t, adam.Config, decoded.Config)
	require.NotNil(t, decoded.Solver)
}

func TestSolverUnmarshalConfigs(t *testing.T) {
	tests := []struct {
		json string
		want Config
	}{
		{
			`{"Type": "Vanilla", "Config": {"StepSize": 0.1, "Batch": 4}}`,
			VanillaConfig{StepSize: 0.1, Batch: 4},
		},
		{
			`{"Type": "RMSProp", "Config": {"StepSize": 0.01, "Rho": 0.9}}`,
			RMSPropConfig{StepSize: 0.01, Rho: 0.9},
		},
	}

	for _, test := range tests {
		var s Solver
		require.NoError(t, json.Unmarshal([]byte(test.json), &s))
		require.Equal(t, test.want, s.Config)
		require.NotNil(t, s.Solver)
	}
}

func TestSolverUnmarshalUnknownType(t *testing.T) {
	var s Solver
	err := json.Unmarshal([]byte(`{"Type": "Newton", "Config": {}}`), &s)
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	adam, err := NewDefaultAdam(1e-3)
	require.NoError(t, err)

	clone, err := adam.Clone()
	require.NoError(t, err)
	require.Equal(t, adam.Config, clone.Config)
	require.NotSame(t, adam.Solver, clone.Solver)
}
