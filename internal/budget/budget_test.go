package budget

import (
	"testing"

	"github.com/lavallee/cub/internal/harness"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int          { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestAccountAttemptAccumulates(t *testing.T) {
	a := NewAccountant(Limits{MaxTokens: 1000})
	a.AccountAttempt(&harness.InvokeResult{TokensIn: intPtr(100), TokensOut: intPtr(50), CostUSD: floatPtr(0.5)}, false)
	a.AccountAttempt(&harness.InvokeResult{TokensIn: intPtr(200)}, true)

	usage := a.Usage()
	require.Equal(t, 350, usage.TokensUsed)
	require.InDelta(t, 0.5, usage.CostUSD, 0.001)
	require.Equal(t, 1, usage.TasksCompleted)
}

func TestCheckExhaustionTripsOnLimit(t *testing.T) {
	a := NewAccountant(Limits{MaxTasks: 2})
	require.Equal(t, NotExhausted, a.CheckExhaustion())

	a.AccountAttempt(nil, true)
	a.AccountAttempt(nil, true)
	require.Equal(t, ExhaustedTasks, a.CheckExhaustion())
}

func TestExhaustionNeverBlocksInFlightAttempt(t *testing.T) {
	a := NewAccountant(Limits{MaxIterations: 1})
	a.EnterIteration()
	// iteration already entered; exhaustion check only gates the *next* one
	require.Equal(t, ExhaustedIterations, a.CheckExhaustion())
}
