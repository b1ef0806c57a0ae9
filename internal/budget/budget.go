// Package budget implements the run loop's budget accountant (§4.4): a
// stateless-to-its-inputs tracker of consumption against configured limits.
package budget

import (
	"sync"

	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/logx"
)

// Limits are the configured ceilings; a zero value means unlimited.
type Limits struct {
	MaxTokens     int
	MaxCostUSD    float64
	MaxTasks      int
	MaxIterations int
	WarnAt        float64 // fraction of any limit, e.g. 0.8
}

// Usage is the running total.
type Usage struct {
	TokensUsed     int
	CostUSD        float64
	TasksCompleted int
	Iterations     int
}

// ExhaustedReason names which limit tripped, empty if none.
type ExhaustedReason string

const (
	NotExhausted        ExhaustedReason = ""
	ExhaustedTokens     ExhaustedReason = "max_tokens"
	ExhaustedCost       ExhaustedReason = "max_cost_usd"
	ExhaustedTasks      ExhaustedReason = "max_tasks"
	ExhaustedIterations ExhaustedReason = "max_iterations"
)

// Accountant tracks usage across one run and reports exhaustion after each
// attempt is accounted, never mid-attempt (§4.4).
type Accountant struct {
	mu       sync.Mutex
	limits   Limits
	usage    Usage
	warned   map[ExhaustedReason]bool
	logger   logx.Logger
}

func NewAccountant(limits Limits) *Accountant {
	return &Accountant{limits: limits, warned: map[ExhaustedReason]bool{}, logger: logx.NewComponentLogger("budget")}
}

// EnterIteration records one loop-body entry.
func (a *Accountant) EnterIteration() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.Iterations++
}

// AccountAttempt folds one harness invocation's usage into the running
// totals. taskClosed marks whether this attempt closed its task.
func (a *Accountant) AccountAttempt(result *harness.InvokeResult, taskClosed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if result != nil {
		if result.TokensIn != nil {
			a.usage.TokensUsed += *result.TokensIn
		}
		if result.TokensOut != nil {
			a.usage.TokensUsed += *result.TokensOut
		}
		if result.CostUSD != nil {
			a.usage.CostUSD += *result.CostUSD
		}
	}
	if taskClosed {
		a.usage.TasksCompleted++
	}
}

// Usage returns a snapshot of current totals.
func (a *Accountant) Usage() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// CheckExhaustion returns the first tripped limit, if any, and emits at
// most one warning event per limit when warn_at is crossed.
func (a *Accountant) CheckExhaustion() ExhaustedReason {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maybeWarnLocked(ExhaustedTokens, float64(a.usage.TokensUsed), float64(a.limits.MaxTokens))
	a.maybeWarnLocked(ExhaustedCost, a.usage.CostUSD, a.limits.MaxCostUSD)
	a.maybeWarnLocked(ExhaustedTasks, float64(a.usage.TasksCompleted), float64(a.limits.MaxTasks))
	a.maybeWarnLocked(ExhaustedIterations, float64(a.usage.Iterations), float64(a.limits.MaxIterations))

	switch {
	case a.limits.MaxTokens > 0 && a.usage.TokensUsed >= a.limits.MaxTokens:
		return ExhaustedTokens
	case a.limits.MaxCostUSD > 0 && a.usage.CostUSD >= a.limits.MaxCostUSD:
		return ExhaustedCost
	case a.limits.MaxTasks > 0 && a.usage.TasksCompleted >= a.limits.MaxTasks:
		return ExhaustedTasks
	case a.limits.MaxIterations > 0 && a.usage.Iterations >= a.limits.MaxIterations:
		return ExhaustedIterations
	default:
		return NotExhausted
	}
}

func (a *Accountant) maybeWarnLocked(reason ExhaustedReason, used, limit float64) {
	if limit <= 0 || a.limits.WarnAt <= 0 || a.warned[reason] {
		return
	}
	if used >= limit*a.limits.WarnAt {
		a.warned[reason] = true
		a.logger.Warn("budget threshold crossed: %s used=%.2f threshold=%.2f", string(reason), used, limit*a.limits.WarnAt)
	}
}
