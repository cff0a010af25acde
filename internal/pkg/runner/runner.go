// Package runner drives scenario power-flow solves over the augmented
// network and derives resilience metrics. The solver itself is an external
// black box consuming bus-level injections and topology.
package runner

import (
	"context"
	"fmt"
	"log"

	"github.com/miracaEU/EnergyModelling/internal/pkg/assemble"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
)

// SolveResult is the black-box solver output for one time step.
type SolveResult struct {
	Converged  bool
	FlowsMW    map[string]float64
	UnservedMW map[string]float64
}

// Solver is the external power-flow/optimization engine.
type Solver interface {
	Solve(ctx context.Context, network *assemble.AugmentedNetwork, step int) (SolveResult, error)
}

// Metrics summarizes one scenario step.
type Metrics struct {
	Step            int
	Converged       bool
	ServedFraction  float64
	MaxLineLoading  float64
	MaxLoadingLine  string
	OverloadedLines int
}

// Runner is the thin orchestration over the assembled network. It also
// exposes the consumer interface: the augmented network and the audit
// trail of every entity resolution.
type Runner struct {
	network *assemble.AugmentedNetwork
	audit   []resolve.Resolution
	solver  Solver
}

// New returns a Runner over an assembled network.
func New(network *assemble.AugmentedNetwork, audit []resolve.Resolution, solver Solver) *Runner {
	return &Runner{network: network, audit: audit, solver: solver}
}

// AugmentedNetwork returns the assembled network.
func (r *Runner) AugmentedNetwork() *assemble.AugmentedNetwork {
	return r.network
}

// AuditTrail returns the resolution record of every entity.
func (r *Runner) AuditTrail() []resolve.Resolution {
	return r.audit
}

// Run solves every time step of the scenario and derives metrics. A
// non-converged step is reported in its metrics, not treated as an error;
// solver transport failures abort the run.
func (r *Runner) Run(ctx context.Context) ([]Metrics, error) {
	if r.solver == nil {
		return nil, fmt.Errorf("runner: no solver attached")
	}
	steps := r.network.Steps
	if steps == 0 {
		steps = 1
	}

	out := make([]Metrics, 0, steps)
	for step := 0; step < steps; step++ {
		result, err := r.solver.Solve(ctx, r.network, step)
		if err != nil {
			return out, fmt.Errorf("runner: step %d: %w", step, err)
		}
		m := r.deriveMetrics(step, result)
		if !m.Converged {
			log.Printf("[ResilienceRunner] step %d did not converge\n", step)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Runner) deriveMetrics(step int, result SolveResult) Metrics {
	m := Metrics{Step: step, Converged: result.Converged}

	var demand, unserved float64
	for _, b := range r.network.Network.Buses() {
		demand += r.network.WithdrawalAt(b.ID, step)
	}
	for _, mw := range result.UnservedMW {
		unserved += mw
	}
	if demand > 0 {
		m.ServedFraction = (demand - unserved) / demand
	} else {
		m.ServedFraction = 1
	}

	for _, l := range r.network.Network.Lines() {
		flow, ok := result.FlowsMW[l.ID]
		if !ok || l.CapacityMW <= 0 {
			continue
		}
		loading := abs(flow) / l.CapacityMW
		if loading > m.MaxLineLoading {
			m.MaxLineLoading = loading
			m.MaxLoadingLine = l.ID
		}
		if loading > 1 {
			m.OverloadedLines++
		}
	}
	return m
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
