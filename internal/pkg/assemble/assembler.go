// Package assemble merges resolved supply and demand onto the base
// topology and validates the conservation invariants.
package assemble

import (
	"fmt"
	"log"
	"math"

	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
	"github.com/miracaEU/EnergyModelling/internal/pkg/supply"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

// State of an augmented network after validation.
type State string

const (
	StateBuilding              State = "building"
	StateValidated             State = "validated"
	StateValidatedWithWarnings State = "validated-with-warnings"
)

// ConservationViolation records a region whose allocated total deviates
// from the source aggregate beyond tolerance. It is reported, never fatal:
// callers decide whether to abort.
type ConservationViolation struct {
	RegionCode string
	Level      int
	Step       int
	Allocated  float64
	Source     float64
}

func (v ConservationViolation) Error() string {
	return fmt.Sprintf("region %s (level %d) step %d: allocated %.4f, source aggregate %.4f",
		v.RegionCode, v.Level, v.Step, v.Allocated, v.Source)
}

// AugmentedNetwork is the base topology plus per-bus injection (generation)
// and withdrawal (demand) series. The base topology is never mutated; only
// the injection and withdrawal attributes are added.
type AugmentedNetwork struct {
	Network    *topology.Network
	Supply     map[string]map[string]*supply.TechSupply
	Withdrawal map[string][]float64
	Steps      int
	State      State
	Violations []ConservationViolation
}

// InjectionAt returns the total installed injection capacity of a bus.
func (an *AugmentedNetwork) InjectionAt(busID string) float64 {
	var total float64
	for _, ts := range an.Supply[busID] {
		total += ts.CapacityMW
	}
	return total
}

// WithdrawalAt returns the demand of a bus at one time step.
func (an *AugmentedNetwork) WithdrawalAt(busID string, step int) float64 {
	s := an.Withdrawal[busID]
	if step < 0 || step >= len(s) {
		return 0
	}
	return s[step]
}

// Tolerance is the relative floating-point tolerance of the conservation
// check.
const Tolerance = 1e-6

// Assemble merges per-bus supply and demand onto the topology and checks,
// for every region at every hierarchy level with a source aggregate, that
// the allocated bus totals reproduce the aggregate within tolerance.
// Violations are logged and attached; the best-effort network is always
// returned.
func Assemble(
	geo *geography.Geography,
	busSupply map[string]map[string]*supply.TechSupply,
	busDemand map[string][]float64,
	sourceAggregates map[string][]float64,
) *AugmentedNetwork {
	an := &AugmentedNetwork{
		Network:    geo.Network(),
		Supply:     busSupply,
		Withdrawal: busDemand,
		State:      StateBuilding,
	}
	for _, series := range busDemand {
		if len(series) > an.Steps {
			an.Steps = len(series)
		}
	}

	an.Violations = validateConservation(geo, busDemand, sourceAggregates)
	for _, v := range an.Violations {
		log.Println("[NetworkAssembler] conservation:", v.Error())
	}

	if len(an.Violations) == 0 {
		an.State = StateValidated
	} else {
		an.State = StateValidatedWithWarnings
	}
	return an
}

// validateConservation sums allocated demand per region per level and
// compares it to the source aggregates wherever one was provided.
func validateConservation(
	geo *geography.Geography,
	busDemand map[string][]float64,
	sourceAggregates map[string][]float64,
) []ConservationViolation {
	var violations []ConservationViolation
	idx := geo.Index()

	// Roll provided aggregates up the hierarchy so conservation is checked
	// at every level, not only where a source aggregate was given.
	expected := make(map[string][]float64)
	for code, source := range sourceAggregates {
		chain, ok := idx.ChainFor(code)
		if !ok {
			continue
		}
		for _, r := range chain {
			if _, direct := sourceAggregates[r.Code]; direct && r.Code != code {
				// A coarser level carries its own aggregate; do not
				// double-count the fine one underneath it.
				continue
			}
			if expected[r.Code] == nil {
				expected[r.Code] = make([]float64, len(source))
			}
			for t, v := range source {
				if t < len(expected[r.Code]) {
					expected[r.Code][t] += v
				}
			}
		}
	}

	for code, source := range expected {
		r, ok := idx.Region(code)
		if !ok {
			continue
		}
		allocated := make([]float64, len(source))
		for _, busID := range geo.BusesIn(code) {
			for t := range allocated {
				if s := busDemand[busID]; t < len(s) {
					allocated[t] += s[t]
				}
			}
		}
		for t := range source {
			if !withinTolerance(allocated[t], source[t]) {
				violations = append(violations, ConservationViolation{
					RegionCode: code,
					Level:      r.Level,
					Step:       t,
					Allocated:  allocated[t],
					Source:     source[t],
				})
			}
		}
	}
	return violations
}

func withinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		scale = 1
	}
	return diff <= Tolerance*scale
}
