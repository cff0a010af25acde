// Package demand disaggregates regional aggregate demand down to bus level
// using proxy weights (population, GDP) with uniform fallback.
package demand

import (
	"fmt"
	"log"

	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
)

// WeightSource supplies the proxy value of a bus within its region. The
// second return is false when no proxy data covers the bus.
type WeightSource interface {
	Value(busID string) (float64, bool)
}

// Allocator splits regional aggregates across the member buses of a region.
type Allocator struct {
	geo *geography.Geography
}

// New returns an Allocator over a built bus geography.
func New(geo *geography.Geography) *Allocator {
	return &Allocator{geo: geo}
}

// Weights computes the allocation weight of every member bus of a region.
//
// Buses covered by the proxy keep proxy-proportional shares; buses missing
// proxy data split the region's unweighted remainder uniformly, one 1/n
// slot each. When the entire region lacks proxy data the split is uniform.
// The returned weights sum to exactly 1.
func (a *Allocator) Weights(regionCode string, src WeightSource) (map[string]float64, error) {
	members := a.geo.BusesIn(regionCode)
	if len(members) == 0 {
		return nil, fmt.Errorf("demand: region %q has no member buses", regionCode)
	}

	n := float64(len(members))
	values := make(map[string]float64)
	var covered []string
	var missing []string
	var total float64
	for _, id := range members {
		if v, ok := src.Value(id); ok && v > 0 {
			covered = append(covered, id)
			values[id] = v
			total += v
		} else {
			missing = append(missing, id)
		}
	}

	weights := make(map[string]float64, len(members))
	if total == 0 {
		for _, id := range members {
			weights[id] = 1.0 / n
		}
	} else {
		uniformMass := float64(len(missing)) / n
		coveredMass := 1.0 - uniformMass
		for _, id := range missing {
			weights[id] = 1.0 / n
		}
		for _, id := range covered {
			weights[id] = coveredMass * values[id] / total
		}
	}

	// Renormalize so the region total is exactly 1 despite rounding.
	var sum float64
	for _, w := range weights {
		sum += w
	}
	for id := range weights {
		weights[id] /= sum
	}
	return weights, nil
}

// Allocate splits a regional aggregate time series across member buses.
//
// The temporal shape is shared network-wide within the region: every bus
// gets weight*aggregate at each step. A bus-specific profile overrides the
// shape for that bus only; it is scaled to the bus's energy share and the
// per-step residual is redistributed over the unprofiled buses so the
// regional total is preserved at every time step. When every member bus is
// profiled there is nowhere to place the residual: the profiles win, total
// energy stays conserved per bus, per-step totals follow the profiles, and
// a warning is logged.
func (a *Allocator) Allocate(regionCode string, aggregate []float64, src WeightSource, profiles map[string][]float64) (map[string][]float64, error) {
	weights, err := a.Weights(regionCode, src)
	if err != nil {
		return nil, err
	}
	if len(aggregate) == 0 {
		return nil, fmt.Errorf("demand: region %q has an empty aggregate series", regionCode)
	}

	out := make(map[string][]float64, len(weights))

	var profiled []string
	var plain []string
	var plainMass float64
	for _, id := range a.geo.BusesIn(regionCode) {
		p, ok := profiles[id]
		if ok && len(p) != len(aggregate) {
			return nil, fmt.Errorf("demand: profile for bus %q has %d steps, aggregate has %d", id, len(p), len(aggregate))
		}
		if ok && seriesSum(p) > 0 {
			profiled = append(profiled, id)
		} else {
			plain = append(plain, id)
			plainMass += weights[id]
		}
	}

	if len(plain) == 0 && len(profiled) > 0 {
		log.Printf("[DemandAllocator] region %s: every member bus is profiled, per-step residual not redistributed\n", regionCode)
	}

	var total float64
	for _, v := range aggregate {
		total += v
	}

	for _, id := range profiled {
		p := profiles[id]
		scale := weights[id] * total / seriesSum(p)
		series := make([]float64, len(aggregate))
		for t := range p {
			series[t] = p[t] * scale
		}
		out[id] = series
	}

	for t, v := range aggregate {
		residual := v
		for _, id := range profiled {
			residual -= out[id][t]
		}
		for _, id := range plain {
			if out[id] == nil {
				out[id] = make([]float64, len(aggregate))
			}
			if plainMass > 0 {
				out[id][t] = residual * weights[id] / plainMass
			}
		}
	}
	return out, nil
}

// AllocateScalar splits a single aggregate value; a convenience wrapper for
// non-time-sliced demand.
func (a *Allocator) AllocateScalar(regionCode string, value float64, src WeightSource) (map[string]float64, error) {
	series, err := a.Allocate(regionCode, []float64{value}, src, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(series))
	for id, s := range series {
		out[id] = s[0]
	}
	return out, nil
}

func seriesSum(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum
}
