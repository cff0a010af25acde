// Package supply aggregates resolved plant capacities per bus and
// technology class, applying per-fuel regulation rules.
package supply

import (
	"fmt"
	"log"
	"sort"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
)

// Resolved pairs a plant with its resolution record.
type Resolved struct {
	Entity     entity.Entity
	Resolution resolve.Resolution
}

// TechSupply is the aggregated supply of one technology class at one bus.
// For intermittent technologies Availability is the capacity-weighted
// average of the member plants' availability series.
type TechSupply struct {
	CapacityMW   float64
	PMinMW       float64
	PMaxMW       float64
	Dispatchable bool
	Availability []float64
	Plants       int
}

// Aggregate groups resolved plants by (bus, technology) and sums their
// capacities. Plants flagged unassigned land on their country sink bus, so
// national capacity is preserved even when precise siting fails; excluded
// plants contribute nothing.
func Aggregate(plants []Resolved) (map[string]map[string]*TechSupply, error) {
	out := make(map[string]map[string]*TechSupply)
	weightSum := make(map[string]map[string]float64)

	for _, p := range plants {
		if p.Resolution.Method == resolve.MethodExcluded {
			continue
		}
		if p.Entity.Kind != entity.Plant {
			continue
		}
		busID := p.Resolution.BusID
		tech := p.Entity.Technology
		if out[busID] == nil {
			out[busID] = make(map[string]*TechSupply)
			weightSum[busID] = make(map[string]float64)
		}
		ts := out[busID][tech]
		if ts == nil {
			ts = &TechSupply{}
			out[busID][tech] = ts
		}

		ts.CapacityMW += p.Entity.Capacity
		ts.Plants++

		pMin, pMax, ok := PowerLimits(tech, p.Entity.Capacity)
		if !ok {
			// Invalid regulation range: the plant is carried but not
			// dispatchable, limits pinned to zero.
			log.Printf("[SupplyAggregator] plant %s (%s) has no valid regulation range\n", p.Entity.ID, tech)
		} else {
			ts.PMinMW += pMin
			ts.PMaxMW += pMax
		}

		if Intermittent(tech) && len(p.Entity.Series) > 0 {
			if err := mergeAvailability(ts, p.Entity.Series, p.Entity.Capacity); err != nil {
				return nil, fmt.Errorf("supply: plant %s: %w", p.Entity.ID, err)
			}
			weightSum[busID][tech] += p.Entity.Capacity
		}
	}

	// Divide the weighted availability sums by total member capacity.
	for busID, techs := range out {
		for tech, ts := range techs {
			if w := weightSum[busID][tech]; w > 0 {
				for t := range ts.Availability {
					ts.Availability[t] /= w
				}
			}
			ts.Dispatchable = ts.PMaxMW > 0
		}
	}
	return out, nil
}

func mergeAvailability(ts *TechSupply, series []float64, capacityMW float64) error {
	if ts.Availability == nil {
		ts.Availability = make([]float64, len(series))
	}
	if len(series) != len(ts.Availability) {
		return fmt.Errorf("availability series has %d steps, group has %d", len(series), len(ts.Availability))
	}
	for t, v := range series {
		ts.Availability[t] += v * capacityMW
	}
	return nil
}

// TotalCapacity sums aggregated capacity over all buses and technologies.
func TotalCapacity(supply map[string]map[string]*TechSupply) float64 {
	var total float64
	for _, techs := range supply {
		for _, ts := range techs {
			total += ts.CapacityMW
		}
	}
	return total
}

// Rescale distributes a country-level generation total over the plants of
// one technology, proportionally to nominal capacity and clipped at each
// plant's nominal capacity. Clipped excess is redistributed once over
// plants with remaining headroom, matching the source pipeline. The target
// is capped at total nominal capacity, so the returned values conserve the
// capped total.
func Rescale(plants []Resolved, technology, country string, targetMW float64) map[string]float64 {
	var members []Resolved
	var totalNom float64
	for _, p := range plants {
		if p.Entity.Technology != technology || p.Resolution.Country != country {
			continue
		}
		if p.Resolution.Method == resolve.MethodExcluded {
			continue
		}
		members = append(members, p)
		totalNom += p.Entity.Capacity
	}
	if len(members) == 0 || totalNom <= 0 {
		return nil
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Entity.ID < members[j].Entity.ID })

	if targetMW > totalNom {
		targetMW = totalNom
	}

	out := make(map[string]float64, len(members))
	var excess float64
	var headroom float64
	for _, p := range members {
		v := p.Entity.Capacity / totalNom * targetMW
		if v > p.Entity.Capacity {
			excess += v - p.Entity.Capacity
			v = p.Entity.Capacity
		}
		out[p.Entity.ID] = v
		headroom += p.Entity.Capacity - v
	}
	if excess > 0 && headroom > 0 {
		scale := excess / headroom
		for _, p := range members {
			out[p.Entity.ID] += (p.Entity.Capacity - out[p.Entity.ID]) * scale
		}
	}
	return out
}
