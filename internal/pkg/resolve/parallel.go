package resolve

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
)

// ResolveAll maps a batch of entities onto buses. Resolution of independent
// entities is embarrassingly parallel: workers share only the frozen
// indexes and write disjoint result slots, so output order equals input
// order regardless of scheduling.
//
// The batch runs in two phases. Direct matches (bus references and
// coordinates) resolve first; their capacities build the per-bus baseline
// aggregate that the region-match tie-break concentrates small distributed
// entities onto. Everything else resolves against that frozen baseline, so
// repeated runs on identical inputs yield identical assignments.
//
// Malformed entities are reported in the second return value and carry an
// excluded audit record; they never abort the batch.
func (r *Resolver) ResolveAll(ctx context.Context, entities []entity.Entity) ([]Resolution, []error) {
	results := make([]Resolution, len(entities))
	located := make([]bool, len(entities))
	var malformed []error

	for i, e := range entities {
		if _, bad := e.Location.(entity.Unlocated); bad || e.Location == nil {
			results[i] = Resolution{EntityID: e.ID, Method: MethodExcluded}
			malformed = append(malformed,
				entity.MalformedEntityError{ID: e.ID, Reason: "no coordinates and no region code"})
			continue
		}
		located[i] = true
	}

	direct := make([]bool, len(entities))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range entities {
		if !located[i] {
			continue
		}
		i := i
		g.Go(func() error {
			e := entities[i]
			var out outcome
			switch e.Location.(type) {
			case entity.BusLocated:
				out = r.byBusReference(e)
			case entity.CoordinateLocated:
				out = r.byCoordinate(e)
			}
			if out.ok {
				results[i] = Resolution{e.ID, out.busID, out.method, r.countryFor(e)}
				direct[i] = true
			}
			return nil
		})
	}
	g.Wait()

	// Barrier: the baseline freezes before any region match reads it.
	r.baseline = make(map[string]float64)
	for i, e := range entities {
		if direct[i] {
			r.baseline[results[i].BusID] += weightOf(e)
		}
	}

	g, _ = errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range entities {
		if !located[i] || direct[i] {
			continue
		}
		i := i
		g.Go(func() error {
			// Located entities cannot produce a MalformedEntityError.
			res, _ := r.Resolve(entities[i])
			results[i] = res
			return nil
		})
	}
	g.Wait()

	if len(malformed) > 0 {
		log.Printf("[Resolver] %d malformed entities excluded\n", len(malformed))
	}
	return results, malformed
}

// weightOf is the baseline contribution of a directly matched entity.
func weightOf(e entity.Entity) float64 {
	if e.Kind == entity.Plant {
		return e.Capacity
	}
	return e.Demand
}
