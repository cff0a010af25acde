// Package pipeline is the root of the integration system: it freezes the
// shared lookup structures, resolves every entity, allocates demand,
// aggregates supply and assembles the augmented network, publishing status
// and audit events for the datastream handlers.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/miracaEU/EnergyModelling/internal/pkg/assemble"
	"github.com/miracaEU/EnergyModelling/internal/pkg/demand"
	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
	"github.com/miracaEU/EnergyModelling/internal/pkg/msg"
	"github.com/miracaEU/EnergyModelling/internal/pkg/region"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
	"github.com/miracaEU/EnergyModelling/internal/pkg/runner"
	"github.com/miracaEU/EnergyModelling/internal/pkg/supply"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

// Inputs are the source datasets after loading. The pipeline treats them as
// read-only.
type Inputs struct {
	Buses   []topology.Bus
	Lines   []topology.Line
	Regions []region.Region
	// Plants and Loads are the point or region located entities.
	Plants []entity.Entity
	Loads  []entity.Entity
	// DemandAggregates maps region code to an aggregate demand series.
	DemandAggregates map[string][]float64
	// Profiles optionally override the shared temporal shape per bus.
	Profiles map[string][]float64
	// ProxyWeights optionally replaces the GDP/population source; when nil
	// the proxy values come from the region attributes.
	ProxyWeights demand.WeightSource
	// Key weights GDP against population in the distribution key.
	Key demand.DistributionKey
}

// Pipeline wires the components together. It implements msg.Publisher so
// datastream handlers can subscribe to status and audit events.
type Pipeline struct {
	pid      uuid.UUID
	pubsub   *msg.PubSub
	resolver resolve.Config
}

// New returns a Pipeline with the given resolver configuration.
func New(cfg resolve.Config) (*Pipeline, error) {
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}
	ps, err := msg.NewPubSub()
	if err != nil {
		return nil, err
	}
	return &Pipeline{pid: pid, pubsub: ps, resolver: cfg}, nil
}

// PID is a getter for the pipeline PID
func (p *Pipeline) PID() uuid.UUID {
	return p.pid
}

// Subscribe implements msg.Publisher.
func (p *Pipeline) Subscribe(pid uuid.UUID, topic msg.Topic) (<-chan msg.Msg, error) {
	return p.pubsub.Subscribe(pid, topic)
}

// Unsubscribe implements msg.Publisher.
func (p *Pipeline) Unsubscribe(pid uuid.UUID) {
	p.pubsub.Unsubscribe(pid)
}

// Run executes the full integration. Construction of the region index and
// bus geography completes before any resolution starts; both are frozen
// afterwards and shared read-only by the resolver workers.
func (p *Pipeline) Run(ctx context.Context, in Inputs, solver runner.Solver) (*runner.Runner, error) {
	log.Println("[Pipeline] Building region index")
	idx, err := region.NewIndex(in.Regions)
	if err != nil {
		return nil, fmt.Errorf("pipeline: region index: %w", err)
	}
	p.publishStatus("region index built")

	log.Println("[Pipeline] Building topology")
	net, err := topology.New(in.Buses, in.Lines)
	if err != nil {
		return nil, fmt.Errorf("pipeline: topology: %w", err)
	}

	log.Println("[Pipeline] Building bus geography")
	geo, err := geography.Build(net, idx)
	if err != nil {
		return nil, fmt.Errorf("pipeline: bus geography: %w", err)
	}
	p.publishStatus("bus geography built")

	log.Println("[Pipeline] Resolving entities")
	res := resolve.New(geo, p.resolver)
	all := make([]entity.Entity, 0, len(in.Plants)+len(in.Loads))
	all = append(all, in.Plants...)
	all = append(all, in.Loads...)
	resolutions, malformed := res.ResolveAll(ctx, all)
	for _, err := range malformed {
		log.Println("[Pipeline] excluded:", err)
	}
	for _, r := range resolutions {
		p.pubsub.Publish(msg.New(p.pid, msg.Audit, r))
	}

	log.Println("[Pipeline] Allocating demand")
	busDemand, err := p.allocateDemand(geo, in)
	if err != nil {
		return nil, err
	}

	log.Println("[Pipeline] Aggregating supply")
	resolvedPlants := make([]supply.Resolved, 0, len(in.Plants))
	for i := range in.Plants {
		resolvedPlants = append(resolvedPlants, supply.Resolved{
			Entity:     in.Plants[i],
			Resolution: resolutions[i],
		})
	}
	busSupply, err := supply.Aggregate(resolvedPlants)
	if err != nil {
		return nil, fmt.Errorf("pipeline: supply: %w", err)
	}

	log.Println("[Pipeline] Assembling network")
	an := assemble.Assemble(geo, busSupply, busDemand, in.DemandAggregates)

	// Point loads carry their own demand outside the regional aggregates;
	// they join the withdrawals after the conservation check so allocated
	// regional totals stay comparable to their sources.
	for i := range in.Loads {
		r := resolutions[len(in.Plants)+i]
		if r.Method == resolve.MethodExcluded {
			continue
		}
		addLoad(an.Withdrawal, r.BusID, in.Loads[i], an.Steps)
		if len(an.Withdrawal[r.BusID]) > an.Steps {
			an.Steps = len(an.Withdrawal[r.BusID])
		}
	}
	p.publishStatus(fmt.Sprintf("network %s", an.State))

	return runner.New(an, resolutions, solver), nil
}

func (p *Pipeline) allocateDemand(geo *geography.Geography, in Inputs) (map[string][]float64, error) {
	alloc := demand.New(geo)
	src := in.ProxyWeights
	if src == nil {
		key := in.Key
		if key.GDP == 0 && key.Pop == 0 {
			key = demand.DefaultKey()
		}
		src = demand.NewProxySource(geo, key)
	}

	busDemand := make(map[string][]float64)
	for code, aggregate := range in.DemandAggregates {
		series, err := alloc.Allocate(code, aggregate, src, in.Profiles)
		if err != nil {
			log.Printf("[Pipeline] demand for region %s not allocated: %v\n", code, err)
			continue
		}
		for busID, s := range series {
			merge(busDemand, busID, s)
		}
	}
	return busDemand, nil
}

func (p *Pipeline) publishStatus(text string) {
	p.pubsub.Publish(msg.New(p.pid, msg.Status, text))
}

func merge(busDemand map[string][]float64, busID string, s []float64) {
	if busDemand[busID] == nil {
		busDemand[busID] = make([]float64, len(s))
	}
	dst := busDemand[busID]
	for t, v := range s {
		if t < len(dst) {
			dst[t] += v
		} else {
			dst = append(dst, v)
		}
	}
	busDemand[busID] = dst
}

// addLoad applies a point load at every scenario step. A scalar load on a
// bus without an allocated series gets one extended to the scenario length
// first, so later steps carry the demand too.
func addLoad(busDemand map[string][]float64, busID string, e entity.Entity, steps int) {
	if len(e.Series) > 0 {
		merge(busDemand, busID, e.Series)
		return
	}
	if steps < 1 {
		steps = 1
	}
	if len(busDemand[busID]) < steps {
		s := make([]float64, steps)
		copy(s, busDemand[busID])
		busDemand[busID] = s
	}
	for t := range busDemand[busID] {
		busDemand[busID][t] += e.Demand
	}
}
