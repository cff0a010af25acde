// Package resolve assigns every source entity to a network bus, applying
// the hierarchical fallback ladder when a direct assignment is unavailable.
package resolve

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
	"github.com/miracaEU/EnergyModelling/internal/pkg/region"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

// Method is the quality tag attached to every resolution outcome.
type Method string

const (
	// MethodExact marks a direct coordinate, bus-reference or
	// finest-level region match.
	MethodExact Method = "exact"
	// MethodUnassigned marks an entity absorbed by the country sink bus.
	MethodUnassigned Method = "unassigned"
	// MethodExcluded marks a malformed entity kept in the audit trail but
	// excluded from supply and demand.
	MethodExcluded Method = "excluded"
)

// FallbackMethod tags a region match that required coarsening to the given
// hierarchy level.
func FallbackMethod(level int) Method {
	if level == 0 {
		return Method("fallback:country")
	}
	return Method(fmt.Sprintf("fallback:level%d", level))
}

// Resolution is one audit record: entity, assigned bus and how the
// assignment was obtained. Unassigned entities still carry a bus (the
// country sink) so downstream totals stay conserved.
type Resolution struct {
	EntityID string `json:"EntityID" bson:"entityId"`
	BusID    string `json:"BusID" bson:"busId"`
	Method   Method `json:"Method" bson:"method"`
	Country  string `json:"Country" bson:"country"`
}

// Config holds the resolver tuning knobs.
type Config struct {
	// MaxDistanceKM bounds the nearest-bus coordinate match; farther
	// entities are treated as "no match" and fall through the ladder.
	MaxDistanceKM float64 `json:"MaxDistanceKM"`
	// Workers is the fan-out width of ResolveAll.
	Workers int `json:"Workers"`
}

// DefaultConfig mirrors the tolerances of the source pipeline.
func DefaultConfig() Config {
	return Config{MaxDistanceKM: 50, Workers: 8}
}

// Resolver maps entities onto buses. It holds only frozen shared state and
// may be used from concurrent workers.
type Resolver struct {
	net      *topology.Network
	geo      *geography.Geography
	idx      *region.Index
	cfg      Config
	baseline map[string]float64
}

// New returns a Resolver over a built geography.
func New(geo *geography.Geography, cfg Config) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxDistanceKM <= 0 {
		cfg.MaxDistanceKM = DefaultConfig().MaxDistanceKM
	}
	return &Resolver{
		net: geo.Network(),
		geo: geo,
		idx: geo.Index(),
		cfg: cfg,
	}
}

// NewFromConfig reads the resolver configuration from a JSON file.
func NewFromConfig(configPath string, geo *geography.Geography) (*Resolver, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return New(geo, cfg), nil
}

type outcome struct {
	busID  string
	method Method
	ok     bool
}

type strategy func(entity.Entity) outcome

// ladder returns the ordered resolution strategies. Each is a pure function
// returning continue/success; expected "no match" outcomes never surface as
// errors.
func (r *Resolver) ladder() []strategy {
	return []strategy{
		r.byBusReference,
		r.byCoordinate,
		r.byRegionCode,
		r.bySink,
	}
}

// Resolve maps a single entity to a bus. The only error is a
// MalformedEntityError for records lacking any location key; everything
// else resolves, in the worst case onto the country sink bus.
//
// Ties between candidate buses are broken by the largest baseline aggregate
// capacity and then by the lexicographically smallest bus identifier, so
// identical inputs always yield identical assignments. The baseline is
// summed across voltage classes; candidates of different classes compete on
// aggregate alone.
func (r *Resolver) Resolve(e entity.Entity) (Resolution, error) {
	if _, ok := e.Location.(entity.Unlocated); ok || e.Location == nil {
		return Resolution{EntityID: e.ID, Method: MethodExcluded},
			entity.MalformedEntityError{ID: e.ID, Reason: "no coordinates and no region code"}
	}
	for _, s := range r.ladder() {
		if out := s(e); out.ok {
			return Resolution{
				EntityID: e.ID,
				BusID:    out.busID,
				Method:   out.method,
				Country:  r.countryFor(e),
			}, nil
		}
	}
	// bySink succeeds whenever the topology has any bus, so this is
	// unreachable with a validated network.
	return Resolution{EntityID: e.ID, Method: MethodUnassigned},
		entity.MalformedEntityError{ID: e.ID, Reason: "no sink bus available"}
}

func (r *Resolver) byBusReference(e entity.Entity) outcome {
	loc, ok := e.Location.(entity.BusLocated)
	if !ok {
		return outcome{}
	}
	if _, exists := r.net.Bus(loc.BusID); !exists {
		return outcome{}
	}
	return outcome{loc.BusID, MethodExact, true}
}

func (r *Resolver) byCoordinate(e entity.Entity) outcome {
	loc, ok := e.Location.(entity.CoordinateLocated)
	if !ok {
		return outcome{}
	}
	pt := orb.Point{loc.Lon, loc.Lat}

	// Restrict to buses sharing the entity's country so sparse data can
	// not jump a border.
	country := r.countryFor(e)
	candidates := r.net.BusesInCountry(country)
	if country == "" {
		candidates = allBusIDs(r.net)
	}

	best := ""
	bestKM := r.cfg.MaxDistanceKM
	for _, id := range candidates {
		b, _ := r.net.Bus(id)
		if !b.InService {
			continue
		}
		d := geo.Distance(pt, b.Point()) / 1000.0
		if d < bestKM || (d == bestKM && best != "" && id < best) {
			best = id
			bestKM = d
		}
	}
	if best == "" {
		return outcome{}
	}
	return outcome{best, MethodExact, true}
}

// byRegionCode matches the declared region against bus geography entries,
// ascending one hierarchy level at a time until the root. Coordinates that
// matched no bus within tolerance still locate the entity: the enclosing
// chain by containment substitutes for a declared code.
func (r *Resolver) byRegionCode(e entity.Entity) outcome {
	code := declaredRegion(e)
	if code == "" {
		return r.byContainment(e)
	}
	declared, ok := r.idx.Region(code)
	if !ok {
		return outcome{}
	}

	for reg := declared; reg != nil; {
		if busID, found := r.pickBus(r.geo.BusesIn(reg.Code)); found {
			method := FallbackMethod(reg.Level)
			if reg.Code == declared.Code && reg.Level == r.idx.Finest() {
				method = MethodExact
			}
			return outcome{busID, method, true}
		}
		parent, has := r.idx.ParentOf(reg.Code)
		if !has {
			break
		}
		reg = parent
	}
	return outcome{}
}

func (r *Resolver) byContainment(e entity.Entity) outcome {
	loc, ok := e.Location.(entity.CoordinateLocated)
	if !ok {
		return outcome{}
	}
	chain := r.idx.RegionsContaining(orb.Point{loc.Lon, loc.Lat})
	for _, reg := range chain {
		if busID, found := r.pickBus(r.geo.BusesIn(reg.Code)); found {
			return outcome{busID, FallbackMethod(reg.Level), true}
		}
	}
	return outcome{}
}

// bySink absorbs everything still unresolved onto the designated per-country
// sink bus, preserving national totals.
func (r *Resolver) bySink(e entity.Entity) outcome {
	country := r.countryFor(e)
	if sink, ok := r.net.SinkBus(country); ok {
		return outcome{sink, MethodUnassigned, true}
	}
	// Entity country has no buses at all; take the first country that has
	// a sink, in sorted order, so the choice is reproducible.
	for _, c := range r.net.Countries() {
		if sink, ok := r.net.SinkBus(c); ok {
			return outcome{sink, MethodUnassigned, true}
		}
	}
	return outcome{}
}

// pickBus selects deterministically from candidate buses: largest baseline
// aggregate first, then smallest identifier. Candidates arrive sorted, so
// the first maximum wins ties.
func (r *Resolver) pickBus(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	for _, id := range candidates[1:] {
		if r.baseline[id] > r.baseline[best] {
			best = id
		}
	}
	return best, true
}

func declaredRegion(e entity.Entity) string {
	switch loc := e.Location.(type) {
	case entity.RegionLocated:
		return loc.Code
	case entity.CoordinateLocated:
		return loc.RegionCode
	}
	return ""
}

// countryFor derives the entity's country from its attributes, falling back
// to the declared region's root and finally to containment of the
// coordinate.
func (r *Resolver) countryFor(e entity.Entity) string {
	if e.Country != "" {
		return e.Country
	}
	if code := declaredRegion(e); code != "" {
		if chain, ok := r.idx.ChainFor(code); ok {
			return chain[len(chain)-1].Code
		}
	}
	if loc, ok := e.Location.(entity.CoordinateLocated); ok {
		pt := orb.Point{loc.Lon, loc.Lat}
		if chain := r.idx.RegionsContaining(pt); chain != nil {
			return chain[len(chain)-1].Code
		}
		if root, ok := r.idx.NearestAtLevel(pt, 0, 1e9); ok {
			return root.Code
		}
	}
	return ""
}

func allBusIDs(net *topology.Network) []string {
	buses := net.Buses()
	ids := make([]string, 0, len(buses))
	for _, b := range buses {
		ids = append(ids, b.ID)
	}
	sort.Strings(ids)
	return ids
}
