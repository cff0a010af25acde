// Package geography maps every bus of the base topology to its enclosing
// region chain. The mapping is computed once per topology version and
// shared read-only afterwards.
package geography

import (
	"fmt"
	"log"
	"sort"

	"github.com/miracaEU/EnergyModelling/internal/pkg/region"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

// fallbackToleranceKM bounds the first nearest-centroid retry when a bus
// coordinate falls outside every polygon.
const fallbackToleranceKM = 150.0

// Geography holds, per bus, the enclosing region codes ordered finest to
// coarsest. Every bus resolves at least to a country-level region.
type Geography struct {
	chains  map[string][]string
	byCode  map[string][]string
	index   *region.Index
	network *topology.Network
}

// Build queries the region index at every bus coordinate. Buses outside all
// polygons walk outward: nearest centroid within tolerance at each level,
// then unconditional nearest at country level, guaranteeing total coverage.
func Build(net *topology.Network, idx *region.Index) (*Geography, error) {
	g := &Geography{
		chains:  make(map[string][]string),
		byCode:  make(map[string][]string),
		index:   idx,
		network: net,
	}

	for _, b := range net.Buses() {
		chain := idx.RegionsContaining(b.Point())
		if chain == nil {
			chain = g.fallbackChain(b)
		}
		if chain == nil {
			return nil, fmt.Errorf("geography: bus %q resolves to no region at any level", b.ID)
		}
		codes := make([]string, 0, len(chain))
		for _, r := range chain {
			codes = append(codes, r.Code)
			g.byCode[r.Code] = append(g.byCode[r.Code], b.ID)
		}
		g.chains[b.ID] = codes
	}

	for _, ids := range g.byCode {
		sort.Strings(ids)
	}
	return g, nil
}

// fallbackChain locates the nearest region by centroid, trying fine levels
// within tolerance first and the country level without a distance bound.
func (g *Geography) fallbackChain(b topology.Bus) []*region.Region {
	for _, lvl := range g.index.Levels() {
		if lvl == 0 {
			break
		}
		if r, ok := g.index.NearestAtLevel(b.Point(), lvl, fallbackToleranceKM); ok {
			log.Printf("[BusGeography] bus %s outside all polygons, nearest level %d region %s\n", b.ID, lvl, r.Code)
			chain, _ := g.index.ChainFor(r.Code)
			return chain
		}
	}
	if r, ok := g.index.NearestAtLevel(b.Point(), 0, maxCountryDistanceKM); ok {
		log.Printf("[BusGeography] bus %s falls back to country %s\n", b.ID, r.Code)
		chain, _ := g.index.ChainFor(r.Code)
		return chain
	}
	return nil
}

// No practical bus sits farther from every country centroid than this.
const maxCountryDistanceKM = 1e9

// RegionsOf returns the region codes enclosing a bus, finest to coarsest.
func (g *Geography) RegionsOf(busID string) ([]string, bool) {
	chain, ok := g.chains[busID]
	return chain, ok
}

// BusesIn returns the bus identifiers whose chain includes the region code,
// sorted for reproducibility.
func (g *Geography) BusesIn(code string) []string {
	return g.byCode[code]
}

// Covers reports whether a bus chain includes the region code.
func (g *Geography) Covers(busID, code string) bool {
	for _, c := range g.chains[busID] {
		if c == code {
			return true
		}
	}
	return false
}

// Index returns the region index the geography was built from.
func (g *Geography) Index() *region.Index {
	return g.index
}

// Network returns the base topology the geography was built from.
func (g *Geography) Network() *topology.Network {
	return g.network
}
