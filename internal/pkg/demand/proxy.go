package demand

import (
	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
)

// DistributionKey weights the GDP and population shares when both proxies
// are combined into one allocation value.
type DistributionKey struct {
	GDP float64 `json:"GDP"`
	Pop float64 `json:"Pop"`
}

// DefaultKey is the 60/40 GDP/population split of the source pipeline.
func DefaultKey() DistributionKey {
	return DistributionKey{GDP: 0.6, Pop: 0.4}
}

// ProxySource derives a per-bus proxy value from the GDP and population of
// the bus's finest enclosing region. Buses sharing a region split its proxy
// evenly; shares are normalized against the country totals so GDP and
// population combine on the same scale.
type ProxySource struct {
	values map[string]float64
}

// NewProxySource precomputes proxy values for every bus of the geography.
func NewProxySource(geo *geography.Geography, key DistributionKey) *ProxySource {
	idx := geo.Index()
	net := geo.Network()

	gdpTotal := make(map[string]float64)
	popTotal := make(map[string]float64)
	for _, lvl := range idx.Levels() {
		if lvl != idx.Finest() {
			continue
		}
		for _, r := range idx.AtLevel(lvl) {
			gdpTotal[r.Country] += r.GDP
			popTotal[r.Country] += r.Population
		}
	}

	src := &ProxySource{values: make(map[string]float64)}
	for _, b := range net.Buses() {
		chain, ok := geo.RegionsOf(b.ID)
		if !ok || len(chain) == 0 {
			continue
		}
		r, ok := idx.Region(chain[0])
		if !ok {
			continue
		}
		share := 0.0
		if gdpTotal[r.Country] > 0 {
			share += key.GDP * r.GDP / gdpTotal[r.Country]
		}
		if popTotal[r.Country] > 0 {
			share += key.Pop * r.Population / popTotal[r.Country]
		}
		if share <= 0 {
			continue
		}
		src.values[b.ID] = share / float64(len(geo.BusesIn(r.Code)))
	}
	return src
}

// Value returns the proxy value of a bus; false when no proxy data covers
// the bus's region.
func (s *ProxySource) Value(busID string) (float64, bool) {
	v, ok := s.values[busID]
	return v, ok
}

// Static is a fixed per-bus weight source, used for tests and for
// externally supplied proxy tables.
type Static map[string]float64

// Value implements WeightSource.
func (s Static) Value(busID string) (float64, bool) {
	v, ok := s[busID]
	return v, ok
}
