package topology

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// Bus is a node of the base transmission network. Buses are owned by the
// network and read-only to the resolution core.
type Bus struct {
	ID        string
	Name      string
	Country   string
	Lat       float64
	Lon       float64
	VoltageKV float64
	InService bool
}

// Point returns the bus coordinate as lon/lat.
func (b Bus) Point() orb.Point {
	return orb.Point{b.Lon, b.Lat}
}

// Line is a transmission link between two buses.
type Line struct {
	ID         string
	FromBus    string
	ToBus      string
	CapacityMW float64
	LengthKM   float64
	InService  bool
}

// Network holds the base topology. It is built once per topology version and
// immutable afterwards.
type Network struct {
	buses     map[string]Bus
	order     []string
	lines     []Line
	adjacency map[string][]string
	byCountry map[string][]string
	sinks     map[string]string
}

// New validates and indexes the base topology. A bus without an identifier or
// coordinates, or a line referencing an unknown bus, makes the whole input
// structurally unreadable and fails the load.
func New(buses []Bus, lines []Line) (*Network, error) {
	n := &Network{
		buses:     make(map[string]Bus),
		adjacency: make(map[string][]string),
		byCountry: make(map[string][]string),
		sinks:     make(map[string]string),
	}

	for _, b := range buses {
		if b.ID == "" {
			return nil, fmt.Errorf("topology: bus with empty identifier")
		}
		if _, ok := n.buses[b.ID]; ok {
			return nil, fmt.Errorf("topology: duplicate bus %q", b.ID)
		}
		n.buses[b.ID] = b
		n.order = append(n.order, b.ID)
		n.byCountry[b.Country] = append(n.byCountry[b.Country], b.ID)
	}
	sort.Strings(n.order)
	for _, ids := range n.byCountry {
		sort.Strings(ids)
	}

	for _, l := range lines {
		if _, ok := n.buses[l.FromBus]; !ok {
			return nil, fmt.Errorf("topology: line %q references unknown bus %q", l.ID, l.FromBus)
		}
		if _, ok := n.buses[l.ToBus]; !ok {
			return nil, fmt.Errorf("topology: line %q references unknown bus %q", l.ID, l.ToBus)
		}
		n.lines = append(n.lines, l)
		if l.InService {
			n.adjacency[l.FromBus] = append(n.adjacency[l.FromBus], l.ToBus)
			n.adjacency[l.ToBus] = append(n.adjacency[l.ToBus], l.FromBus)
		}
	}

	n.designateSinks()
	return n, nil
}

// designateSinks picks one sink bus per country to absorb unresolved
// entities: the in-service bus with the highest voltage, ties broken by
// lowest identifier.
func (n *Network) designateSinks() {
	for country, ids := range n.byCountry {
		best := ""
		for _, id := range ids {
			b := n.buses[id]
			if !b.InService {
				continue
			}
			if best == "" || b.VoltageKV > n.buses[best].VoltageKV {
				best = id
			}
		}
		if best == "" && len(ids) > 0 {
			best = ids[0]
		}
		n.sinks[country] = best
	}
}

// Bus returns the bus with the given identifier.
func (n *Network) Bus(id string) (Bus, bool) {
	b, ok := n.buses[id]
	return b, ok
}

// Buses returns all buses in deterministic (identifier) order.
func (n *Network) Buses() []Bus {
	out := make([]Bus, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.buses[id])
	}
	return out
}

// Lines returns all lines.
func (n *Network) Lines() []Line {
	return n.lines
}

// BusesInCountry returns identifiers of buses in the given country, sorted.
func (n *Network) BusesInCountry(country string) []string {
	return n.byCountry[country]
}

// Countries returns all countries present in the topology, sorted.
func (n *Network) Countries() []string {
	out := make([]string, 0, len(n.byCountry))
	for c := range n.byCountry {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SinkBus returns the designated sink bus for a country.
func (n *Network) SinkBus(country string) (string, bool) {
	id, ok := n.sinks[country]
	if id == "" {
		return "", false
	}
	return id, ok
}

// ConnectedFrom returns the set of bus identifiers reachable from the start
// bus over in-service lines.
func (n *Network) ConnectedFrom(start string) map[string]bool {
	visited := map[string]bool{}
	if _, ok := n.buses[start]; !ok {
		return visited
	}
	queue := []string{start}
	visited[start] = true
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, next := range n.adjacency[curr] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}
