package resolve

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"gotest.tools/assert"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/geography"
	"github.com/miracaEU/EnergyModelling/internal/pkg/region"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

func rect(minLon, minLat, maxLon, maxLat float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{minLon, minLat},
		{maxLon, minLat},
		{maxLon, maxLat},
		{minLon, maxLat},
		{minLon, minLat},
	}}}
}

// testGeography builds a single-country setup: AA with subdivisions AA1 and
// AA2, bus b1 and b1a inside AA1, bus b2 inside AA2.
func testGeography(t *testing.T) *geography.Geography {
	idx, err := region.NewIndex([]region.Region{
		{Code: "AA", Level: 0, Country: "AA", Geometry: rect(0, 0, 10, 10)},
		{Code: "AA1", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(0, 0, 5, 10)},
		{Code: "AA2", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(5, 0, 10, 10)},
	})
	assert.NilError(t, err)

	net, err := topology.New([]topology.Bus{
		{ID: "b1", Country: "AA", Lat: 5, Lon: 2, VoltageKV: 380, InService: true},
		{ID: "b1a", Country: "AA", Lat: 5, Lon: 3, VoltageKV: 220, InService: true},
		{ID: "b2", Country: "AA", Lat: 5, Lon: 7, VoltageKV: 220, InService: true},
	}, nil)
	assert.NilError(t, err)

	g, err := geography.Build(net, idx)
	assert.NilError(t, err)
	return g
}

func TestResolveByBusReference(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	res, err := r.Resolve(entity.Entity{
		ID: "p1", Kind: entity.Plant, Country: "AA",
		Location: entity.BusLocated{BusID: "b2"},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.BusID, "b2")
	assert.Equal(t, res.Method, MethodExact)
	assert.Equal(t, res.Country, "AA")
}

func TestResolveByCoordinateNearestBus(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	lat, lon := 5.1, 7.1
	res, err := r.Resolve(entity.Entity{
		ID: "p2", Kind: entity.Plant, Country: "AA",
		Location: entity.CoordinateLocated{Lat: lat, Lon: lon},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.BusID, "b2")
	assert.Equal(t, res.Method, MethodExact)
}

func TestResolveCoordinateTooFarResolvesByContainment(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	// More than MaxDistanceKM from every bus, but inside AA1: the
	// enclosing region chain substitutes for the missing bus match.
	res, err := r.Resolve(entity.Entity{
		ID: "p3", Kind: entity.Plant, Country: "AA",
		Location: entity.CoordinateLocated{Lat: 0.1, Lon: 0.1},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.Method, Method("fallback:level1"))
	assert.Equal(t, res.BusID, "b1")
	assert.Equal(t, res.Country, "AA")
}

func TestResolveCoastalPlantFallsBackToCountry(t *testing.T) {
	// The subdivisions leave a gap on the east side of AA; a plant in the
	// gap sits outside every finest-level polygon but inside the country.
	idx, err := region.NewIndex([]region.Region{
		{Code: "AA", Level: 0, Country: "AA", Geometry: rect(0, 0, 10, 10)},
		{Code: "AA1", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(0, 0, 5, 10)},
		{Code: "AA2", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(5, 0, 8, 10)},
	})
	assert.NilError(t, err)
	net, err := topology.New([]topology.Bus{
		{ID: "b1", Country: "AA", Lat: 5, Lon: 2, VoltageKV: 380, InService: true},
		{ID: "b2", Country: "AA", Lat: 5, Lon: 7, VoltageKV: 220, InService: true},
	}, nil)
	assert.NilError(t, err)
	g, err := geography.Build(net, idx)
	assert.NilError(t, err)

	r := New(g, DefaultConfig())
	res, err := r.Resolve(entity.Entity{
		ID: "coastal", Kind: entity.Plant, Country: "AA",
		Location: entity.CoordinateLocated{Lat: 0.5, Lon: 9.5},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.Method, Method("fallback:country"))
	assert.Assert(t, res.BusID != "")
}

func TestResolveOutsideAllPolygonsFallsToSink(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	// Offshore and far from every bus: absorbed by the country sink.
	res, err := r.Resolve(entity.Entity{
		ID: "p4", Kind: entity.Plant, Country: "AA",
		Location: entity.CoordinateLocated{Lat: 40, Lon: 80},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.Method, MethodUnassigned)
	assert.Equal(t, res.BusID, "b1", "sink is the highest-voltage bus")
}

func TestResolveByRegionCodeFinestIsExact(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	res, err := r.Resolve(entity.Entity{
		ID: "l1", Kind: entity.Load, Country: "AA",
		Location: entity.RegionLocated{Code: "AA2"},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.BusID, "b2")
	assert.Equal(t, res.Method, MethodExact)
}

func TestResolveByCountryRegionIsFallback(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	res, err := r.Resolve(entity.Entity{
		ID: "l2", Kind: entity.Load, Country: "AA",
		Location: entity.RegionLocated{Code: "AA"},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.Method, Method("fallback:country"))
}

func TestResolveRegionWithoutBusesAscends(t *testing.T) {
	idx, err := region.NewIndex([]region.Region{
		{Code: "AA", Level: 0, Country: "AA", Geometry: rect(0, 0, 10, 10)},
		{Code: "AA1", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(0, 0, 5, 10)},
		{Code: "AA2", Level: 1, Parent: "AA", Country: "AA", Geometry: rect(5, 0, 10, 10)},
	})
	assert.NilError(t, err)
	net, err := topology.New([]topology.Bus{
		{ID: "b2", Country: "AA", Lat: 5, Lon: 7, VoltageKV: 380, InService: true},
	}, nil)
	assert.NilError(t, err)
	g, err := geography.Build(net, idx)
	assert.NilError(t, err)

	r := New(g, DefaultConfig())
	res, err := r.Resolve(entity.Entity{
		ID: "l3", Kind: entity.Load, Country: "AA",
		Location: entity.RegionLocated{Code: "AA1"},
	})
	assert.NilError(t, err)
	assert.Equal(t, res.BusID, "b2")
	assert.Equal(t, res.Method, Method("fallback:country"))
}

func TestResolveUnlocatedIsMalformed(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	res, err := r.Resolve(entity.Entity{ID: "bad", Kind: entity.Plant, Location: entity.Unlocated{}})
	assert.Assert(t, err != nil)
	_, ok := err.(entity.MalformedEntityError)
	assert.Assert(t, ok, "expected MalformedEntityError, got %T", err)
	assert.Equal(t, res.Method, MethodExcluded)
}

func TestFallbackMethodNames(t *testing.T) {
	assert.Equal(t, FallbackMethod(0), Method("fallback:country"))
	assert.Equal(t, FallbackMethod(2), Method("fallback:level2"))
}

func TestResolveAllKeepsInputOrder(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	entities := []entity.Entity{
		{ID: "e1", Kind: entity.Plant, Country: "AA", Capacity: 10, Location: entity.BusLocated{BusID: "b1"}},
		{ID: "e2", Kind: entity.Plant, Country: "AA", Location: entity.Unlocated{}},
		{ID: "e3", Kind: entity.Load, Country: "AA", Location: entity.RegionLocated{Code: "AA2"}},
	}
	results, malformed := r.ResolveAll(context.Background(), entities)
	assert.Equal(t, len(results), 3)
	assert.Equal(t, len(malformed), 1)
	assert.Equal(t, results[0].EntityID, "e1")
	assert.Equal(t, results[1].EntityID, "e2")
	assert.Equal(t, results[1].Method, MethodExcluded)
	assert.Equal(t, results[2].EntityID, "e3")
	assert.Equal(t, results[2].BusID, "b2")
}

func TestResolveAllDeterministic(t *testing.T) {
	entities := []entity.Entity{
		{ID: "e1", Kind: entity.Plant, Country: "AA", Capacity: 120, Location: entity.BusLocated{BusID: "b1a"}},
		{ID: "e2", Kind: entity.Plant, Country: "AA", Capacity: 30, Location: entity.RegionLocated{Code: "AA1"}},
		{ID: "e3", Kind: entity.Load, Country: "AA", Demand: 45, Location: entity.RegionLocated{Code: "AA"}},
		{ID: "e4", Kind: entity.Plant, Country: "AA", Capacity: 80, Location: entity.CoordinateLocated{Lat: 5.0, Lon: 7.05}},
	}

	g := testGeography(t)
	first, _ := New(g, DefaultConfig()).ResolveAll(context.Background(), entities)
	for i := 0; i < 5; i++ {
		again, _ := New(g, DefaultConfig()).ResolveAll(context.Background(), entities)
		assert.DeepEqual(t, again, first)
	}
}

func TestRegionMatchFollowsDirectBaseline(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	// b1 and b1a both sit in AA1. The direct match on b1a gives it the
	// larger baseline, so the region match concentrates there instead of
	// on the first-sorted bus.
	entities := []entity.Entity{
		{ID: "anchor", Kind: entity.Plant, Country: "AA", Capacity: 500, Location: entity.BusLocated{BusID: "b1a"}},
		{ID: "dist", Kind: entity.Plant, Country: "AA", Capacity: 5, Location: entity.RegionLocated{Code: "AA1"}},
	}
	results, malformed := r.ResolveAll(context.Background(), entities)
	assert.Equal(t, len(malformed), 0)
	assert.Equal(t, results[1].BusID, "b1a")
}

func TestRegionMatchWithoutBaselinePicksFirstSorted(t *testing.T) {
	r := New(testGeography(t), DefaultConfig())

	results, _ := r.ResolveAll(context.Background(), []entity.Entity{
		{ID: "dist", Kind: entity.Plant, Country: "AA", Capacity: 5, Location: entity.RegionLocated{Code: "AA1"}},
	})
	assert.Equal(t, results[0].BusID, "b1")
}
