package supply

import (
	"math"
	"testing"

	"gotest.tools/assert"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/resolve"
)

func approx(t *testing.T, got, want float64) {
	t.Helper()
	assert.Assert(t, math.Abs(got-want) < 1e-9, "got %v, want %v", got, want)
}

func plant(id, tech, busID string, capacityMW float64) Resolved {
	return Resolved{
		Entity: entity.Entity{ID: id, Kind: entity.Plant, Technology: tech, Capacity: capacityMW},
		Resolution: resolve.Resolution{
			EntityID: id, BusID: busID, Method: resolve.MethodExact, Country: "AA",
		},
	}
}

func TestPowerLimitsNuclear(t *testing.T) {
	pMin, pMax, ok := PowerLimits("nuclear", 1000)
	assert.Assert(t, ok)
	approx(t, pMin, 500)
	approx(t, pMax, 1000)
}

func TestPowerLimitsIntermittentZeroFloor(t *testing.T) {
	for _, tech := range []string{"wind", "solar"} {
		pMin, pMax, ok := PowerLimits(tech, 200)
		assert.Assert(t, ok)
		approx(t, pMin, 0)
		approx(t, pMax, 200)
	}
}

func TestPowerLimitsUnknownFuelDefault(t *testing.T) {
	pMin, pMax, ok := PowerLimits("fusion", 100)
	assert.Assert(t, ok)
	approx(t, pMin, 20)
	approx(t, pMax, 100)
}

func TestPowerLimitsInvalidCapacity(t *testing.T) {
	_, _, ok := PowerLimits("coal", 0)
	assert.Assert(t, !ok)

	_, _, ok = PowerLimits("coal", -5)
	assert.Assert(t, !ok)
}

func TestAggregateGroupsByBusAndTechnology(t *testing.T) {
	supply, err := Aggregate([]Resolved{
		plant("p1", "coal", "b1", 100),
		plant("p2", "coal", "b1", 50),
		plant("p3", "wind", "b1", 80),
		plant("p4", "coal", "b2", 200),
	})
	assert.NilError(t, err)

	coal := supply["b1"]["coal"]
	approx(t, coal.CapacityMW, 150)
	approx(t, coal.PMinMW, 60)
	approx(t, coal.PMaxMW, 150)
	assert.Equal(t, coal.Plants, 2)
	assert.Assert(t, coal.Dispatchable)

	approx(t, supply["b1"]["wind"].CapacityMW, 80)
	approx(t, supply["b2"]["coal"].CapacityMW, 200)
}

func TestAggregateSkipsExcluded(t *testing.T) {
	bad := plant("p1", "coal", "", 100)
	bad.Resolution.Method = resolve.MethodExcluded

	supply, err := Aggregate([]Resolved{bad, plant("p2", "coal", "b1", 40)})
	assert.NilError(t, err)
	approx(t, TotalCapacity(supply), 40)
}

func TestAggregateUnassignedPreservesNationalCapacity(t *testing.T) {
	// An unassigned plant lands on the sink bus; its capacity must still
	// appear in the national total.
	sunk := plant("p1", "coal", "sink", 300)
	sunk.Resolution.Method = resolve.MethodUnassigned

	supply, err := Aggregate([]Resolved{sunk, plant("p2", "coal", "b1", 100)})
	assert.NilError(t, err)
	approx(t, TotalCapacity(supply), 400)
	approx(t, supply["sink"]["coal"].CapacityMW, 300)
}

func TestAggregateAvailabilityCapacityWeighted(t *testing.T) {
	p1 := plant("w1", "wind", "b1", 100)
	p1.Entity.Series = []float64{1.0, 0.5}
	p2 := plant("w2", "wind", "b1", 300)
	p2.Entity.Series = []float64{0.2, 0.9}

	supply, err := Aggregate([]Resolved{p1, p2})
	assert.NilError(t, err)

	avail := supply["b1"]["wind"].Availability
	approx(t, avail[0], (1.0*100+0.2*300)/400)
	approx(t, avail[1], (0.5*100+0.9*300)/400)
}

func TestAggregateAvailabilityLengthMismatch(t *testing.T) {
	p1 := plant("w1", "wind", "b1", 100)
	p1.Entity.Series = []float64{1.0, 0.5}
	p2 := plant("w2", "wind", "b1", 300)
	p2.Entity.Series = []float64{0.2}

	_, err := Aggregate([]Resolved{p1, p2})
	assert.Assert(t, err != nil)
}

func TestAggregateInvalidLimitsNotDispatchable(t *testing.T) {
	supply, err := Aggregate([]Resolved{plant("p1", "coal", "b1", 0)})
	assert.NilError(t, err)

	coal := supply["b1"]["coal"]
	approx(t, coal.PMaxMW, 0)
	assert.Assert(t, !coal.Dispatchable)
}

func TestRescaleProportional(t *testing.T) {
	out := Rescale([]Resolved{
		plant("p1", "hydro", "b1", 100),
		plant("p2", "hydro", "b2", 300),
	}, "hydro", "AA", 200)

	approx(t, out["p1"], 50)
	approx(t, out["p2"], 150)
}

func TestRescaleConservesTargetWithinNominalBounds(t *testing.T) {
	out := Rescale([]Resolved{
		plant("p1", "hydro", "b1", 100),
		plant("p2", "hydro", "b2", 900),
	}, "hydro", "AA", 800)

	var total float64
	for _, v := range out {
		total += v
	}
	approx(t, total, 800)
	assert.Assert(t, out["p1"] <= 100+1e-9)
	assert.Assert(t, out["p2"] <= 900+1e-9)
}

func TestRescaleTargetCappedAtNominalTotal(t *testing.T) {
	out := Rescale([]Resolved{
		plant("p1", "hydro", "b1", 100),
		plant("p2", "hydro", "b2", 50),
	}, "hydro", "AA", 500)

	approx(t, out["p1"], 100)
	approx(t, out["p2"], 50)
}

func TestRescaleFiltersTechnologyAndCountry(t *testing.T) {
	other := plant("p3", "hydro", "b3", 100)
	other.Resolution.Country = "BB"

	out := Rescale([]Resolved{
		plant("p1", "hydro", "b1", 100),
		plant("p2", "coal", "b2", 100),
		other,
	}, "hydro", "AA", 60)

	assert.Equal(t, len(out), 1)
	approx(t, out["p1"], 60)
}
