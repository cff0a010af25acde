package entity

import (
	"testing"

	"gotest.tools/assert"
)

func TestLocatePrefersBusReference(t *testing.T) {
	lat, lon := 48.1, 11.6
	loc := Locate(&lat, &lon, "DE21", "bus42")

	bus, ok := loc.(BusLocated)
	assert.Assert(t, ok)
	assert.Equal(t, bus.BusID, "bus42")
}

func TestLocateCoordinateCarriesRegion(t *testing.T) {
	lat, lon := 48.1, 11.6
	loc := Locate(&lat, &lon, "DE21", "")

	coord, ok := loc.(CoordinateLocated)
	assert.Assert(t, ok)
	assert.Equal(t, coord.Lat, 48.1)
	assert.Equal(t, coord.RegionCode, "DE21")
}

func TestLocateRegionOnly(t *testing.T) {
	loc := Locate(nil, nil, "DE21", "")
	reg, ok := loc.(RegionLocated)
	assert.Assert(t, ok)
	assert.Equal(t, reg.Code, "DE21")
}

func TestLocatePartialCoordinateIsUnlocated(t *testing.T) {
	lat := 48.1
	loc := Locate(&lat, nil, "", "")
	_, ok := loc.(Unlocated)
	assert.Assert(t, ok)
}

func TestMalformedEntityError(t *testing.T) {
	err := MalformedEntityError{ID: "x1", Reason: "no coordinates and no region code"}
	assert.ErrorContains(t, err, "x1")
}
