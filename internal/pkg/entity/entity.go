// Package entity models the heterogeneous source records (plants, loads)
// before resolution. Mixed presence of location keys is expressed as a
// tagged variant instead of ad hoc field checks.
package entity

import "fmt"

// Kind discriminates plants from demand points.
type Kind int

const (
	Plant Kind = iota
	Load
)

// Location is the tagged variant over the possible location keys of a
// source record. Resolution dispatches over the concrete type.
type Location interface {
	isLocation()
}

// CoordinateLocated carries a point coordinate, optionally with a declared
// region code used when no bus lies within matching distance.
type CoordinateLocated struct {
	Lat, Lon   float64
	RegionCode string
}

// RegionLocated carries only an administrative region code.
type RegionLocated struct {
	Code string
}

// BusLocated carries an explicit bus reference from the source dataset.
type BusLocated struct {
	BusID string
}

// Unlocated is a record with no usable location key.
type Unlocated struct{}

func (CoordinateLocated) isLocation() {}
func (RegionLocated) isLocation()     {}
func (BusLocated) isLocation()        {}
func (Unlocated) isLocation()         {}

// Entity is one source record. Capacity and Technology apply to plants;
// Demand and Series to loads. Series, when present, is a time series of the
// same quantity.
type Entity struct {
	ID         string
	Kind       Kind
	Country    string
	Location   Location
	Capacity   float64
	Technology string
	Demand     float64
	Series     []float64
}

// MalformedEntityError marks a record lacking any usable location key. Such
// records are excluded from supply and demand with a warning; the run
// continues.
type MalformedEntityError struct {
	ID     string
	Reason string
}

func (e MalformedEntityError) Error() string {
	return fmt.Sprintf("entity %q: %s", e.ID, e.Reason)
}

// Locate builds the location variant from the optional raw keys of a
// source record.
func Locate(lat, lon *float64, regionCode, busID string) Location {
	switch {
	case busID != "":
		return BusLocated{BusID: busID}
	case lat != nil && lon != nil:
		return CoordinateLocated{Lat: *lat, Lon: *lon, RegionCode: regionCode}
	case regionCode != "":
		return RegionLocated{Code: regionCode}
	default:
		return Unlocated{}
	}
}
