// Package postgres loads the source datasets (topology, regions, entities,
// proxies) from PostgreSQL. Region geometries arrive as GeoJSON columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/miracaEU/EnergyModelling/internal/pkg/entity"
	"github.com/miracaEU/EnergyModelling/internal/pkg/pipeline"
	"github.com/miracaEU/EnergyModelling/internal/pkg/region"
	"github.com/miracaEU/EnergyModelling/internal/pkg/topology"
)

type config struct {
	URI string `json:"URI"`
}

// Repository reads the integration inputs from a PostgreSQL database.
type Repository struct {
	db *sqlx.DB
}

// New connects using the JSON configuration at configPath.
func New(configPath string) (*Repository, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := config{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("postgres", cfg.URI)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

type busRow struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	Country   string  `db:"country"`
	Lat       float64 `db:"lat"`
	Lon       float64 `db:"lon"`
	VoltageKV float64 `db:"vn_kv"`
	InService bool    `db:"in_service"`
}

// Buses loads the base network buses.
func (r *Repository) Buses(ctx context.Context) ([]topology.Bus, error) {
	var rows []busRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, name, country, lat, lon, vn_kv, in_service FROM buses`)
	if err != nil {
		return nil, fmt.Errorf("postgres: buses: %w", err)
	}
	out := make([]topology.Bus, 0, len(rows))
	for _, b := range rows {
		out = append(out, topology.Bus{
			ID:        b.ID,
			Name:      b.Name,
			Country:   b.Country,
			Lat:       b.Lat,
			Lon:       b.Lon,
			VoltageKV: b.VoltageKV,
			InService: b.InService,
		})
	}
	return out, nil
}

type lineRow struct {
	ID         string  `db:"id"`
	FromBus    string  `db:"from_bus"`
	ToBus      string  `db:"to_bus"`
	CapacityMW float64 `db:"max_mw"`
	LengthKM   float64 `db:"length_km"`
	InService  bool    `db:"in_service"`
}

// Lines loads the transmission lines.
func (r *Repository) Lines(ctx context.Context) ([]topology.Line, error) {
	var rows []lineRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, from_bus, to_bus, max_mw, length_km, in_service FROM lines`)
	if err != nil {
		return nil, fmt.Errorf("postgres: lines: %w", err)
	}
	out := make([]topology.Line, 0, len(rows))
	for _, l := range rows {
		out = append(out, topology.Line(l))
	}
	return out, nil
}

type regionRow struct {
	Code       string          `db:"code"`
	Level      int             `db:"level"`
	Parent     sql.NullString  `db:"parent"`
	Country    string          `db:"country"`
	Geometry   []byte          `db:"geometry"`
	GDP        sql.NullFloat64 `db:"gdp"`
	Population sql.NullFloat64 `db:"pop"`
}

// Regions loads the boundary dataset. Geometries are GeoJSON Polygon or
// MultiPolygon documents.
func (r *Repository) Regions(ctx context.Context) ([]region.Region, error) {
	var rows []regionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT code, level, parent, country, geometry, gdp, pop FROM regions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: regions: %w", err)
	}
	out := make([]region.Region, 0, len(rows))
	for _, row := range rows {
		geom, err := decodeGeometry(row.Geometry)
		if err != nil {
			return nil, fmt.Errorf("postgres: region %s: %w", row.Code, err)
		}
		out = append(out, region.Region{
			Code:       row.Code,
			Level:      row.Level,
			Parent:     row.Parent.String,
			Country:    row.Country,
			Geometry:   geom,
			GDP:        row.GDP.Float64,
			Population: row.Population.Float64,
		})
	}
	return out, nil
}

func decodeGeometry(raw []byte) (orb.MultiPolygon, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	switch geom := g.Geometry().(type) {
	case orb.MultiPolygon:
		return geom, nil
	case orb.Polygon:
		return orb.MultiPolygon{geom}, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", geom)
	}
}

type entityRow struct {
	ID         string          `db:"id"`
	Country    string          `db:"country"`
	Lat        sql.NullFloat64 `db:"lat"`
	Lon        sql.NullFloat64 `db:"lon"`
	RegionCode sql.NullString  `db:"region_code"`
	BusID      sql.NullString  `db:"bus_id"`
	CapacityMW sql.NullFloat64 `db:"capacity_mw"`
	Technology sql.NullString  `db:"technology"`
	DemandMW   sql.NullFloat64 `db:"demand_mw"`
}

// Plants loads the production units.
func (r *Repository) Plants(ctx context.Context) ([]entity.Entity, error) {
	var rows []entityRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, country, lat, lon, region_code, bus_id, capacity_mw, technology, NULL AS demand_mw FROM plants`)
	if err != nil {
		return nil, fmt.Errorf("postgres: plants: %w", err)
	}
	return toEntities(rows, entity.Plant), nil
}

// Loads loads the point demand centers.
func (r *Repository) Loads(ctx context.Context) ([]entity.Entity, error) {
	var rows []entityRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, country, lat, lon, region_code, bus_id, NULL AS capacity_mw, NULL AS technology, demand_mw FROM loads`)
	if err != nil {
		return nil, fmt.Errorf("postgres: loads: %w", err)
	}
	return toEntities(rows, entity.Load), nil
}

func toEntities(rows []entityRow, kind entity.Kind) []entity.Entity {
	out := make([]entity.Entity, 0, len(rows))
	for _, row := range rows {
		var lat, lon *float64
		if row.Lat.Valid && row.Lon.Valid {
			lat, lon = &row.Lat.Float64, &row.Lon.Float64
		}
		out = append(out, entity.Entity{
			ID:         row.ID,
			Kind:       kind,
			Country:    row.Country,
			Location:   entity.Locate(lat, lon, row.RegionCode.String, row.BusID.String),
			Capacity:   row.CapacityMW.Float64,
			Technology: row.Technology.String,
			Demand:     row.DemandMW.Float64,
		})
	}
	return out
}

type aggregateRow struct {
	RegionCode string  `db:"region_code"`
	Step       int     `db:"step"`
	ValueMW    float64 `db:"value_mw"`
}

// DemandAggregates loads the regional aggregate demand series, ordered by
// time step.
func (r *Repository) DemandAggregates(ctx context.Context) (map[string][]float64, error) {
	var rows []aggregateRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT region_code, step, value_mw FROM demand_aggregates ORDER BY region_code, step`)
	if err != nil {
		return nil, fmt.Errorf("postgres: demand aggregates: %w", err)
	}
	out := make(map[string][]float64)
	for _, row := range rows {
		out[row.RegionCode] = append(out[row.RegionCode], row.ValueMW)
	}
	return out, nil
}

// Load reads all inputs in dependency order.
func (r *Repository) Load(ctx context.Context) (pipeline.Inputs, error) {
	in := pipeline.Inputs{}
	var err error
	if in.Buses, err = r.Buses(ctx); err != nil {
		return in, err
	}
	if in.Lines, err = r.Lines(ctx); err != nil {
		return in, err
	}
	if in.Regions, err = r.Regions(ctx); err != nil {
		return in, err
	}
	if in.Plants, err = r.Plants(ctx); err != nil {
		return in, err
	}
	if in.Loads, err = r.Loads(ctx); err != nil {
		return in, err
	}
	if in.DemandAggregates, err = r.DemandAggregates(ctx); err != nil {
		return in, err
	}
	return in, nil
}
