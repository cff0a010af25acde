// Package region loads administrative boundary geometries (NUTS and
// non-NUTS) and answers point-in-region and region-in-region queries over
// the membership hierarchy.
package region

import (
	"fmt"
	"log"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Region is one administrative area. Level 0 is the country root; higher
// levels are finer subdivisions (NUTS1..NUTS3 map to levels 1..3, non-NUTS
// ADM1 codes repeat at every sub-country level).
type Region struct {
	Code       string
	Level      int
	Parent     string
	Country    string
	Geometry   orb.MultiPolygon
	GDP        float64
	Population float64

	centroid orb.Point
}

// Centroid returns the area-weighted centroid of the region geometry.
func (r *Region) Centroid() orb.Point {
	return r.centroid
}

// GeometryError records a malformed region geometry. Affected regions are
// excluded from the index with a warning, never failing the whole load.
type GeometryError struct {
	Code   string
	Reason string
}

func (e GeometryError) Error() string {
	return fmt.Sprintf("region %q: malformed geometry: %s", e.Code, e.Reason)
}

// Index is the immutable lookup structure over the region hierarchy. Build
// it once, then share it read-only between resolver workers.
type Index struct {
	byCode   map[string]*Region
	byLevel  map[int][]*Region
	children map[string][]string
	levels   []int
	excluded []GeometryError
}

// NewIndex validates geometries and the parent hierarchy and builds the
// flat per-level lookup. Regions with malformed geometry are excluded and
// recorded; a broken hierarchy (missing parent) is structural and fails
// the load.
func NewIndex(regions []Region) (*Index, error) {
	idx := &Index{
		byCode:   make(map[string]*Region),
		byLevel:  make(map[int][]*Region),
		children: make(map[string][]string),
	}

	for i := range regions {
		r := regions[i]
		if r.Code == "" {
			return nil, fmt.Errorf("region: entry %d has no code", i)
		}
		if err := checkGeometry(&r); err != nil {
			log.Println("[RegionIndex] excluding:", err)
			idx.excluded = append(idx.excluded, err.(GeometryError))
			continue
		}
		if _, ok := idx.byCode[r.Code]; ok {
			// Duplicate codes keep the first entry, matching the
			// source-data de-duplication rule.
			continue
		}
		c, _ := planar.CentroidArea(r.Geometry)
		r.centroid = c
		if r.Country == "" {
			r.Country = countryOf(r.Code)
		}
		idx.byCode[r.Code] = &r
		idx.byLevel[r.Level] = append(idx.byLevel[r.Level], &r)
	}

	for _, r := range idx.byCode {
		if r.Level == 0 {
			continue
		}
		if r.Parent == "" {
			r.Parent = deriveParent(r.Code, r.Country)
		}
		p, ok := idx.byCode[r.Parent]
		if !ok {
			return nil, fmt.Errorf("region: %q declares missing parent %q", r.Code, r.Parent)
		}
		if p.Level >= r.Level {
			return nil, fmt.Errorf("region: parent %q of %q is not at a coarser level", r.Parent, r.Code)
		}
		idx.children[r.Parent] = append(idx.children[r.Parent], r.Code)
	}
	for _, codes := range idx.children {
		sort.Strings(codes)
	}

	for lvl := range idx.byLevel {
		idx.levels = append(idx.levels, lvl)
		sort.Slice(idx.byLevel[lvl], func(i, j int) bool {
			return idx.byLevel[lvl][i].Code < idx.byLevel[lvl][j].Code
		})
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx.levels)))

	if len(idx.byCode) == 0 {
		return nil, fmt.Errorf("region: no usable regions after geometry validation")
	}
	return idx, nil
}

func checkGeometry(r *Region) error {
	if len(r.Geometry) == 0 {
		return GeometryError{r.Code, "empty polygon set"}
	}
	for _, poly := range r.Geometry {
		for _, ring := range poly {
			if len(ring) < 4 {
				return GeometryError{r.Code, "ring with fewer than four points"}
			}
		}
	}
	if planar.Area(r.Geometry) <= 0 {
		return GeometryError{r.Code, "zero or negative area"}
	}
	return nil
}

// deriveParent falls back to NUTS prefix truncation, or the country code
// for non-NUTS subdivisions.
func deriveParent(code, country string) string {
	if len(code) > 2 && code[:2] == country && len(code) > len(country) {
		return code[:len(code)-1]
	}
	return country
}

func countryOf(code string) string {
	if len(code) >= 2 {
		return code[:2]
	}
	return code
}

// Region returns the region with the given code.
func (idx *Index) Region(code string) (*Region, bool) {
	r, ok := idx.byCode[code]
	return r, ok
}

// ParentOf returns the parent region, or false at the root.
func (idx *Index) ParentOf(code string) (*Region, bool) {
	r, ok := idx.byCode[code]
	if !ok || r.Level == 0 {
		return nil, false
	}
	return idx.byCode[r.Parent], true
}

// MembersOf returns the child regions of a region, sorted by code.
func (idx *Index) MembersOf(code string) []*Region {
	out := make([]*Region, 0, len(idx.children[code]))
	for _, c := range idx.children[code] {
		out = append(out, idx.byCode[c])
	}
	return out
}

// Levels returns the hierarchy levels present, finest first.
func (idx *Index) Levels() []int {
	return idx.levels
}

// Finest returns the finest hierarchy level.
func (idx *Index) Finest() int {
	return idx.levels[0]
}

// AtLevel returns all regions at one level, sorted by code.
func (idx *Index) AtLevel(level int) []*Region {
	return idx.byLevel[level]
}

// Excluded returns the geometry warnings recorded during the load.
func (idx *Index) Excluded() []GeometryError {
	return idx.excluded
}

// RegionsContaining returns the enclosing regions of a point ordered finest
// to coarsest. When the point falls in no polygon at the finest level
// (coastal and boundary gaps), the lookup retries coarser levels; a point
// outside every polygon yields nil, and callers that need total coverage
// combine this with NearestAtLevel.
func (idx *Index) RegionsContaining(pt orb.Point) []*Region {
	for _, lvl := range idx.levels {
		for _, r := range idx.byLevel[lvl] {
			if planar.MultiPolygonContains(r.Geometry, pt) {
				return idx.chainFrom(r)
			}
		}
	}
	return nil
}

// chainFrom walks parent references up to the root.
func (idx *Index) chainFrom(r *Region) []*Region {
	chain := []*Region{r}
	for r.Level > 0 {
		p, ok := idx.byCode[r.Parent]
		if !ok {
			break
		}
		chain = append(chain, p)
		r = p
	}
	return chain
}

// NearestAtLevel returns the region at the given level whose centroid is
// closest to the point, if within maxDistanceKM. Ties are broken by code so
// repeated lookups are reproducible.
func (idx *Index) NearestAtLevel(pt orb.Point, level int, maxDistanceKM float64) (*Region, bool) {
	var best *Region
	bestKM := maxDistanceKM
	for _, r := range idx.byLevel[level] {
		d := geo.Distance(pt, r.centroid) / 1000.0
		if d < bestKM || (best != nil && d == bestKM && r.Code < best.Code) {
			best = r
			bestKM = d
		}
	}
	return best, best != nil
}

// ChainFor resolves the full finest-to-coarsest chain for a region code.
func (idx *Index) ChainFor(code string) ([]*Region, bool) {
	r, ok := idx.byCode[code]
	if !ok {
		return nil, false
	}
	return idx.chainFrom(r), true
}
