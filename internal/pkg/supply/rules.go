package supply

// Regulation ranges per fuel type, as fractions of nominal capacity.
// Nuclear follows the EU minimum-load requirement band; coal, lignite and
// gas turbines are baseload with moderate flexibility; hydro is the most
// flexible; wind and solar are later pinned to current generation.
var minLoadFraction = map[string]float64{
	"nuclear":    0.50,
	"coal":       0.40,
	"lignite":    0.40,
	"CCGT":       0.40,
	"OCGT":       0.40,
	"biomass":    0.30,
	"waste":      0.30,
	"oil":        0.30,
	"hydro":      0.10,
	"PHS":        0.10,
	"ror":        0.10,
	"wind":       0.00,
	"solar":      0.00,
	"geothermal": 0.60,
}

// defaultMinLoad applies to fuel types without a documented band.
const defaultMinLoad = 0.20

// PowerLimits returns the regulation range for a plant. The third return is
// false when the nominal capacity yields no valid range; such plants are
// carried with zeroed limits instead of failing the aggregation.
func PowerLimits(fuelType string, pNomMW float64) (float64, float64, bool) {
	frac, ok := minLoadFraction[fuelType]
	if !ok {
		frac = defaultMinLoad
	}
	pMin := pNomMW * frac
	pMax := pNomMW
	if pMin < 0 || pMax <= pMin {
		return 0, 0, false
	}
	return pMin, pMax, true
}

// intermittent technologies carry availability time series merged by
// capacity-weighted average.
var intermittent = map[string]bool{
	"wind":    true,
	"onwind":  true,
	"offwind": true,
	"solar":   true,
	"ror":     true,
}

// Intermittent reports whether a technology class is availability-driven.
func Intermittent(technology string) bool {
	return intermittent[technology]
}
