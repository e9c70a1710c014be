package dataset

import (
	"math"
	"sort"
	"strconv"

	"github.com/cherita/server/internal/data/zarr"
)

// ColumnKind is the semantic kind of an obs/var column.
type ColumnKind int

const (
	Continuous ColumnKind = iota
	Discrete
	Boolean
	Categorical
)

func (k ColumnKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	case Boolean:
		return "boolean"
	case Categorical:
		return "categorical"
	}
	return "unknown"
}

// ParseColumnKind maps the wire name of a semantic kind.
func ParseColumnKind(s string) (ColumnKind, error) {
	switch s {
	case "continuous":
		return Continuous, nil
	case "discrete":
		return Discrete, nil
	case "boolean", "bool":
		return Boolean, nil
	case "categorical", "category":
		return Categorical, nil
	}
	return 0, BadRequest("unknown column type %q", s)
}

// TypedColumn is the in-memory form of a decoded column. Exactly one value
// slice is populated according to Kind.
type TypedColumn struct {
	Kind       ColumnKind
	Values     []float64 // Continuous
	Labels     []string  // Discrete
	Bools      []bool    // Boolean
	Codes      []int     // Categorical; -1 marks missing
	Categories []string  // Categorical
}

// Len returns the number of rows.
func (c *TypedColumn) Len() int {
	switch c.Kind {
	case Continuous:
		return len(c.Values)
	case Discrete:
		return len(c.Labels)
	case Boolean:
		return len(c.Bools)
	case Categorical:
		return len(c.Codes)
	}
	return 0
}

// Decode converts a raw store column into its typed form. A categorical
// column whose categories are exactly {"True", "False"} decodes to a native
// boolean column; datasets written before native boolean support encode
// booleans that way and must round-trip.
func Decode(raw *zarr.RawColumn) (*TypedColumn, error) {
	switch raw.Encoding {
	case zarr.EncodingNumeric:
		return &TypedColumn{Kind: Continuous, Values: raw.Floats}, nil
	case zarr.EncodingString:
		return &TypedColumn{Kind: Discrete, Labels: raw.Strings}, nil
	case zarr.EncodingBoolean:
		return &TypedColumn{Kind: Boolean, Bools: raw.Bools}, nil
	case zarr.EncodingCategorical:
		if isBoolCategories(raw.Categories) {
			bools := make([]bool, len(raw.Codes))
			for i, code := range raw.Codes {
				bools[i] = code >= 0 && code < len(raw.Categories) && raw.Categories[code] == "True"
			}
			return &TypedColumn{Kind: Boolean, Bools: bools}, nil
		}
		return &TypedColumn{Kind: Categorical, Codes: raw.Codes, Categories: raw.Categories}, nil
	}
	return nil, ReadError("unrecognized column encoding %d", int(raw.Encoding))
}

func isBoolCategories(cats []string) bool {
	if len(cats) != 2 {
		return false
	}
	return (cats[0] == "True" && cats[1] == "False") ||
		(cats[0] == "False" && cats[1] == "True")
}

// Stats are the continuous summary statistics, rounded to 4 significant
// digits. An all-missing column yields zeros so range sliders always get a
// concrete default.
type Stats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

// DescribeContinuous computes NaN-aware summary statistics.
func DescribeContinuous(values []float64) Stats {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Stats{}
	}

	sorted := append([]float64(nil), finite...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	return Stats{
		Min:    roundSig(sorted[0], 4),
		Max:    roundSig(sorted[len(sorted)-1], 4),
		Mean:   roundSig(sum/float64(len(sorted)), 4),
		Median: roundSig(median, 4),
	}
}

func roundSig(v float64, digits int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(digits-1)-math.Floor(math.Log10(math.Abs(v))))
	return math.Round(v*scale) / scale
}

// CategoryInfo is the describe output for categorical, discrete and boolean
// columns: the full ordered category list (no cardinality cap, callers
// truncate client-side if they must), the label-to-code map, per-category
// counts and the missing flag.
type CategoryInfo struct {
	Values      []string       `json:"values"`
	NValues     int            `json:"n_values"`
	Codes       map[string]int `json:"codes"`
	ValueCounts map[string]int `json:"value_counts"`
	HasNA       bool           `json:"has_na"`
}

// DescribeCategorical summarizes a categorical grouping. Missing values are
// already folded into the synthetic undefined category by the categorizer.
func DescribeCategorical(col *CategoricalColumn) CategoryInfo {
	codes := make(map[string]int, len(col.Categories))
	for i, cat := range col.Categories {
		if cat == col.Undefined && col.Undefined != "" {
			codes[cat] = UndefinedCode
		} else {
			codes[cat] = i
		}
	}
	return CategoryInfo{
		Values:      col.Categories,
		NValues:     len(col.Categories),
		Codes:       codes,
		ValueCounts: col.Counts,
		HasNA:       col.HasMissing(),
	}
}

// formatLabel renders a numeric value as a category label.
func formatLabel(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
