package dataset

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/aclements/go-moremath/stats"
	"github.com/aclements/go-moremath/vec"

	"github.com/cherita/server/internal/data/zarr"
)

// ObsColSpec is the wire form of a grouping column selection: the column
// name, its semantic type and the binning to apply. Fillna defaults to true.
type ObsColSpec struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Bins   BinConfig `json:"bins"`
	Fillna *bool     `json:"fillna"`
}

// ColumnMetadata is the describe payload for one obs column.
type ColumnMetadata struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Stats  *Stats   `json:"stats,omitempty"`
	*CategoryInfo   `json:",omitempty"`
	Colors []string `json:"colors,omitempty"`
}

// CategorizeObs reads an obs column and converts it to a categorical
// grouping per the requested binning. An absent column is an
// InvalidObservation.
func CategorizeObs(ctx context.Context, store Store, spec ObsColSpec) (*CategoricalColumn, *int, error) {
	if spec.Name == "" {
		return nil, nil, BadRequest("missing obs column name")
	}
	raw, err := store.ObsColumn(ctx, spec.Name)
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, nil, InvalidObservation("invalid observation %q", spec.Name)
		}
		return nil, nil, ReadError("failed to read obs column %q: %v", spec.Name, err)
	}
	col, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}

	kind := col.Kind
	if spec.Type != "" {
		kind, err = ParseColumnKind(spec.Type)
		if err != nil {
			return nil, nil, err
		}
	}
	fillna := spec.Fillna == nil || *spec.Fillna
	return ToCategorical(col, kind, spec.Bins, fillna)
}

// ObsColMetadata describes obs columns: summary statistics for continuous
// columns, the full category table for everything else. cols defaults to the
// declared column order; unknown names are skipped.
func ObsColMetadata(ctx context.Context, store Store, cols []string) ([]ColumnMetadata, error) {
	if cols == nil {
		var err error
		cols, err = store.ObsColumnNames()
		if err != nil {
			return nil, ReadError("failed to list obs columns: %v", err)
		}
	}

	out := make([]ColumnMetadata, 0, len(cols))
	for _, name := range cols {
		raw, err := store.ObsColumn(ctx, name)
		if err != nil {
			if errors.Is(err, zarr.ErrNotFound) {
				continue
			}
			return nil, ReadError("failed to read obs column %q: %v", name, err)
		}
		col, err := Decode(raw)
		if err != nil {
			return nil, err
		}

		meta := ColumnMetadata{Name: name, Type: col.Kind.String()}
		if col.Kind == Continuous {
			stats := DescribeContinuous(col.Values)
			meta.Stats = &stats
		} else {
			cat, _, err := ToCategorical(col, col.Kind, BinConfig{}, true)
			if err != nil {
				return nil, err
			}
			info := DescribeCategorical(cat)
			meta.CategoryInfo = &info

			if col.Kind == Categorical {
				colors, err := obsColors(ctx, store, name, info.NValues)
				if err == nil && colors != nil {
					meta.Colors = colors
				}
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

var hexTriplet = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// obsColors returns the registered cxg color table for a column when every
// entry is a hex triplet and the count matches the category count.
func obsColors(ctx context.Context, store Store, col string, nValues int) ([]string, error) {
	colors, err := store.ObsColors(ctx, col)
	if err != nil || colors == nil {
		return nil, err
	}
	if len(colors) != nValues {
		return nil, nil
	}
	for _, c := range colors {
		if !hexTriplet.MatchString(c) {
			return nil, nil
		}
	}
	return colors, nil
}

// ObsBinData bins a continuous obs column and returns its category table.
// Out-of-threshold rows stay unresolved rather than materializing undefined.
func ObsBinData(ctx context.Context, store Store, name string, bins BinConfig) (*ColumnMetadata, error) {
	fillna := false
	cat, _, err := CategorizeObs(ctx, store, ObsColSpec{
		Name:   name,
		Type:   "continuous",
		Bins:   bins,
		Fillna: &fillna,
	})
	if err != nil {
		return nil, err
	}
	info := DescribeCategorical(cat)
	return &ColumnMetadata{Name: name, Type: "continuous", CategoryInfo: &info}, nil
}

// HistogramData is a 10-bin histogram with log-scaled counts for display.
type HistogramData struct {
	Hist     []int        `json:"hist"`
	BinEdges [][2]float64 `json:"bin_edges"`
	Log10    []float64    `json:"log10"`
}

const histogramBins = 10

// ComputeHistogram bins values into 10 equal-width bins over the given
// range, or the observed range when min >= max. NaNs are dropped.
func ComputeHistogram(values []float64, min, max float64) HistogramData {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}
	if min >= max {
		if len(finite) > 0 {
			min, max = finite[0], finite[0]
			for _, v := range finite[1:] {
				if v < min {
					min = v
				}
				if v > max {
					max = v
				}
			}
		}
		if min >= max {
			max = min + 1
		}
	}

	hist := make([]int, histogramBins)
	width := (max - min) / histogramBins
	for _, v := range finite {
		if v < min || v > max {
			continue
		}
		idx := int((v - min) / width)
		if idx >= histogramBins {
			idx = histogramBins - 1
		}
		hist[idx]++
	}

	edges := make([][2]float64, histogramBins)
	log10 := make([]float64, histogramBins)
	for i := range hist {
		edges[i] = [2]float64{min + float64(i)*width, min + float64(i+1)*width}
		log10[i] = math.Log10(float64(hist[i]) + 1)
	}
	return HistogramData{Hist: hist, BinEdges: edges, Log10: log10}
}

// VarHistogram computes the histogram of a marker's values, optionally
// restricted to a row selection.
func VarHistogram(ctx context.Context, store Store, ref MarkerRef, rows []int) (*HistogramData, error) {
	marker, err := ResolveMarker(ctx, store, ref, "", nil)
	if err != nil {
		return nil, err
	}
	values, err := marker.ValuesAt(ctx, rows)
	if err != nil {
		return nil, err
	}
	h := ComputeHistogram(values, 0, 0)
	return &h, nil
}

// ObsHistograms computes per-category histograms of a marker's values over a
// grouping column, all sharing one value range so the bars are comparable.
// The row selection applies identically to the marker data and the grouping
// column.
func ObsHistograms(ctx context.Context, store Store, ref MarkerRef, obsCol ObsColSpec, rows []int) (map[string]HistogramData, error) {
	cat, _, err := CategorizeObs(ctx, store, obsCol)
	if err != nil {
		return nil, err
	}
	codes := cat.Codes
	if rows != nil {
		codes = make([]int, len(rows))
		for i, r := range rows {
			if r < 0 || r >= len(cat.Codes) {
				return nil, BadRequest("row index %d out of range", r)
			}
			codes[i] = cat.Codes[r]
		}
	}

	marker, err := ResolveMarker(ctx, store, ref, "", nil)
	if err != nil {
		return nil, err
	}
	values, err := marker.ValuesAt(ctx, rows)
	if err != nil {
		return nil, err
	}

	min, max := 0.0, 1.0
	if len(values) > 0 {
		min, max = values[0], values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
	}
	if min == max {
		max++
	}

	out := make(map[string]HistogramData, len(cat.Categories))
	for code, label := range cat.Categories {
		if label == cat.Undefined && cat.Undefined != "" {
			code = UndefinedCode
		}
		var sub []float64
		for i, c := range codes {
			if c == code && i < len(values) {
				sub = append(sub, values[i])
			}
		}
		out[label] = ComputeHistogram(sub, min, max)
	}
	return out, nil
}

// ValueRecord is one row of a values listing, keeping both the stable
// identifier position and the filtered position.
type ValueRecord struct {
	MatrixIndex int    `json:"matrix_index"`
	Index       int    `json:"index"`
	Name        string `json:"name"`
}

// ObsValues lists the unique values of an obs column, stringified and
// sorted, optionally restricted to a subset.
func ObsValues(ctx context.Context, store Store, name string, values []string) ([]ValueRecord, error) {
	raw, err := store.ObsColumn(ctx, name)
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, InvalidObservation("invalid observation %q", name)
		}
		return nil, ReadError("failed to read obs column %q: %v", name, err)
	}

	seen := make(map[string]struct{})
	var unique []string
	for _, s := range columnStrings(raw) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			unique = append(unique, s)
		}
	}
	sort.Strings(unique)

	var keep map[string]struct{}
	if values != nil {
		keep = make(map[string]struct{}, len(values))
		for _, v := range values {
			keep[v] = struct{}{}
		}
	}

	out := make([]ValueRecord, 0, len(unique))
	for pos, v := range unique {
		if keep != nil {
			if _, ok := keep[v]; !ok {
				continue
			}
		}
		out = append(out, ValueRecord{MatrixIndex: len(out), Index: pos, Name: v})
	}
	return out, nil
}

// VarNameRecord is one feature-axis row: the X column position, the stable
// feature identifier and the display name.
type VarNameRecord struct {
	MatrixIndex int    `json:"matrix_index"`
	Index       string `json:"index"`
	Name        string `json:"name"`
}

// VarNames lists the feature axis sorted by display name. col selects the
// var column supplying display names, defaulting to the identifier axis;
// names optionally restricts the output.
func VarNames(ctx context.Context, store Store, col string, names []string) ([]VarNameRecord, error) {
	index, err := store.VarIndex(ctx)
	if err != nil {
		return nil, ReadError("failed to read feature index: %v", err)
	}
	display := index
	if col != "" {
		raw, err := store.VarColumn(ctx, col)
		if err != nil {
			if errors.Is(err, zarr.ErrNotFound) {
				return nil, InvalidFeature("invalid var column %q", col)
			}
			return nil, ReadError("failed to read var column %q: %v", col, err)
		}
		display = columnStrings(raw)
	}

	records := make([]VarNameRecord, len(index))
	for i, id := range index {
		name := id
		if i < len(display) {
			name = display[i]
		}
		records[i] = VarNameRecord{MatrixIndex: i, Index: id, Name: name}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Name < records[j].Name })

	if names != nil {
		keep := make(map[string]struct{}, len(names))
		for _, n := range names {
			keep[n] = struct{}{}
		}
		filtered := records[:0]
		for _, r := range records {
			if _, ok := keep[r.Name]; ok {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	return records, nil
}

// SearchVarNames lists feature-axis rows whose display name starts with the
// given text, case-insensitively.
func SearchVarNames(ctx context.Context, store Store, col, text string) ([]VarNameRecord, error) {
	records, err := VarNames(ctx, store, col, nil)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToLower(text)
	out := records[:0]
	for _, r := range records {
		if strings.HasPrefix(strings.ToLower(r.Name), prefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

// DistributionConfig bounds the obs distribution computation.
type DistributionConfig struct {
	MaxSamples int
	NSamples   int
	KDEPoints  int
}

// DefaultDistributionConfig mirrors the deployed limits.
func DefaultDistributionConfig() DistributionConfig {
	return DistributionConfig{MaxSamples: 25000, NSamples: 25000, KDEPoints: 250}
}

// Distribution is the kernel-density profile of a continuous obs column,
// over the raw values and over log(x^2 + eps) for heavy-tailed data.
type Distribution struct {
	KDEValues    [2][]float64 `json:"kde_values"`
	LogKDEValues [2][]float64 `json:"log_kde_values"`
	Resampled    bool         `json:"resampled"`
}

// ObsDistribution estimates the value density of a continuous obs column,
// resampling first when the column exceeds the configured size.
func ObsDistribution(ctx context.Context, store Store, name string, cfg DistributionConfig) (*Distribution, error) {
	raw, err := store.ObsColumn(ctx, name)
	if err != nil {
		if errors.Is(err, zarr.ErrNotFound) {
			return nil, InvalidObservation("invalid observation %q", name)
		}
		return nil, ReadError("failed to read obs column %q: %v", name, err)
	}
	col, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if col.Kind != Continuous {
		return nil, BadRequest("obs column %q is not continuous", name)
	}

	values := col.Values
	resampled := false
	if len(values) >= cfg.MaxSamples {
		values = Resample(values, cfg.NSamples)
		resampled = true
	}

	eps := math.Nextafter(1, 2) - 1
	logValues := make([]float64, len(values))
	for i, v := range values {
		logValues[i] = math.Log(v*v + eps)
	}

	xs, ys := kdeProfile(values, cfg.KDEPoints)
	logXs, logYs := kdeProfile(logValues, cfg.KDEPoints)
	return &Distribution{
		KDEValues:    [2][]float64{xs, ys},
		LogKDEValues: [2][]float64{logXs, logYs},
		Resampled:    resampled,
	}, nil
}

// kdeProfile evaluates a Gaussian KDE over a linspace spanning the data.
func kdeProfile(values []float64, points int) ([]float64, []float64) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return []float64{}, []float64{}
	}

	min, max := finite[0], finite[0]
	for _, v := range finite[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	sample := stats.Sample{Xs: finite}
	kde := stats.KDE{
		Sample:    sample,
		Bandwidth: stats.BandwidthScott(sample),
	}

	xs := vec.Linspace(min, max, points)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = kde.PDF(x)
	}
	return xs, ys
}

// MaskCategories lists the pseudospatial masks and the region categories of
// their bound obs columns.
func MaskCategories(ctx context.Context, store Store) (map[string][]string, error) {
	masks, err := store.Masks(ctx)
	if err != nil {
		return nil, NotFound("masks not found in dataset")
	}

	out := make(map[string][]string, len(masks))
	for name, mask := range masks {
		raw, err := store.ObsColumn(ctx, mask.ObsColumn)
		if err != nil {
			continue
		}
		col, err := Decode(raw)
		if err != nil || col.Kind != Categorical {
			continue
		}
		out[name] = col.Categories
	}
	if len(out) == 0 {
		return nil, NotFound("no masks found in dataset")
	}
	return out, nil
}

// XMean computes the mean of a marker's values over an optional row
// selection, NaN-aware.
func XMean(ctx context.Context, store Store, ref MarkerRef, rows []int) (float64, error) {
	marker, err := ResolveMarker(ctx, store, ref, "", nil)
	if err != nil {
		return 0, err
	}
	values, err := marker.ValuesAt(ctx, rows)
	if err != nil {
		return 0, err
	}
	sum, n := 0.0, 0
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return roundSig(sum/float64(n), 4), nil
}
