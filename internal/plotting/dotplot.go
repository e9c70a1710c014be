package plotting

import (
	"context"
	"math"

	"github.com/cherita/server/internal/dataset"
)

// ScaleMode selects the optional standardization of group means.
type ScaleMode string

const (
	ScaleNone  ScaleMode = ""
	ScaleVar   ScaleMode = "var"
	ScaleGroup ScaleMode = "group"
)

// ParseScaleMode validates a wire scale value.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch ScaleMode(s) {
	case ScaleNone, ScaleVar, ScaleGroup:
		return ScaleMode(s), nil
	}
	return "", dataset.BadRequest("invalid standardScale %q", s)
}

// ValueRange is the span of the color values before scaling.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DotplotData holds, per group and marker, the mean expression and the
// fraction of observations expressing above the cutoff.
type DotplotData struct {
	Markers    []string    `json:"markers"`
	Categories []string    `json:"categories"`
	Bins       *int        `json:"bins,omitempty"`
	Means      [][]float64 `json:"means"`
	Fractions  [][]float64 `json:"fractions"`
	Colors     [][]float64 `json:"colors"`
	Range      ValueRange  `json:"range"`
}

// DotplotOptions mirror scanpy's dotplot parameters.
type DotplotOptions struct {
	ExpressionCutoff  float64
	MeanOnlyExpressed bool
	StandardScale     ScaleMode
}

// Dotplot computes per-group expression summaries for the given markers:
// the fraction of observations above the expression cutoff sizes each dot,
// the (optionally scaled) group mean colors it.
func Dotplot(ctx context.Context, store dataset.Store, markers []dataset.MarkerRef, obsCol dataset.ObsColSpec, opts DotplotOptions) (*DotplotData, error) {
	if len(markers) == 0 {
		return nil, dataset.BadRequest("no markers given")
	}

	cat, bins, err := dataset.CategorizeObs(ctx, store, obsCol)
	if err != nil {
		return nil, err
	}
	groups := groupRows(cat)

	data := &DotplotData{
		Categories: categoryLabels(cat),
		Bins:       bins,
	}

	nGroups := len(data.Categories)
	data.Means = makeMatrix(nGroups, len(markers))
	data.Fractions = makeMatrix(nGroups, len(markers))

	for mi, ref := range markers {
		marker, err := dataset.ResolveMarker(ctx, store, ref, "", nil)
		if err != nil {
			return nil, err
		}
		values, err := marker.ValuesAt(ctx, nil)
		if err != nil {
			return nil, err
		}
		for gi, rows := range groups {
			mean, frac := groupSummary(values, rows, opts.ExpressionCutoff, opts.MeanOnlyExpressed)
			data.Means[gi][mi] = mean
			data.Fractions[gi][mi] = frac
		}
		data.Markers = append(data.Markers, marker.Name)
	}

	data.Range = matrixRange(data.Means)
	data.Colors = scaleMatrix(data.Means, opts.StandardScale)
	return data, nil
}

// groupSummary computes the mean and expressing fraction of one marker in
// one group.
func groupSummary(values []float64, rows []int, cutoff float64, meanOnlyExpressed bool) (float64, float64) {
	var sum float64
	var n, expressed int
	for _, r := range rows {
		if r >= len(values) || math.IsNaN(values[r]) {
			continue
		}
		v := values[r]
		n++
		if v > cutoff {
			expressed++
		}
		if !meanOnlyExpressed || v > cutoff {
			sum += v
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean := 0.0
	if meanOnlyExpressed {
		if expressed > 0 {
			mean = sum / float64(expressed)
		}
	} else {
		mean = sum / float64(n)
	}
	return mean, float64(expressed) / float64(n)
}

// groupRows collects the row positions of each category, the undefined
// category last when materialized.
func groupRows(cat *dataset.CategoricalColumn) [][]int {
	n := len(cat.Categories)
	groups := make([][]int, n)
	undefinedIdx := -1
	if cat.Undefined != "" {
		undefinedIdx = n - 1
	}
	for row, code := range cat.Codes {
		switch {
		case code >= 0 && code < n:
			groups[code] = append(groups[code], row)
		case code < 0 && undefinedIdx >= 0:
			groups[undefinedIdx] = append(groups[undefinedIdx], row)
		}
	}
	return groups
}

func categoryLabels(cat *dataset.CategoricalColumn) []string {
	return append([]string(nil), cat.Categories...)
}

func makeMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

func matrixRange(m [][]float64) ValueRange {
	r := ValueRange{}
	first := true
	for _, row := range m {
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if first {
				r.Min, r.Max = v, v
				first = false
				continue
			}
			if v < r.Min {
				r.Min = v
			}
			if v > r.Max {
				r.Max = v
			}
		}
	}
	return r
}

// scaleMatrix standardizes group means to [0, 1] per variable (column) or
// per group (row). Degenerate spans scale to zero, matching fillna(0).
func scaleMatrix(m [][]float64, mode ScaleMode) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	if len(out) == 0 {
		return out
	}

	switch mode {
	case ScaleGroup:
		for i, row := range out {
			min, max := rowRange(row)
			for j, v := range row {
				out[i][j] = scaleValue(v, min, max)
			}
		}
	case ScaleVar:
		for j := 0; j < len(out[0]); j++ {
			col := make([]float64, len(out))
			for i := range out {
				col[i] = out[i][j]
			}
			min, max := rowRange(col)
			for i := range out {
				out[i][j] = scaleValue(out[i][j], min, max)
			}
		}
	}
	return out
}

func rowRange(row []float64) (float64, float64) {
	if len(row) == 0 {
		return 0, 0
	}
	min, max := row[0], row[0]
	for _, v := range row[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

func scaleValue(v, min, max float64) float64 {
	span := max - min
	if span == 0 || math.IsNaN(span) {
		return 0
	}
	return (v - min) / span
}
