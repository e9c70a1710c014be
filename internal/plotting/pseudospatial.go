package plotting

import (
	"context"
	"math"

	"github.com/cherita/server/internal/dataset"
	"github.com/cherita/server/pkg/colormap"
)

// PseudospatialOptions tune the polygon map rendering values.
type PseudospatialOptions struct {
	Colormap string
	MinValue *float64
	MaxValue *float64
}

// PolygonData is one mask region: its outline, the marker's mean expression
// over the region, and the color sampled from the colormap.
type PolygonData struct {
	Coords     [][2]float64 `json:"coords"`
	Value      float64      `json:"value"`
	Normalized float64      `json:"normalized"`
	Color      string       `json:"color"`
}

// PseudospatialData maps region names to their polygon payloads.
type PseudospatialData struct {
	Mask     string                 `json:"mask"`
	Polygons map[string]PolygonData `json:"polygons"`
	Range    ValueRange             `json:"range"`
}

// PseudospatialGene computes per-region mean expression of one marker over a
// named mask. When the mask registers a varm table of precomputed means it
// is used directly; otherwise the means are computed from X over the rows of
// each region category.
func PseudospatialGene(ctx context.Context, store dataset.Store, ref dataset.MarkerRef, maskName, namesCol string, opts PseudospatialOptions) (*PseudospatialData, error) {
	masks, err := store.Masks(ctx)
	if err != nil {
		return nil, dataset.NotFound("masks not found in dataset")
	}
	mask, ok := masks[maskName]
	if !ok {
		return nil, dataset.NotFound("mask %q not found in dataset", maskName)
	}
	if len(mask.Polygons) == 0 {
		return nil, dataset.NotFound("no polygons found in mask %q", maskName)
	}

	marker, err := dataset.ResolveMarker(ctx, store, ref, namesCol, nil)
	if err != nil {
		return nil, err
	}

	cat, _, err := dataset.CategorizeObs(ctx, store, dataset.ObsColSpec{Name: mask.ObsColumn, Type: "categorical"})
	if err != nil {
		return nil, err
	}

	var values map[string]float64
	if mask.Varm != "" {
		values, err = store.VarmRow(ctx, mask.Varm, marker.Indices[0], cat.Categories)
		if err != nil {
			return nil, dataset.ReadError("failed to read precomputed means: %v", err)
		}
	} else {
		values = make(map[string]float64, len(cat.Categories))
		groups := groupRows(cat)
		for gi, label := range cat.Categories {
			mean, err := markerMeanAt(ctx, marker, groups[gi])
			if err != nil {
				return nil, err
			}
			values[label] = mean
		}
	}

	min, max := valueBounds(values, opts)
	cm, ok := colormap.ByName(opts.Colormap)
	if !ok {
		cm = colormap.Viridis
	}

	data := &PseudospatialData{
		Mask:     maskName,
		Polygons: make(map[string]PolygonData, len(mask.Polygons)),
		Range:    ValueRange{Min: min, Max: max},
	}
	for name, coords := range mask.Polygons {
		v := values[name]
		norm := scaleValue(v, min, max)
		data.Polygons[name] = PolygonData{
			Coords:     coords,
			Value:      v,
			Normalized: norm,
			Color:      colormap.Hex(cm.At(norm)),
		}
	}
	return data, nil
}

func markerMeanAt(ctx context.Context, marker *dataset.Marker, rows []int) (float64, error) {
	if len(rows) == 0 {
		return 0, nil
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
	return sum / float64(n), nil
}

func valueBounds(values map[string]float64, opts PseudospatialOptions) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if len(values) == 0 {
		min, max = 0, 0
	}
	if opts.MinValue != nil {
		min = *opts.MinValue
	}
	if opts.MaxValue != nil {
		max = *opts.MaxValue
	}
	return min, max
}
