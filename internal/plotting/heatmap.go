// Package plotting computes chart-ready numeric structures for the
// visualization client. Figure assembly happens in the front end; this layer
// only produces value matrices, category axes and tick positions.
package plotting

import (
	"context"
	"sort"

	"github.com/cherita/server/internal/dataset"
)

// HeatmapData is a marker-by-observation matrix with rows sorted by the
// grouping column, plus the tick positions marking group boundaries.
type HeatmapData struct {
	Markers    []string    `json:"markers"`
	Values     [][]float64 `json:"values"`
	Categories []string    `json:"categories,omitempty"`
	TickValues []int       `json:"tick_values,omitempty"`
	MinorTicks []int       `json:"minor_ticks,omitempty"`
}

// Heatmap assembles the expression matrix for the given markers with
// observations ordered by the grouping column, so each category forms a
// contiguous block.
func Heatmap(ctx context.Context, store dataset.Store, markers []dataset.MarkerRef, obsCol dataset.ObsColSpec) (*HeatmapData, error) {
	if len(markers) == 0 {
		return nil, dataset.BadRequest("no markers given")
	}

	cat, _, err := dataset.CategorizeObs(ctx, store, obsCol)
	if err != nil {
		return nil, err
	}

	// Stable sort of row positions by category code, missing rows last.
	order := make([]int, len(cat.Codes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := cat.Codes[order[a]], cat.Codes[order[b]]
		if ca < 0 {
			return false
		}
		if cb < 0 {
			return true
		}
		return ca < cb
	})

	data := &HeatmapData{Categories: cat.Categories}
	for _, ref := range markers {
		marker, err := dataset.ResolveMarker(ctx, store, ref, "", nil)
		if err != nil {
			return nil, err
		}
		values, err := marker.ValuesAt(ctx, order)
		if err != nil {
			return nil, err
		}
		data.Markers = append(data.Markers, marker.Name)
		data.Values = append(data.Values, values)
	}

	// Group boundary and midpoint ticks over the sorted axis.
	start := 0
	for start < len(order) {
		code := cat.Codes[order[start]]
		end := start
		for end < len(order) && cat.Codes[order[end]] == code {
			end++
		}
		if code >= 0 {
			data.TickValues = append(data.TickValues, start+(end-1-start)/2)
			data.MinorTicks = append(data.MinorTicks, start)
		}
		start = end
	}
	if n := len(order); n > 0 && len(data.MinorTicks) > 0 {
		data.MinorTicks = append(data.MinorTicks, n-1)
	}

	return data, nil
}
