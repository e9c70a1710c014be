package plotting

import (
	"context"

	"github.com/cherita/server/internal/dataset"
)

// MatrixplotData is the group-by-marker mean expression matrix.
type MatrixplotData struct {
	Markers    []string    `json:"markers"`
	Categories []string    `json:"categories"`
	Bins       *int        `json:"bins,omitempty"`
	Values     [][]float64 `json:"values"`
}

// Matrixplot computes mean expression per group for the given markers, with
// optional per-variable or per-group standardization.
func Matrixplot(ctx context.Context, store dataset.Store, markers []dataset.MarkerRef, obsCol dataset.ObsColSpec, scale ScaleMode) (*MatrixplotData, error) {
	if len(markers) == 0 {
		return nil, dataset.BadRequest("no markers given")
	}

	cat, bins, err := dataset.CategorizeObs(ctx, store, obsCol)
	if err != nil {
		return nil, err
	}
	groups := groupRows(cat)

	data := &MatrixplotData{
		Categories: categoryLabels(cat),
		Bins:       bins,
	}
	data.Values = makeMatrix(len(data.Categories), len(markers))

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
			mean, _ := groupSummary(values, rows, 0, false)
			data.Values[gi][mi] = mean
		}
		data.Markers = append(data.Markers, marker.Name)
	}

	data.Values = scaleMatrix(data.Values, scale)
	return data, nil
}
