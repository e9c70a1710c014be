package plotting

import (
	"context"
	"errors"
	"fmt"

	"github.com/cherita/server/internal/data/zarr"
	"github.com/cherita/server/internal/dataset"
)

// ViolinLimits bounds per-series point counts; series at or above MaxSamples
// are resampled down to NSamples weighted draws.
type ViolinLimits struct {
	MaxSamples int
	NSamples   int
}

// DefaultViolinLimits mirrors the deployed limits.
func DefaultViolinLimits() ViolinLimits {
	return ViolinLimits{MaxSamples: 100000, NSamples: 100000}
}

// ViolinSeries is one violin: a name and its raw or resampled values.
type ViolinSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// ViolinData is a set of violins plus the axis titles. XTitle carries the
// "(N bins)" annotation when the grouping column was binned.
type ViolinData struct {
	Series    []ViolinSeries `json:"series"`
	XTitle    string         `json:"x_title,omitempty"`
	YTitle    string         `json:"y_title,omitempty"`
	Resampled bool           `json:"resampled"`
}

// GroupedViolin splits one marker's values by a grouping column, one violin
// per category.
func GroupedViolin(ctx context.Context, store dataset.Store, ref dataset.MarkerRef, obsCol dataset.ObsColSpec, namesCol string, limits ViolinLimits) (*ViolinData, error) {
	marker, err := dataset.ResolveMarker(ctx, store, ref, namesCol, nil)
	if err != nil {
		return nil, err
	}
	values, err := marker.ValuesAt(ctx, nil)
	if err != nil {
		return nil, err
	}

	cat, bins, err := dataset.CategorizeObs(ctx, store, obsCol)
	if err != nil {
		return nil, err
	}
	groups := groupRows(cat)

	data := &ViolinData{
		XTitle: obsCol.Name,
		YTitle: marker.Name,
	}
	if bins != nil {
		data.XTitle = fmt.Sprintf("%s (%d bins)", obsCol.Name, *bins)
	}

	for gi, label := range categoryLabels(cat) {
		series := ViolinSeries{Name: label, Values: []float64{}}
		for _, row := range groups[gi] {
			if row < len(values) {
				series.Values = append(series.Values, values[row])
			}
		}
		if len(series.Values) >= limits.MaxSamples {
			series.Values = dataset.ResampleCapped(series.Values, limits.NSamples)
			data.Resampled = true
		}
		data.Series = append(data.Series, series)
	}
	return data, nil
}

// MultiViolin renders one violin per key, where a key names either a feature
// or a numeric obs column.
func MultiViolin(ctx context.Context, store dataset.Store, keys []string, namesCol string, limits ViolinLimits) (*ViolinData, error) {
	if len(keys) == 0 {
		return nil, dataset.BadRequest("no keys given")
	}

	varIndex, err := store.VarIndex(ctx)
	if err != nil {
		return nil, dataset.ReadError("failed to read feature index: %v", err)
	}
	isVar := make(map[string]bool, len(varIndex))
	for _, id := range varIndex {
		isVar[id] = true
	}

	data := &ViolinData{YTitle: "Value"}
	for _, key := range keys {
		var (
			name   string
			values []float64
		)
		if isVar[key] {
			n := key
			marker, err := dataset.ResolveMarker(ctx, store, dataset.MarkerRef{Name: &n}, namesCol, nil)
			if err != nil {
				return nil, err
			}
			values, err = marker.ValuesAt(ctx, nil)
			if err != nil {
				return nil, err
			}
			name = marker.Name
		} else {
			raw, err := store.ObsColumn(ctx, key)
			if err != nil {
				if errors.Is(err, zarr.ErrNotFound) {
					return nil, dataset.InvalidFeature("invalid key %q", key)
				}
				return nil, dataset.ReadError("failed to read obs column %q: %v", key, err)
			}
			col, err := dataset.Decode(raw)
			if err != nil {
				return nil, err
			}
			if col.Kind != dataset.Continuous {
				return nil, dataset.BadRequest("obs column %q is not numerical", key)
			}
			values = col.Values
			name = key
		}

		if len(values) >= limits.MaxSamples {
			values = dataset.ResampleCapped(values, limits.NSamples)
			data.Resampled = true
		}
		data.Series = append(data.Series, ViolinSeries{Name: name, Values: values})
	}
	return data, nil
}
