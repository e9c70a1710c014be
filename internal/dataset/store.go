package dataset

import (
	"context"

	"github.com/cherita/server/internal/data/zarr"
)

// Store is the read-only view of an AnnData store that the dataset layer
// computes against. Column reads are lazy and cost O(selected chunks), not
// O(total data). A Store lives for a single request.
type Store interface {
	// NumObs returns the number of observations (X rows).
	NumObs() int
	// NumVars returns the number of variables (X columns).
	NumVars() int

	// VarIndex reads the feature identifier axis.
	VarIndex(ctx context.Context) ([]string, error)
	// ObsColumnNames lists obs columns in declared order.
	ObsColumnNames() ([]string, error)
	// VarColumnNames lists var columns in declared order.
	VarColumnNames() ([]string, error)
	// ObsColumn reads one obs column.
	ObsColumn(ctx context.Context, name string) (*zarr.RawColumn, error)
	// VarColumn reads one var column.
	VarColumn(ctx context.Context, name string) (*zarr.RawColumn, error)

	// XColumn reads one full X column.
	XColumn(ctx context.Context, col int) ([]float64, error)
	// XColumnRows reads one X column at the given row positions, in order.
	XColumnRows(ctx context.Context, col int, rows []int) ([]float64, error)

	// ObsColors reads the registered color table for an obs column, or nil.
	ObsColors(ctx context.Context, col string) ([]string, error)
	// Masks reads the pseudospatial masks.
	Masks(ctx context.Context) (map[string]zarr.Mask, error)
	// VarmRow reads precomputed per-category values for one variable.
	VarmRow(ctx context.Context, key, varID string, categories []string) (map[string]float64, error)
}
