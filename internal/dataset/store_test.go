package dataset

import (
	"context"
	"fmt"

	"github.com/cherita/server/internal/data/zarr"
)

// memStore is an in-memory Store for tests. X is column-major: x[col][row].
type memStore struct {
	varIndex []string
	obsCols  map[string]*zarr.RawColumn
	varCols  map[string]*zarr.RawColumn
	x        [][]float64
	colors   map[string][]string
	masks    map[string]zarr.Mask
	varm     map[string]map[string]map[string]float64

	xReads int
}

func (m *memStore) NumObs() int {
	if len(m.x) > 0 {
		return len(m.x[0])
	}
	return 0
}

func (m *memStore) NumVars() int { return len(m.varIndex) }

func (m *memStore) VarIndex(ctx context.Context) ([]string, error) {
	return m.varIndex, nil
}

func (m *memStore) ObsColumnNames() ([]string, error) {
	names := make([]string, 0, len(m.obsCols))
	for name := range m.obsCols {
		names = append(names, name)
	}
	return names, nil
}

func (m *memStore) VarColumnNames() ([]string, error) {
	names := make([]string, 0, len(m.varCols))
	for name := range m.varCols {
		names = append(names, name)
	}
	return names, nil
}

func (m *memStore) ObsColumn(ctx context.Context, name string) (*zarr.RawColumn, error) {
	col, ok := m.obsCols[name]
	if !ok {
		return nil, fmt.Errorf("obs column %q: %w", name, zarr.ErrNotFound)
	}
	return col, nil
}

func (m *memStore) VarColumn(ctx context.Context, name string) (*zarr.RawColumn, error) {
	col, ok := m.varCols[name]
	if !ok {
		return nil, fmt.Errorf("var column %q: %w", name, zarr.ErrNotFound)
	}
	return col, nil
}

func (m *memStore) XColumn(ctx context.Context, col int) ([]float64, error) {
	m.xReads++
	if col < 0 || col >= len(m.x) {
		return nil, fmt.Errorf("column %d out of range", col)
	}
	return append([]float64(nil), m.x[col]...), nil
}

func (m *memStore) XColumnRows(ctx context.Context, col int, rows []int) ([]float64, error) {
	m.xReads++
	if col < 0 || col >= len(m.x) {
		return nil, fmt.Errorf("column %d out of range", col)
	}
	out := make([]float64, len(rows))
	for i, r := range rows {
		if r < 0 || r >= len(m.x[col]) {
			return nil, fmt.Errorf("row %d out of range", r)
		}
		out[i] = m.x[col][r]
	}
	return out, nil
}

func (m *memStore) ObsColors(ctx context.Context, col string) ([]string, error) {
	return m.colors[col], nil
}

func (m *memStore) Masks(ctx context.Context) (map[string]zarr.Mask, error) {
	if len(m.masks) == 0 {
		return nil, zarr.ErrNotFound
	}
	return m.masks, nil
}

func (m *memStore) VarmRow(ctx context.Context, key, varID string, categories []string) (map[string]float64, error) {
	table, ok := m.varm[key]
	if !ok {
		return nil, fmt.Errorf("varm %q: %w", key, zarr.ErrNotFound)
	}
	row, ok := table[varID]
	if !ok {
		return nil, fmt.Errorf("varm %q row %q: %w", key, varID, zarr.ErrNotFound)
	}
	return row, nil
}
