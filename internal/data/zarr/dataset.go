package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
)

// ErrNotFound reports that a requested node or column is absent from the
// store.
var ErrNotFound = errors.New("not found")

// Encoding tags how a dataframe column is stored.
type Encoding int

const (
	EncodingNumeric Encoding = iota
	EncodingCategorical
	EncodingBoolean
	EncodingString
)

// RawColumn is a decoded obs/var dataframe column. Exactly one value slice is
// populated according to Encoding; categorical columns carry Codes plus the
// Categories table.
type RawColumn struct {
	Encoding   Encoding
	Floats     []float64
	Codes      []int
	Categories []string
	Bools      []bool
	Strings    []string
}

// Len returns the number of rows in the column.
func (c *RawColumn) Len() int {
	switch c.Encoding {
	case EncodingNumeric:
		return len(c.Floats)
	case EncodingCategorical:
		return len(c.Codes)
	case EncodingBoolean:
		return len(c.Bools)
	case EncodingString:
		return len(c.Strings)
	}
	return 0
}

// Mask describes one pseudospatial mask stored under uns/masks: the obs
// column whose categories name the polygons, the polygon outlines keyed by
// category, and the optional varm key holding precomputed per-category means.
type Mask struct {
	ObsColumn string
	Polygons  map[string][][2]float64
	Varm      string
}

// Dataset is a read-only AnnData store in Zarr v3 format.
type Dataset struct {
	s *store
	x *Matrix
}

// Open opens an AnnData Zarr store rooted at path. The X matrix metadata is
// loaded eagerly so shape queries never touch disk again.
func Open(p string) (*Dataset, error) {
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", p, ErrNotFound)
	}
	s, err := newStore(p)
	if err != nil {
		return nil, err
	}
	if !s.isGroup("") {
		s.Close()
		return nil, fmt.Errorf("dataset %q: root is not a zarr group", p)
	}
	x, err := s.openMatrix("X")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("dataset %q: %w", p, err)
	}
	return &Dataset{s: s, x: x}, nil
}

// Close releases the store's decompressor.
func (d *Dataset) Close() {
	d.s.Close()
}

// NumObs returns the number of observations (X rows).
func (d *Dataset) NumObs() int {
	rows, _ := d.x.Shape()
	return rows
}

// NumVars returns the number of variables (X columns).
func (d *Dataset) NumVars() int {
	_, cols := d.x.Shape()
	return cols
}

// XColumn reads one full X column.
func (d *Dataset) XColumn(ctx context.Context, col int) ([]float64, error) {
	return d.x.Column(ctx, col)
}

// XColumnRows reads one X column restricted to the given row positions.
func (d *Dataset) XColumnRows(ctx context.Context, col int, rows []int) ([]float64, error) {
	return d.x.ColumnRows(ctx, col, rows)
}

// indexName returns the index column name of a dataframe group, taken from
// the _index attribute when present.
func (d *Dataset) indexName(group string) string {
	meta, err := d.s.groupMeta(group)
	if err != nil {
		return "_index"
	}
	if raw, ok := meta.Attributes["_index"]; ok {
		var name string
		if json.Unmarshal(raw, &name) == nil && name != "" {
			return name
		}
	}
	return "_index"
}

// columnOrder returns the declared column order of a dataframe group, or the
// sorted child arrays when the attribute is absent.
func (d *Dataset) columnOrder(group string) ([]string, error) {
	meta, err := d.s.groupMeta(group)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", group, err)
	}
	if raw, ok := meta.Attributes["column-order"]; ok {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("group %q column-order: %w", group, err)
		}
		return names, nil
	}
	children, err := d.s.listChildren(group)
	if err != nil {
		return nil, err
	}
	idx := d.indexName(group)
	var names []string
	for _, c := range children {
		if c == idx || (len(c) > 0 && c[0] == '_') {
			continue
		}
		names = append(names, c)
	}
	return names, nil
}

// ObsColumnNames lists the obs dataframe columns in declared order.
func (d *Dataset) ObsColumnNames() ([]string, error) {
	return d.columnOrder("obs")
}

// VarColumnNames lists the var dataframe columns in declared order.
func (d *Dataset) VarColumnNames() ([]string, error) {
	return d.columnOrder("var")
}

// VarIndex reads the var index column as strings.
func (d *Dataset) VarIndex(ctx context.Context) ([]string, error) {
	return d.readLabels(ctx, joinPath("var", d.indexName("var")))
}

// ObsIndex reads the obs index column as strings.
func (d *Dataset) ObsIndex(ctx context.Context) ([]string, error) {
	return d.readLabels(ctx, joinPath("obs", d.indexName("obs")))
}

// ObsColumn reads one obs dataframe column.
func (d *Dataset) ObsColumn(ctx context.Context, name string) (*RawColumn, error) {
	return d.readColumn(ctx, joinPath("obs", name))
}

// VarColumn reads one var dataframe column.
func (d *Dataset) VarColumn(ctx context.Context, name string) (*RawColumn, error) {
	return d.readColumn(ctx, joinPath("var", name))
}

// readColumn decodes a dataframe column node. Categorical columns are stored
// either as a group with codes/categories children or as a codes array whose
// categories attribute names a sibling array.
func (d *Dataset) readColumn(ctx context.Context, relPath string) (*RawColumn, error) {
	if !d.s.exists(relPath) {
		return nil, fmt.Errorf("column %q: %w", relPath, ErrNotFound)
	}

	if d.s.isGroup(relPath) {
		codesPath := joinPath(relPath, "codes")
		catsPath := joinPath(relPath, "categories")
		if !d.s.exists(codesPath) || !d.s.exists(catsPath) {
			return nil, fmt.Errorf("column %q: group is not categorical", relPath)
		}
		return d.readCategorical(ctx, codesPath, catsPath)
	}

	meta, err := d.s.arrayMeta(relPath)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", relPath, err)
	}

	if raw, ok := meta.Attributes["categories"]; ok {
		var catsName string
		if err := json.Unmarshal(raw, &catsName); err != nil {
			return nil, fmt.Errorf("column %q categories attr: %w", relPath, err)
		}
		catsPath := joinPath(path.Dir(relPath), catsName)
		return d.readCategorical(ctx, relPath, catsPath)
	}

	switch meta.DataType {
	case "string":
		vals, err := d.s.readStrings1D(ctx, relPath)
		if err != nil {
			return nil, err
		}
		return &RawColumn{Encoding: EncodingString, Strings: vals}, nil
	case "bool":
		vals, err := d.s.readBools1D(ctx, relPath)
		if err != nil {
			return nil, err
		}
		return &RawColumn{Encoding: EncodingBoolean, Bools: vals}, nil
	default:
		vals, err := d.s.readFloats1D(ctx, relPath)
		if err != nil {
			return nil, err
		}
		return &RawColumn{Encoding: EncodingNumeric, Floats: vals}, nil
	}
}

func (d *Dataset) readCategorical(ctx context.Context, codesPath, catsPath string) (*RawColumn, error) {
	codes, err := d.s.readInts1D(ctx, codesPath)
	if err != nil {
		return nil, err
	}
	cats, err := d.readLabels(ctx, catsPath)
	if err != nil {
		return nil, err
	}
	return &RawColumn{Encoding: EncodingCategorical, Codes: codes, Categories: cats}, nil
}

// readLabels reads a 1-D array as strings, stringifying numeric arrays.
func (d *Dataset) readLabels(ctx context.Context, relPath string) ([]string, error) {
	meta, err := d.s.arrayMeta(relPath)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", relPath, err)
	}
	if meta.DataType == "string" {
		return d.s.readStrings1D(ctx, relPath)
	}
	vals, err := d.s.readFloats1D(ctx, relPath)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out, nil
}

// ObsColors reads the uns color table registered for an obs column under the
// cxg convention ({col}_colors). Returns nil when no table is present.
func (d *Dataset) ObsColors(ctx context.Context, col string) ([]string, error) {
	relPath := joinPath("uns", col+"_colors")
	if !d.s.isArray(relPath) {
		return nil, nil
	}
	return d.s.readStrings1D(ctx, relPath)
}

// Masks reads the pseudospatial masks registered under uns/masks. Masks
// missing their polygons or obs binding are skipped.
func (d *Dataset) Masks(ctx context.Context) (map[string]Mask, error) {
	if !d.s.isGroup("uns/masks") {
		return nil, fmt.Errorf("uns/masks: %w", ErrNotFound)
	}
	names, err := d.s.listChildren("uns/masks")
	if err != nil {
		return nil, err
	}

	masks := make(map[string]Mask)
	for _, name := range names {
		base := joinPath("uns/masks", name)
		obsCol, err := d.readScalarString(ctx, joinPath(base, "obs"))
		if err != nil {
			continue
		}
		polyBase := joinPath(base, "polygons")
		if !d.s.isGroup(polyBase) {
			continue
		}
		polyNames, err := d.s.listChildren(polyBase)
		if err != nil || len(polyNames) == 0 {
			continue
		}
		polygons := make(map[string][][2]float64, len(polyNames))
		for _, p := range polyNames {
			coords, err := d.readPolygon(ctx, joinPath(polyBase, p))
			if err != nil {
				return nil, fmt.Errorf("mask %q polygon %q: %w", name, p, err)
			}
			polygons[p] = coords
		}
		mask := Mask{ObsColumn: obsCol, Polygons: polygons}
		if varm, err := d.readScalarString(ctx, joinPath(base, "varm")); err == nil {
			mask.Varm = varm
		}
		masks[name] = mask
	}

	if len(masks) == 0 {
		return nil, fmt.Errorf("uns/masks has no usable masks: %w", ErrNotFound)
	}
	return masks, nil
}

// readScalarString reads a string array holding a single value.
func (d *Dataset) readScalarString(ctx context.Context, relPath string) (string, error) {
	if !d.s.isArray(relPath) {
		return "", fmt.Errorf("array %q: %w", relPath, ErrNotFound)
	}
	vals, err := d.s.readStrings1D(ctx, relPath)
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("array %q is empty", relPath)
	}
	return vals[0], nil
}

// readPolygon reads a polygon outline as (x, y) pairs. The trailing
// dimension must be 2; leading dimensions are flattened.
func (d *Dataset) readPolygon(ctx context.Context, relPath string) ([][2]float64, error) {
	meta, err := d.s.arrayMeta(relPath)
	if err != nil {
		return nil, err
	}
	if len(meta.Shape) < 2 || meta.Shape[len(meta.Shape)-1] != 2 {
		return nil, fmt.Errorf("polygon %q: unexpected shape %v", relPath, meta.Shape)
	}
	flat, err := d.readFlat(ctx, relPath, meta)
	if err != nil {
		return nil, err
	}
	coords := make([][2]float64, len(flat)/2)
	for i := range coords {
		coords[i] = [2]float64{flat[2*i], flat[2*i+1]}
	}
	return coords, nil
}

// readFlat reads an entire n-D numeric array in C order. Polygon arrays are
// small and stored in a single chunk per dimension span, so the chunk walk
// stays cheap.
func (d *Dataset) readFlat(ctx context.Context, relPath string, meta *ArrayMeta) ([]float64, error) {
	nDims := len(meta.Shape)
	chunkCounts := make([]int, nDims)
	for i := range meta.Shape {
		chunkCounts[i] = ceilDiv(meta.Shape[i], meta.ChunkGrid.Configuration.ChunkShape[i])
	}

	out := make([]float64, product(meta.Shape))
	indices := make([]int, nDims)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		shape, err := chunkShapeAt(meta, indices)
		if err != nil {
			return nil, err
		}
		data, err := d.s.readChunkAt(relPath, meta, indices)
		if err != nil {
			return nil, fmt.Errorf("chunk %v of %q: %w", indices, relPath, err)
		}
		vals, err := decodeScalars(meta.DataType, data, product(shape))
		if err != nil {
			return nil, fmt.Errorf("chunk %v of %q: %w", indices, relPath, err)
		}
		copyChunkInto(out, vals, meta, indices, shape)

		// Advance the chunk grid odometer.
		d2 := nDims - 1
		for d2 >= 0 {
			indices[d2]++
			if indices[d2] < chunkCounts[d2] {
				break
			}
			indices[d2] = 0
			d2--
		}
		if d2 < 0 {
			break
		}
	}
	return out, nil
}

// copyChunkInto scatters a decoded chunk into the flat C-order output.
func copyChunkInto(out, vals []float64, meta *ArrayMeta, chunkIndices, chunkShape []int) {
	nDims := len(meta.Shape)
	strides := make([]int, nDims)
	s := 1
	for d := nDims - 1; d >= 0; d-- {
		strides[d] = s
		s *= meta.Shape[d]
	}

	pos := make([]int, nDims)
	for i := range vals {
		off := 0
		for d := 0; d < nDims; d++ {
			off += (chunkIndices[d]*meta.ChunkGrid.Configuration.ChunkShape[d] + pos[d]) * strides[d]
		}
		out[off] = vals[i]

		d := nDims - 1
		for d >= 0 {
			pos[d]++
			if pos[d] < chunkShape[d] {
				break
			}
			pos[d] = 0
			d--
		}
	}
}

// VarmRow reads the per-category values of one variable from a varm
// dataframe group: the group's index column locates the row, and each
// requested category names a numeric column.
func (d *Dataset) VarmRow(ctx context.Context, key, varID string, categories []string) (map[string]float64, error) {
	base := joinPath("varm", key)
	if !d.s.isGroup(base) {
		return nil, fmt.Errorf("varm %q: %w", key, ErrNotFound)
	}
	index, err := d.readLabels(ctx, joinPath(base, d.indexName(base)))
	if err != nil {
		return nil, err
	}
	row := -1
	for i, id := range index {
		if id == varID {
			row = i
			break
		}
	}
	if row < 0 {
		return nil, fmt.Errorf("varm %q has no row %q: %w", key, varID, ErrNotFound)
	}

	out := make(map[string]float64, len(categories))
	for _, cat := range categories {
		vals, err := d.s.readFloats1D(ctx, joinPath(base, cat))
		if err != nil {
			return nil, fmt.Errorf("varm %q column %q: %w", key, cat, err)
		}
		if row >= len(vals) {
			return nil, fmt.Errorf("varm %q column %q: row %d out of range", key, cat, row)
		}
		out[cat] = vals[row]
	}
	return out, nil
}
