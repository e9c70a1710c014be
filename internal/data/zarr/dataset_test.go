package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func writeNodeMeta(t *testing.T, root, rel string, meta map[string]interface{}) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zarr.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write zarr.json: %v", err)
	}
}

func writeGroup(t *testing.T, root, rel string, attrs map[string]interface{}) {
	t.Helper()
	writeNodeMeta(t, root, rel, map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "group",
		"attributes":  attrs,
	})
}

func writeArrayMeta(t *testing.T, root, rel string, shape, chunks []int, dtype string, fill interface{}, attrs map[string]interface{}, compressed bool) {
	t.Helper()
	codecs := []map[string]interface{}{
		{"name": "bytes", "configuration": map[string]interface{}{"endian": "little"}},
	}
	if compressed {
		codecs = append(codecs, map[string]interface{}{"name": "zstd", "configuration": map[string]interface{}{"level": 3}})
	}
	writeNodeMeta(t, root, rel, map[string]interface{}{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       shape,
		"data_type":   dtype,
		"chunk_grid": map[string]interface{}{
			"name":          "regular",
			"configuration": map[string]interface{}{"chunk_shape": chunks},
		},
		"chunk_key_encoding": map[string]interface{}{
			"name":          "default",
			"configuration": map[string]interface{}{"separator": "/"},
		},
		"fill_value": fill,
		"codecs":     codecs,
		"attributes": attrs,
	})
}

func writeChunk(t *testing.T, root, rel, key string, data []byte, compressed bool) {
	t.Helper()
	if compressed {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("failed to create zstd encoder: %v", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}
	p := filepath.Join(root, filepath.FromSlash(rel), "c", filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("failed to create chunk dir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("failed to write chunk: %v", err)
	}
}

func encodeFloats(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func encodeInt8(vals ...int8) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}
	return out
}

func encodeBools(vals ...bool) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		if v {
			out[i] = 1
		}
	}
	return out
}

func encodeStringBlock(vals ...string) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(vals)))
	for _, v := range vals {
		l := make([]byte, 4)
		binary.LittleEndian.PutUint32(l, uint32(len(v)))
		out = append(out, l...)
		out = append(out, v...)
	}
	return out
}

func writeStringArray(t *testing.T, root, rel string, vals ...string) {
	t.Helper()
	writeArrayMeta(t, root, rel, []int{len(vals)}, []int{len(vals)}, "string", nil, nil, false)
	writeChunk(t, root, rel, "0", encodeStringBlock(vals...), false)
}

// testDataset builds a small AnnData store on disk: a 4x3 zstd-compressed X
// matrix split across four chunks, obs columns of each encoding, a var axis
// with display names, colors, one mask and a precomputed varm table.
func testDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeGroup(t, root, "", nil)

	// X[i][j] = i*3 + j, chunked 2x2 so both chunk dimensions split.
	writeArrayMeta(t, root, "X", []int{4, 3}, []int{2, 2}, "float64", 0.0, nil, true)
	writeChunk(t, root, "X", "0/0", encodeFloats(0, 1, 3, 4), true)
	writeChunk(t, root, "X", "0/1", encodeFloats(2, 5), true)
	writeChunk(t, root, "X", "1/0", encodeFloats(6, 7, 9, 10), true)
	writeChunk(t, root, "X", "1/1", encodeFloats(8, 11), true)

	writeGroup(t, root, "obs", map[string]interface{}{
		"_index":       "obs_names",
		"column-order": []string{"cell_type", "score", "flag", "batch"},
	})
	writeStringArray(t, root, "obs/obs_names", "c0", "c1", "c2", "c3")

	writeGroup(t, root, "obs/cell_type", nil)
	writeArrayMeta(t, root, "obs/cell_type/codes", []int{4}, []int{4}, "int8", -1, nil, false)
	writeChunk(t, root, "obs/cell_type/codes", "0", encodeInt8(0, 1, 0, -1), false)
	writeStringArray(t, root, "obs/cell_type/categories", "B", "T")

	// Second chunk intentionally absent; it materializes as the NaN fill.
	writeArrayMeta(t, root, "obs/score", []int{4}, []int{2}, "float64", "NaN", nil, false)
	writeChunk(t, root, "obs/score", "0", encodeFloats(0.5, 1.5), false)

	writeArrayMeta(t, root, "obs/flag", []int{4}, []int{4}, "bool", false, nil, false)
	writeChunk(t, root, "obs/flag", "0", encodeBools(true, false, true, false), false)

	writeStringArray(t, root, "obs/batch", "b1", "b2", "b1", "b2")

	writeGroup(t, root, "var", map[string]interface{}{"_index": "var_names"})
	writeStringArray(t, root, "var/var_names", "g1", "g2", "g3")
	writeStringArray(t, root, "var/gene_name", "ACTB", "GAPDH", "CD4")

	writeGroup(t, root, "uns", nil)
	writeStringArray(t, root, "uns/cell_type_colors", "#ff0000", "#00ff00")

	writeGroup(t, root, "uns/masks", nil)
	writeGroup(t, root, "uns/masks/tissue", nil)
	writeStringArray(t, root, "uns/masks/tissue/obs", "cell_type")
	writeStringArray(t, root, "uns/masks/tissue/varm", "region_means")
	writeGroup(t, root, "uns/masks/tissue/polygons", nil)
	writeArrayMeta(t, root, "uns/masks/tissue/polygons/B", []int{3, 2}, []int{3, 2}, "float64", 0.0, nil, false)
	writeChunk(t, root, "uns/masks/tissue/polygons/B", "0/0", encodeFloats(0, 0, 1, 0, 0, 1), false)

	writeGroup(t, root, "varm", nil)
	writeGroup(t, root, "varm/region_means", nil)
	writeStringArray(t, root, "varm/region_means/_index", "g1", "g2", "g3")
	writeArrayMeta(t, root, "varm/region_means/B", []int{3}, []int{3}, "float64", 0.0, nil, false)
	writeChunk(t, root, "varm/region_means/B", "0", encodeFloats(1, 2, 3), false)
	writeArrayMeta(t, root, "varm/region_means/T", []int{3}, []int{3}, "float64", 0.0, nil, false)
	writeChunk(t, root, "varm/region_means/T", "0", encodeFloats(4, 5, 6), false)

	return root
}

func openTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := Open(testDataset(t))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(ds.Close)
	return ds
}

func TestOpenDataset(t *testing.T) {
	ds := openTestDataset(t)
	if ds.NumObs() != 4 || ds.NumVars() != 3 {
		t.Fatalf("unexpected shape: %d x %d", ds.NumObs(), ds.NumVars())
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.zarr"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestXColumn(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	col, err := ds.XColumn(ctx, 1)
	if err != nil {
		t.Fatalf("XColumn error: %v", err)
	}
	if !reflect.DeepEqual(col, []float64{1, 4, 7, 10}) {
		t.Fatalf("unexpected column: %v", col)
	}

	// The last column lives in the second column-chunk.
	col, err = ds.XColumn(ctx, 2)
	if err != nil {
		t.Fatalf("XColumn error: %v", err)
	}
	if !reflect.DeepEqual(col, []float64{2, 5, 8, 11}) {
		t.Fatalf("unexpected column: %v", col)
	}

	if _, err := ds.XColumn(ctx, 5); err == nil {
		t.Fatal("expected error for out-of-range column")
	}
}

func TestXColumnRows(t *testing.T) {
	ds := openTestDataset(t)

	// Row order is preserved across chunk boundaries.
	vals, err := ds.XColumnRows(context.Background(), 2, []int{3, 0})
	if err != nil {
		t.Fatalf("XColumnRows error: %v", err)
	}
	if !reflect.DeepEqual(vals, []float64{11, 2}) {
		t.Fatalf("unexpected values: %v", vals)
	}

	vals, err = ds.XColumnRows(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("XColumnRows error: %v", err)
	}
	if len(vals) != 0 {
		t.Fatalf("expected empty result for empty selection, got %v", vals)
	}
}

func TestObsColumnEncodings(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	t.Run("categorical", func(t *testing.T) {
		col, err := ds.ObsColumn(ctx, "cell_type")
		if err != nil {
			t.Fatalf("ObsColumn error: %v", err)
		}
		if col.Encoding != EncodingCategorical {
			t.Fatalf("unexpected encoding: %d", col.Encoding)
		}
		if !reflect.DeepEqual(col.Codes, []int{0, 1, 0, -1}) {
			t.Fatalf("unexpected codes: %v", col.Codes)
		}
		if !reflect.DeepEqual(col.Categories, []string{"B", "T"}) {
			t.Fatalf("unexpected categories: %v", col.Categories)
		}
	})

	t.Run("numericWithFill", func(t *testing.T) {
		col, err := ds.ObsColumn(ctx, "score")
		if err != nil {
			t.Fatalf("ObsColumn error: %v", err)
		}
		if col.Encoding != EncodingNumeric {
			t.Fatalf("unexpected encoding: %d", col.Encoding)
		}
		if col.Floats[0] != 0.5 || col.Floats[1] != 1.5 {
			t.Fatalf("unexpected values: %v", col.Floats)
		}
		// Rows in the absent chunk carry the declared NaN fill.
		if !math.IsNaN(col.Floats[2]) || !math.IsNaN(col.Floats[3]) {
			t.Fatalf("expected NaN fill for absent chunk, got %v", col.Floats)
		}
	})

	t.Run("boolean", func(t *testing.T) {
		col, err := ds.ObsColumn(ctx, "flag")
		if err != nil {
			t.Fatalf("ObsColumn error: %v", err)
		}
		if col.Encoding != EncodingBoolean {
			t.Fatalf("unexpected encoding: %d", col.Encoding)
		}
		if !reflect.DeepEqual(col.Bools, []bool{true, false, true, false}) {
			t.Fatalf("unexpected values: %v", col.Bools)
		}
	})

	t.Run("string", func(t *testing.T) {
		col, err := ds.ObsColumn(ctx, "batch")
		if err != nil {
			t.Fatalf("ObsColumn error: %v", err)
		}
		if col.Encoding != EncodingString {
			t.Fatalf("unexpected encoding: %d", col.Encoding)
		}
		if !reflect.DeepEqual(col.Strings, []string{"b1", "b2", "b1", "b2"}) {
			t.Fatalf("unexpected values: %v", col.Strings)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ds.ObsColumn(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestColumnOrder(t *testing.T) {
	ds := openTestDataset(t)

	names, err := ds.ObsColumnNames()
	if err != nil {
		t.Fatalf("ObsColumnNames error: %v", err)
	}
	want := []string{"cell_type", "score", "flag", "batch"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected declared order %v, got %v", want, names)
	}

	// The var group has no column-order attribute, so children are listed
	// minus the index.
	names, err = ds.VarColumnNames()
	if err != nil {
		t.Fatalf("VarColumnNames error: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"gene_name"}) {
		t.Fatalf("unexpected var columns: %v", names)
	}
}

func TestVarIndex(t *testing.T) {
	ds := openTestDataset(t)
	index, err := ds.VarIndex(context.Background())
	if err != nil {
		t.Fatalf("VarIndex error: %v", err)
	}
	if !reflect.DeepEqual(index, []string{"g1", "g2", "g3"}) {
		t.Fatalf("unexpected index: %v", index)
	}
}

func TestObsColors(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	colors, err := ds.ObsColors(ctx, "cell_type")
	if err != nil {
		t.Fatalf("ObsColors error: %v", err)
	}
	if !reflect.DeepEqual(colors, []string{"#ff0000", "#00ff00"}) {
		t.Fatalf("unexpected colors: %v", colors)
	}

	colors, err = ds.ObsColors(ctx, "batch")
	if err != nil || colors != nil {
		t.Fatalf("expected nil for unregistered column, got %v / %v", colors, err)
	}
}

func TestMasks(t *testing.T) {
	ds := openTestDataset(t)
	masks, err := ds.Masks(context.Background())
	if err != nil {
		t.Fatalf("Masks error: %v", err)
	}

	mask, ok := masks["tissue"]
	if !ok {
		t.Fatalf("expected tissue mask, got %v", masks)
	}
	if mask.ObsColumn != "cell_type" {
		t.Fatalf("unexpected obs binding: %q", mask.ObsColumn)
	}
	if mask.Varm != "region_means" {
		t.Fatalf("unexpected varm binding: %q", mask.Varm)
	}
	want := [][2]float64{{0, 0}, {1, 0}, {0, 1}}
	if !reflect.DeepEqual(mask.Polygons["B"], want) {
		t.Fatalf("unexpected polygon: %v", mask.Polygons["B"])
	}
}

func TestVarmRow(t *testing.T) {
	ds := openTestDataset(t)
	row, err := ds.VarmRow(context.Background(), "region_means", "g2", []string{"B", "T"})
	if err != nil {
		t.Fatalf("VarmRow error: %v", err)
	}
	if row["B"] != 2 || row["T"] != 5 {
		t.Fatalf("unexpected row: %v", row)
	}

	if _, err := ds.VarmRow(context.Background(), "region_means", "nope", []string{"B"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown variable, got %v", err)
	}
}
