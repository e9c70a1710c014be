// Package zarr provides a read-only client for AnnData datasets stored in
// Zarr v3 format.
package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArrayMeta represents Zarr v3 array metadata (zarr.json).
type ArrayMeta struct {
	Shape     []int  `json:"shape"`
	DataType  string `json:"data_type"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding"`
	FillValue interface{} `json:"fill_value"`
	Codecs    []struct {
		Name          string                 `json:"name"`
		Configuration map[string]interface{} `json:"configuration"`
	} `json:"codecs"`
	Attributes map[string]json.RawMessage `json:"attributes"`
	ZarrFormat int                        `json:"zarr_format"`
	NodeType   string                     `json:"node_type"`
}

// GroupMeta represents Zarr v3 group metadata (zarr.json with node_type group).
type GroupMeta struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	ZarrFormat int                        `json:"zarr_format"`
	NodeType   string                     `json:"node_type"`
}

// store gives low-level access to the arrays and groups of one Zarr store.
type store struct {
	basePath string
	decoder  *zstd.Decoder
}

func newStore(basePath string) (*store, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &store{basePath: basePath, decoder: decoder}, nil
}

func (s *store) Close() {
	if s.decoder != nil {
		s.decoder.Close()
	}
}

func (s *store) abs(relPath string) string {
	if relPath == "" {
		return s.basePath
	}
	return filepath.Join(s.basePath, filepath.FromSlash(relPath))
}

func (s *store) nodeMeta(relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.abs(relPath), "zarr.json"))
}

// arrayMeta loads Zarr v3 array metadata for a node.
func (s *store) arrayMeta(relPath string) (*ArrayMeta, error) {
	data, err := s.nodeMeta(relPath)
	if err != nil {
		return nil, err
	}
	var meta ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.NodeType != "" && meta.NodeType != "array" {
		return nil, fmt.Errorf("node %q is not an array", relPath)
	}
	return &meta, nil
}

// groupMeta loads Zarr v3 group metadata for a node.
func (s *store) groupMeta(relPath string) (*GroupMeta, error) {
	data, err := s.nodeMeta(relPath)
	if err != nil {
		return nil, err
	}
	var meta GroupMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.NodeType != "" && meta.NodeType != "group" {
		return nil, fmt.Errorf("node %q is not a group", relPath)
	}
	return &meta, nil
}

func (s *store) isGroup(relPath string) bool {
	meta, err := s.groupMeta(relPath)
	return err == nil && meta.NodeType == "group"
}

func (s *store) isArray(relPath string) bool {
	meta, err := s.arrayMeta(relPath)
	return err == nil && meta.NodeType == "array"
}

func (s *store) exists(relPath string) bool {
	_, err := os.Stat(filepath.Join(s.abs(relPath), "zarr.json"))
	return err == nil
}

// listChildren returns the child node names of a group, sorted.
func (s *store) listChildren(relPath string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(relPath))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := e.Name()
		if s.exists(joinPath(relPath, child)) {
			names = append(names, child)
		}
	}
	sort.Strings(names)
	return names, nil
}

func joinPath(base, child string) string {
	if base == "" {
		return child
	}
	return base + "/" + child
}

// readChunk reads and decompresses a chunk from Zarr v3 format.
func (s *store) readChunk(relPath string, meta *ArrayMeta, chunkKey string) ([]byte, error) {
	chunkPath := filepath.Join(s.abs(relPath), "c", filepath.FromSlash(chunkKey))

	raw, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}

	if hasCodec(meta, "zstd") {
		decompressed, err := s.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress failed: %w", err)
		}
		return decompressed, nil
	}
	return raw, nil
}

func hasCodec(meta *ArrayMeta, name string) bool {
	for _, c := range meta.Codecs {
		if c.Name == name {
			return true
		}
	}
	return false
}

func encodeChunkKey(meta *ArrayMeta, chunkIndices []int) string {
	sep := meta.ChunkKeyEncoding.Configuration.Separator
	if sep == "" {
		sep = "/"
	}
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, sep)
}

// chunkShapeAt computes the actual (possibly truncated) shape of a chunk.
func chunkShapeAt(meta *ArrayMeta, chunkIndices []int) ([]int, error) {
	if len(meta.Shape) == 0 || len(meta.ChunkGrid.Configuration.ChunkShape) == 0 {
		return nil, fmt.Errorf("invalid zarr metadata: missing shape/chunk_shape")
	}
	if len(meta.Shape) != len(meta.ChunkGrid.Configuration.ChunkShape) {
		return nil, fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(meta.Shape), len(meta.ChunkGrid.Configuration.ChunkShape))
	}
	if len(chunkIndices) != len(meta.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(chunkIndices), len(meta.Shape))
	}

	actual := make([]int, len(meta.Shape))
	for d := range meta.Shape {
		chunkLen := meta.ChunkGrid.Configuration.ChunkShape[d]
		if chunkLen <= 0 {
			return nil, fmt.Errorf("invalid chunk shape at dim %d: %d", d, chunkLen)
		}
		start := chunkIndices[d] * chunkLen
		if start < 0 || start >= meta.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, meta.Shape[d])
		}
		remaining := meta.Shape[d] - start
		if remaining < chunkLen {
			chunkLen = remaining
		}
		actual[d] = chunkLen
	}

	return actual, nil
}

func dtypeSize(dataType string) (int, error) {
	switch dataType {
	case "bool", "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "float32", "int32", "uint32":
		return 4, nil
	case "float64", "int64", "uint64":
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported zarr data_type: %s", dataType)
	}
}

func fillValueBytes(meta *ArrayMeta) ([]byte, error) {
	size, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, err
	}

	// Default fill to 0 if unspecified.
	fill := meta.FillValue
	if fill == nil {
		return make([]byte, size), nil
	}

	f, ok := fillAsFloat(fill)
	if !ok {
		return nil, fmt.Errorf("unsupported fill_value type: %T", fill)
	}

	buf := make([]byte, size)
	switch meta.DataType {
	case "bool", "int8", "uint8":
		buf[0] = byte(int64(f))
	case "int16", "uint16":
		binary.LittleEndian.PutUint16(buf, uint16(int64(f)))
	case "int32", "uint32":
		binary.LittleEndian.PutUint32(buf, uint32(int64(f)))
	case "float32":
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
	case "int64", "uint64":
		binary.LittleEndian.PutUint64(buf, uint64(int64(f)))
	case "float64":
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	default:
		return nil, fmt.Errorf("unsupported zarr data_type: %s", meta.DataType)
	}
	return buf, nil
}

func fillAsFloat(fill interface{}) (float64, bool) {
	switch t := fill.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		// Zarr v3 spells non-finite floats as strings.
		switch t {
		case "NaN":
			return math.NaN(), true
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
	}
	return 0, false
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	if len(fill) == 0 {
		return make([]byte, n)
	}
	// Fast path: fill is all zeros; make() already zero-initializes.
	allZero := true
	for _, b := range fill {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return make([]byte, len(fill)*n)
	}

	out := make([]byte, len(fill)*n)
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):(i+1)*len(fill)], fill)
	}
	return out
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}

// readChunkAt reads one chunk, materializing fill values for absent chunks.
func (s *store) readChunkAt(relPath string, meta *ArrayMeta, chunkIndices []int) ([]byte, error) {
	key := encodeChunkKey(meta, chunkIndices)
	data, err := s.readChunk(relPath, meta, key)
	if err == nil {
		return data, nil
	}

	// A chunk not present on disk represents an all-fill-value chunk.
	if os.IsNotExist(err) {
		shape, shapeErr := chunkShapeAt(meta, chunkIndices)
		if shapeErr != nil {
			return nil, shapeErr
		}
		elementCount := product(shape)
		if meta.DataType == "string" {
			return encodeEmptyStrings(elementCount), nil
		}
		fillBytes, fillErr := fillValueBytes(meta)
		if fillErr != nil {
			return nil, fillErr
		}
		return repeatFillBytes(fillBytes, elementCount), nil
	}

	return nil, err
}

// decodeScalars interprets raw chunk bytes as float64 values according to the
// array's data type. Booleans decode to 0/1.
func decodeScalars(dataType string, data []byte, n int) ([]float64, error) {
	size, err := dtypeSize(dataType)
	if err != nil {
		return nil, err
	}
	if len(data) < n*size {
		return nil, fmt.Errorf("chunk too short: got %d bytes, expected %d", len(data), n*size)
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		off := i * size
		switch dataType {
		case "bool", "uint8":
			out[i] = float64(data[off])
		case "int8":
			out[i] = float64(int8(data[off]))
		case "int16":
			out[i] = float64(int16(binary.LittleEndian.Uint16(data[off:])))
		case "uint16":
			out[i] = float64(binary.LittleEndian.Uint16(data[off:]))
		case "int32":
			out[i] = float64(int32(binary.LittleEndian.Uint32(data[off:])))
		case "uint32":
			out[i] = float64(binary.LittleEndian.Uint32(data[off:]))
		case "float32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
		case "int64":
			out[i] = float64(int64(binary.LittleEndian.Uint64(data[off:])))
		case "uint64":
			out[i] = float64(binary.LittleEndian.Uint64(data[off:]))
		case "float64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
		}
	}
	return out, nil
}

// decodeStrings interprets a chunk as a variable-length string block:
// a uint32 item count followed by (uint32 length, utf-8 bytes) per item.
func decodeStrings(data []byte, n int) ([]string, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("string chunk too short: %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data))
	if count < n {
		return nil, fmt.Errorf("string chunk has %d items, expected at least %d", count, n)
	}
	out := make([]string, n)
	off := 4
	for i := 0; i < n; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("string chunk truncated at item %d", i)
		}
		l := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+l > len(data) {
			return nil, fmt.Errorf("string chunk truncated at item %d", i)
		}
		out[i] = string(data[off : off+l])
		off += l
	}
	return out, nil
}

func encodeEmptyStrings(n int) []byte {
	out := make([]byte, 4+4*n)
	binary.LittleEndian.PutUint32(out, uint32(n))
	return out
}

// readFloats1D reads an entire 1-D numeric array.
func (s *store) readFloats1D(ctx context.Context, relPath string) ([]float64, error) {
	meta, err := s.arrayMeta(relPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for %q: %w", relPath, err)
	}
	if len(meta.Shape) != 1 || len(meta.ChunkGrid.Configuration.ChunkShape) != 1 {
		return nil, fmt.Errorf("array %q is not 1-D", relPath)
	}

	n := meta.Shape[0]
	chunkLen := meta.ChunkGrid.Configuration.ChunkShape[0]
	nChunks := ceilDiv(n, chunkLen)

	out := make([]float64, n)
	for chunk := 0; chunk < nChunks; chunk++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := chunk * chunkLen
		count := min(chunkLen, n-start)

		data, err := s.readChunkAt(relPath, meta, []int{chunk})
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d of %q: %w", chunk, relPath, err)
		}
		vals, err := decodeScalars(meta.DataType, data, count)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %q: %w", chunk, relPath, err)
		}
		copy(out[start:start+count], vals)
	}
	return out, nil
}

// readStrings1D reads an entire 1-D string array.
func (s *store) readStrings1D(ctx context.Context, relPath string) ([]string, error) {
	meta, err := s.arrayMeta(relPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for %q: %w", relPath, err)
	}
	if len(meta.Shape) != 1 || len(meta.ChunkGrid.Configuration.ChunkShape) != 1 {
		return nil, fmt.Errorf("array %q is not 1-D", relPath)
	}
	if meta.DataType != "string" {
		return nil, fmt.Errorf("array %q is not a string array (data_type=%s)", relPath, meta.DataType)
	}

	n := meta.Shape[0]
	chunkLen := meta.ChunkGrid.Configuration.ChunkShape[0]
	nChunks := ceilDiv(n, chunkLen)

	out := make([]string, 0, n)
	for chunk := 0; chunk < nChunks; chunk++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := chunk * chunkLen
		count := min(chunkLen, n-start)

		data, err := s.readChunkAt(relPath, meta, []int{chunk})
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d of %q: %w", chunk, relPath, err)
		}
		vals, err := decodeStrings(data, count)
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %q: %w", chunk, relPath, err)
		}
		out = append(out, vals...)
	}
	return out, nil
}

// readInts1D reads an entire 1-D integer array (e.g. categorical codes).
func (s *store) readInts1D(ctx context.Context, relPath string) ([]int, error) {
	vals, err := s.readFloats1D(ctx, relPath)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out, nil
}

// readBools1D reads an entire 1-D boolean array.
func (s *store) readBools1D(ctx context.Context, relPath string) ([]bool, error) {
	vals, err := s.readFloats1D(ctx, relPath)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(vals))
	for i, v := range vals {
		out[i] = v != 0
	}
	return out, nil
}

// Matrix is a 2-D numeric array accessed column-at-a-time.
type Matrix struct {
	s       *store
	relPath string
	meta    *ArrayMeta
}

func (s *store) openMatrix(relPath string) (*Matrix, error) {
	meta, err := s.arrayMeta(relPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for %q: %w", relPath, err)
	}
	if len(meta.Shape) != 2 {
		return nil, fmt.Errorf("unexpected %q shape: %v", relPath, meta.Shape)
	}
	if len(meta.ChunkGrid.Configuration.ChunkShape) != 2 {
		return nil, fmt.Errorf("unexpected %q chunk shape: %v", relPath, meta.ChunkGrid.Configuration.ChunkShape)
	}
	return &Matrix{s: s, relPath: relPath, meta: meta}, nil
}

// Shape returns (rows, cols).
func (m *Matrix) Shape() (int, int) {
	return m.meta.Shape[0], m.meta.Shape[1]
}

// Column reads one full column.
func (m *Matrix) Column(ctx context.Context, col int) ([]float64, error) {
	nRows, nCols := m.Shape()
	if col < 0 || col >= nCols {
		return nil, fmt.Errorf("column index out of range: %d (n_cols=%d)", col, nCols)
	}

	rowChunk := m.meta.ChunkGrid.Configuration.ChunkShape[0]
	colChunk := m.meta.ChunkGrid.Configuration.ChunkShape[1]
	if rowChunk <= 0 || colChunk <= 0 {
		return nil, fmt.Errorf("invalid chunk shape: %v", m.meta.ChunkGrid.Configuration.ChunkShape)
	}

	nRowChunks := ceilDiv(nRows, rowChunk)
	colChunkIdx := col / colChunk
	colOffset := col % colChunk

	out := make([]float64, nRows)
	for rChunk := 0; rChunk < nRowChunks; rChunk++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rowStart := rChunk * rowChunk
		rowLen := min(rowChunk, nRows-rowStart)
		colStart := colChunkIdx * colChunk
		colLen := min(colChunk, nCols-colStart)

		data, err := m.s.readChunkAt(m.relPath, m.meta, []int{rChunk, colChunkIdx})
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d/%d of %q: %w", rChunk, colChunkIdx, m.relPath, err)
		}
		vals, err := decodeScalars(m.meta.DataType, data, rowLen*colLen)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d of %q: %w", rChunk, colChunkIdx, m.relPath, err)
		}
		for i := 0; i < rowLen; i++ {
			out[rowStart+i] = vals[i*colLen+colOffset]
		}
	}
	return out, nil
}

// ColumnRows reads one column restricted to the given row positions, in
// order. Only the chunks covering the requested rows are touched.
func (m *Matrix) ColumnRows(ctx context.Context, col int, rows []int) ([]float64, error) {
	if len(rows) == 0 {
		return []float64{}, nil
	}
	nRows, nCols := m.Shape()
	if col < 0 || col >= nCols {
		return nil, fmt.Errorf("column index out of range: %d (n_cols=%d)", col, nCols)
	}

	rowChunk := m.meta.ChunkGrid.Configuration.ChunkShape[0]
	colChunk := m.meta.ChunkGrid.Configuration.ChunkShape[1]
	if rowChunk <= 0 || colChunk <= 0 {
		return nil, fmt.Errorf("invalid chunk shape: %v", m.meta.ChunkGrid.Configuration.ChunkShape)
	}
	colChunkIdx := col / colChunk
	colOffset := col % colChunk

	// Group requested rows per row chunk so each chunk is read once.
	type rowRef struct {
		outIdx int
		row    int
	}
	byChunk := make(map[int][]rowRef)
	for i, r := range rows {
		if r < 0 || r >= nRows {
			return nil, fmt.Errorf("row index out of range: %d (n_rows=%d)", r, nRows)
		}
		c := r / rowChunk
		byChunk[c] = append(byChunk[c], rowRef{outIdx: i, row: r})
	}

	out := make([]float64, len(rows))
	for rChunk, refs := range byChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rowStart := rChunk * rowChunk
		rowLen := min(rowChunk, nRows-rowStart)
		colStart := colChunkIdx * colChunk
		colLen := min(colChunk, nCols-colStart)

		data, err := m.s.readChunkAt(m.relPath, m.meta, []int{rChunk, colChunkIdx})
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %d/%d of %q: %w", rChunk, colChunkIdx, m.relPath, err)
		}
		vals, err := decodeScalars(m.meta.DataType, data, rowLen*colLen)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d of %q: %w", rChunk, colChunkIdx, m.relPath, err)
		}
		for _, ref := range refs {
			out[ref.outIdx] = vals[(ref.row-rowStart)*colLen+colOffset]
		}
	}
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
