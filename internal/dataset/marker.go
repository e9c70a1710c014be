package dataset

import (
	"context"
	"encoding/json"
	"math"

	"github.com/cherita/server/internal/data/zarr"
)

// MarkerRef is a reference to one feature or a named set of features, as it
// arrives on the wire: a number (column position), a string (feature name)
// or an object {name, indices}. Exactly one field is set.
type MarkerRef struct {
	Index *int
	Name  *string
	Set   *MarkerSet
}

// MarkerSet names a group of scalar feature references aggregated together.
type MarkerSet struct {
	Name    string
	Members []MarkerRef
}

// ParseMarkerRef decodes a marker reference from its JSON form.
func ParseMarkerRef(raw json.RawMessage) (MarkerRef, error) {
	if len(raw) == 0 {
		return MarkerRef{}, BadRequest("missing marker reference")
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return MarkerRef{Index: &asInt}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return MarkerRef{Name: &asString}, nil
	}

	var asSet struct {
		Name    *string           `json:"name"`
		Indices []json.RawMessage `json:"indices"`
	}
	if err := json.Unmarshal(raw, &asSet); err != nil || asSet.Name == nil || asSet.Indices == nil {
		return MarkerRef{}, BadRequest("marker reference must be an index, a name or {name, indices}")
	}
	members := make([]MarkerRef, len(asSet.Indices))
	for i, m := range asSet.Indices {
		ref, err := ParseMarkerRef(m)
		if err != nil {
			return MarkerRef{}, err
		}
		if ref.Set != nil {
			return MarkerRef{}, BadRequest("marker sets cannot be nested")
		}
		members[i] = ref
	}
	return MarkerRef{Set: &MarkerSet{Name: *asSet.Name, Members: members}}, nil
}

// AggregateFunc reduces a stack of member vectors to one vector.
type AggregateFunc func([][]float64) []float64

// MeanAggregate is the default set aggregation: the elementwise mean across
// member vectors, NaN-aware per position.
func MeanAggregate(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for i := range out {
		sum, n := 0.0, 0
		for _, vec := range vectors {
			if i < len(vec) && !math.IsNaN(vec[i]) {
				sum += vec[i]
				n++
			}
		}
		if n == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// Marker is a resolved feature reference. Scalar markers address a single X
// column; set markers address several and carry their aggregation. The
// aggregation applies only to the full-column X accessor; row-filtered
// access always returns raw per-member vectors.
type Marker struct {
	store       Store
	Indices     []string
	Name        string
	MatrixIndex []int
	IsSet       bool
	agg         AggregateFunc
}

// ResolveMarker resolves a reference against the store's feature axis. The
// display name of a scalar marker comes from namesCol when given, else the
// feature identifier; a set marker always keeps its user-supplied name.
func ResolveMarker(ctx context.Context, store Store, ref MarkerRef, namesCol string, agg AggregateFunc) (*Marker, error) {
	varIndex, err := store.VarIndex(ctx)
	if err != nil {
		return nil, ReadError("failed to read feature index: %v", err)
	}

	var names []string
	if namesCol != "" {
		raw, err := store.VarColumn(ctx, namesCol)
		if err != nil {
			return nil, InvalidFeature("invalid feature names column %q: %v", namesCol, err)
		}
		names = columnStrings(raw)
	}

	switch {
	case ref.Index != nil || ref.Name != nil:
		id, pos, err := resolveScalar(varIndex, ref)
		if err != nil {
			return nil, err
		}
		name := id
		if names != nil && pos < len(names) {
			name = names[pos]
		}
		return &Marker{
			store:       store,
			Indices:     []string{id},
			Name:        name,
			MatrixIndex: []int{pos},
		}, nil

	case ref.Set != nil:
		if agg == nil {
			agg = MeanAggregate
		}
		ids := make([]string, len(ref.Set.Members))
		positions := make([]int, len(ref.Set.Members))
		for i, member := range ref.Set.Members {
			id, pos, err := resolveScalar(varIndex, member)
			if err != nil {
				return nil, err
			}
			ids[i] = id
			positions[i] = pos
		}
		return &Marker{
			store:       store,
			Indices:     ids,
			Name:        ref.Set.Name,
			MatrixIndex: positions,
			IsSet:       true,
			agg:         agg,
		}, nil
	}

	return nil, BadRequest("empty marker reference")
}

func resolveScalar(varIndex []string, ref MarkerRef) (string, int, error) {
	if ref.Index != nil {
		pos := *ref.Index
		if pos < 0 || pos >= len(varIndex) {
			return "", 0, InvalidFeature("invalid feature index %d", pos)
		}
		return varIndex[pos], pos, nil
	}
	if ref.Name != nil {
		for pos, id := range varIndex {
			if id == *ref.Name {
				return id, pos, nil
			}
		}
		return "", 0, InvalidFeature("invalid feature name %q", *ref.Name)
	}
	return "", 0, BadRequest("marker set members must be indices or names")
}

// X reads the marker's full data vector. Set markers aggregate across
// members.
func (m *Marker) X(ctx context.Context) ([]float64, error) {
	if !m.IsSet {
		return m.store.XColumn(ctx, m.MatrixIndex[0])
	}
	vectors := make([][]float64, len(m.MatrixIndex))
	for i, col := range m.MatrixIndex {
		vec, err := m.store.XColumn(ctx, col)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return m.agg(vectors), nil
}

// XAt reads the marker's raw data at the given row positions, one vector per
// member and never aggregated; row-filtered consumers (histograms,
// pseudospatial) reduce per call site. A nil rows slice selects all rows. An
// empty rows slice short-circuits to an empty result without touching the
// store.
func (m *Marker) XAt(ctx context.Context, rows []int) ([][]float64, error) {
	if rows != nil && len(rows) == 0 {
		return [][]float64{}, nil
	}
	out := make([][]float64, len(m.MatrixIndex))
	for i, col := range m.MatrixIndex {
		var (
			vec []float64
			err error
		)
		if rows == nil {
			vec, err = m.store.XColumn(ctx, col)
		} else {
			vec, err = m.store.XColumnRows(ctx, col, rows)
		}
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// ValuesAt reads the marker's data at the given row positions reduced to a
// single vector: the member mean for sets, the plain column otherwise.
func (m *Marker) ValuesAt(ctx context.Context, rows []int) ([]float64, error) {
	vectors, err := m.XAt(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return []float64{}, nil
	}
	if len(vectors) == 1 {
		return vectors[0], nil
	}
	return MeanAggregate(vectors), nil
}

// columnStrings renders any raw column as per-row display strings.
func columnStrings(raw *zarr.RawColumn) []string {
	switch raw.Encoding {
	case zarr.EncodingString:
		return raw.Strings
	case zarr.EncodingCategorical:
		out := make([]string, len(raw.Codes))
		for i, code := range raw.Codes {
			if code >= 0 && code < len(raw.Categories) {
				out[i] = raw.Categories[code]
			}
		}
		return out
	case zarr.EncodingNumeric:
		out := make([]string, len(raw.Floats))
		for i, v := range raw.Floats {
			out[i] = formatLabel(v)
		}
		return out
	case zarr.EncodingBoolean:
		out := make([]string, len(raw.Bools))
		for i, b := range raw.Bools {
			if b {
				out[i] = "True"
			} else {
				out[i] = "False"
			}
		}
		return out
	}
	return nil
}
