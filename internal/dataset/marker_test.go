package dataset

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/cherita/server/internal/data/zarr"
)

func markerStore() *memStore {
	return &memStore{
		varIndex: []string{"ENSG01", "ENSG02", "ENSG03"},
		varCols: map[string]*zarr.RawColumn{
			"gene_name": {
				Encoding: zarr.EncodingString,
				Strings:  []string{"ACTB", "GAPDH", "CD4"},
			},
		},
		x: [][]float64{
			{1, 3},
			{3, 5},
			{10, 20},
		},
	}
}

func TestParseMarkerRef(t *testing.T) {
	t.Run("index", func(t *testing.T) {
		ref, err := ParseMarkerRef(json.RawMessage(`2`))
		if err != nil {
			t.Fatalf("ParseMarkerRef error: %v", err)
		}
		if ref.Index == nil || *ref.Index != 2 {
			t.Fatalf("expected index ref, got %+v", ref)
		}
	})

	t.Run("name", func(t *testing.T) {
		ref, err := ParseMarkerRef(json.RawMessage(`"ENSG01"`))
		if err != nil {
			t.Fatalf("ParseMarkerRef error: %v", err)
		}
		if ref.Name == nil || *ref.Name != "ENSG01" {
			t.Fatalf("expected name ref, got %+v", ref)
		}
	})

	t.Run("set", func(t *testing.T) {
		ref, err := ParseMarkerRef(json.RawMessage(`{"name":"tcells","indices":["ENSG01",2]}`))
		if err != nil {
			t.Fatalf("ParseMarkerRef error: %v", err)
		}
		if ref.Set == nil || ref.Set.Name != "tcells" || len(ref.Set.Members) != 2 {
			t.Fatalf("expected set ref, got %+v", ref)
		}
	})

	t.Run("nestedSet", func(t *testing.T) {
		raw := json.RawMessage(`{"name":"outer","indices":[{"name":"inner","indices":[0]}]}`)
		if _, err := ParseMarkerRef(raw); !IsKind(err, KindBadRequest) {
			t.Fatalf("expected bad request for nested set, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := ParseMarkerRef(json.RawMessage(`{"foo":1}`)); !IsKind(err, KindBadRequest) {
			t.Fatalf("expected bad request, got %v", err)
		}
	})
}

func TestResolveMarkerScalar(t *testing.T) {
	store := markerStore()
	ctx := context.Background()

	name := "ENSG02"
	marker, err := ResolveMarker(ctx, store, MarkerRef{Name: &name}, "gene_name", nil)
	if err != nil {
		t.Fatalf("ResolveMarker error: %v", err)
	}
	if marker.Name != "GAPDH" {
		t.Fatalf("expected display name from names column, got %q", marker.Name)
	}
	if !reflect.DeepEqual(marker.MatrixIndex, []int{1}) {
		t.Fatalf("unexpected matrix index: %v", marker.MatrixIndex)
	}

	values, err := marker.X(ctx)
	if err != nil {
		t.Fatalf("X error: %v", err)
	}
	if !reflect.DeepEqual(values, []float64{3, 5}) {
		t.Fatalf("unexpected values: %v", values)
	}
}

func TestResolveMarkerUnknown(t *testing.T) {
	store := markerStore()
	ctx := context.Background()

	name := "NOPE"
	if _, err := ResolveMarker(ctx, store, MarkerRef{Name: &name}, "", nil); !IsKind(err, KindInvalidFeature) {
		t.Fatalf("expected invalid feature for unknown name, got %v", err)
	}

	idx := 99
	if _, err := ResolveMarker(ctx, store, MarkerRef{Index: &idx}, "", nil); !IsKind(err, KindInvalidFeature) {
		t.Fatalf("expected invalid feature for out-of-range index, got %v", err)
	}
}

func TestMarkerSetAggregation(t *testing.T) {
	store := markerStore()
	ctx := context.Background()

	a, b := "ENSG01", "ENSG02"
	ref := MarkerRef{Set: &MarkerSet{
		Name:    "pair",
		Members: []MarkerRef{{Name: &a}, {Name: &b}},
	}}
	marker, err := ResolveMarker(ctx, store, ref, "", nil)
	if err != nil {
		t.Fatalf("ResolveMarker error: %v", err)
	}

	// The full-column accessor aggregates: elementwise mean of [1,3] and
	// [3,5].
	values, err := marker.X(ctx)
	if err != nil {
		t.Fatalf("X error: %v", err)
	}
	if !reflect.DeepEqual(values, []float64{2, 4}) {
		t.Fatalf("expected aggregated [2 4], got %v", values)
	}

	// Row-filtered access stays per member.
	perMember, err := marker.XAt(ctx, []int{0})
	if err != nil {
		t.Fatalf("XAt error: %v", err)
	}
	want := [][]float64{{1}, {3}}
	if !reflect.DeepEqual(perMember, want) {
		t.Fatalf("expected per-member %v, got %v", want, perMember)
	}
}

func TestMarkerEmptySelection(t *testing.T) {
	store := markerStore()
	ctx := context.Background()

	name := "ENSG01"
	marker, err := ResolveMarker(ctx, store, MarkerRef{Name: &name}, "", nil)
	if err != nil {
		t.Fatalf("ResolveMarker error: %v", err)
	}

	before := store.xReads
	out, err := marker.XAt(ctx, []int{})
	if err != nil {
		t.Fatalf("XAt error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
	if store.xReads != before {
		t.Fatalf("empty selection must not touch the store, got %d reads", store.xReads-before)
	}
}

func TestMeanAggregateNaN(t *testing.T) {
	got := MeanAggregate([][]float64{{1, math.NaN()}, {3, 5}})
	if got[0] != 2 {
		t.Fatalf("expected 2, got %g", got[0])
	}
	// A missing member drops out of the mean at that position.
	if got[1] != 5 {
		t.Fatalf("expected 5, got %g", got[1])
	}
}
