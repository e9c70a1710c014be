package dataset

import (
	"math"
	"reflect"
	"testing"
)

func TestContinuousPassThrough(t *testing.T) {
	col := &TypedColumn{Kind: Continuous, Values: []float64{2, 1, 3, 1}}

	cat, bins, err := ToCategorical(col, Continuous, BinConfig{NBins: 5}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if bins != nil {
		t.Fatalf("expected nil bins for pass-through, got %d", *bins)
	}
	want := []string{"1", "2", "3"}
	if !reflect.DeepEqual(cat.Categories, want) {
		t.Fatalf("expected categories %v, got %v", want, cat.Categories)
	}
	if !reflect.DeepEqual(cat.Codes, []int{1, 0, 2, 0}) {
		t.Fatalf("unexpected codes: %v", cat.Codes)
	}
	if cat.Undefined != "" {
		t.Fatalf("expected no undefined category, got %q", cat.Undefined)
	}
}

func TestContinuousEqualWidthBins(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	col := &TypedColumn{Kind: Continuous, Values: values}

	cat, bins, err := ToCategorical(col, Continuous, BinConfig{NBins: 5}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if bins == nil || *bins != 5 {
		t.Fatalf("expected 5 bins, got %v", bins)
	}
	if len(cat.Categories) != 5 {
		t.Fatalf("expected 5 categories, got %v", cat.Categories)
	}
	// The maximum value belongs to the last bin, not out of range.
	if cat.Codes[len(values)-1] != 4 {
		t.Fatalf("expected max value in last bin, got code %d", cat.Codes[len(values)-1])
	}
	if cat.Codes[0] != 0 {
		t.Fatalf("expected min value in first bin, got code %d", cat.Codes[0])
	}
}

func TestContinuousThresholds(t *testing.T) {
	values := []float64{0, 0.5, 1, 2.5, 10, math.NaN()}
	col := &TypedColumn{Kind: Continuous, Values: values}
	bins := BinConfig{Thresholds: []float64{0, 1, 2, 3}}

	t.Run("fillna", func(t *testing.T) {
		cat, n, err := ToCategorical(col, Continuous, bins, true)
		if err != nil {
			t.Fatalf("ToCategorical error: %v", err)
		}
		if n == nil || *n != 3 {
			t.Fatalf("expected 3 bins, got %v", n)
		}
		// Intervals are closed on the left: 1 lands in [1, 2).
		wantCodes := []int{0, 0, 1, 2, UndefinedCode, UndefinedCode}
		if !reflect.DeepEqual(cat.Codes, wantCodes) {
			t.Fatalf("expected codes %v, got %v", wantCodes, cat.Codes)
		}
		if cat.Undefined != "undefined" {
			t.Fatalf("expected undefined category, got %q", cat.Undefined)
		}
		if cat.Counts["undefined"] != 2 {
			t.Fatalf("expected 2 undefined rows, got %d", cat.Counts["undefined"])
		}
	})

	t.Run("noFillna", func(t *testing.T) {
		cat, _, err := ToCategorical(col, Continuous, bins, false)
		if err != nil {
			t.Fatalf("ToCategorical error: %v", err)
		}
		if cat.Undefined != "" {
			t.Fatalf("expected no undefined category, got %q", cat.Undefined)
		}
		if len(cat.Categories) != 3 {
			t.Fatalf("expected 3 categories, got %v", cat.Categories)
		}
		// Out-of-range rows stay missing either way.
		if cat.Codes[4] != UndefinedCode || cat.Codes[5] != UndefinedCode {
			t.Fatalf("expected missing codes, got %v", cat.Codes)
		}
	})

	t.Run("unsorted", func(t *testing.T) {
		_, _, err := ToCategorical(col, Continuous, BinConfig{Thresholds: []float64{2, 0, 1}}, true)
		if !IsKind(err, KindBadRequest) {
			t.Fatalf("expected bad request for unsorted thresholds, got %v", err)
		}
	})
}

func TestUndefinedLabelCollision(t *testing.T) {
	col := &TypedColumn{
		Kind:       Categorical,
		Categories: []string{"undefined", "other"},
		Codes:      []int{0, 1, -1},
	}

	cat, _, err := ToCategorical(col, Categorical, BinConfig{}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if cat.Undefined != "undefined_1" {
		t.Fatalf("expected collision-avoiding label, got %q", cat.Undefined)
	}

	info := DescribeCategorical(cat)
	if info.Codes["undefined_1"] != UndefinedCode {
		t.Fatalf("expected synthetic category code %d, got %d", UndefinedCode, info.Codes["undefined_1"])
	}
	if info.Codes["undefined"] != 0 {
		t.Fatalf("real category must keep its own code, got %d", info.Codes["undefined"])
	}
	if !info.HasNA {
		t.Fatal("expected has_na to be set")
	}
}

func TestDiscreteRankBins(t *testing.T) {
	labels := []string{"f", "a", "b", "c", "d", "e"}
	col := &TypedColumn{Kind: Discrete, Labels: labels}

	cat, bins, err := ToCategorical(col, Discrete, BinConfig{NBins: 4}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if bins == nil || *bins != 4 {
		t.Fatalf("expected 4 bins, got %v", bins)
	}
	// Groups are positional over the sorted label set, so six labels over
	// four bins split {a,b} {c} {d,e} {f}.
	want := []string{"a - b", "c - c", "d - e", "f - f"}
	if !reflect.DeepEqual(cat.Categories, want) {
		t.Fatalf("expected categories %v, got %v", want, cat.Categories)
	}
	wantCodes := []int{3, 0, 0, 1, 2, 2}
	if !reflect.DeepEqual(cat.Codes, wantCodes) {
		t.Fatalf("expected codes %v, got %v", wantCodes, cat.Codes)
	}
}

func TestDiscretePassThrough(t *testing.T) {
	col := &TypedColumn{Kind: Discrete, Labels: []string{"b", "a", "b"}}

	cat, bins, err := ToCategorical(col, Discrete, BinConfig{NBins: 5}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if bins != nil {
		t.Fatalf("expected nil bins for pass-through, got %d", *bins)
	}
	if !reflect.DeepEqual(cat.Categories, []string{"a", "b"}) {
		t.Fatalf("unexpected categories: %v", cat.Categories)
	}
	if !reflect.DeepEqual(cat.Codes, []int{1, 0, 1}) {
		t.Fatalf("unexpected codes: %v", cat.Codes)
	}
	if cat.Counts["b"] != 2 {
		t.Fatalf("expected count 2 for b, got %d", cat.Counts["b"])
	}
}

func TestCategorizeBoolean(t *testing.T) {
	col := &TypedColumn{Kind: Boolean, Bools: []bool{true, false, true}}

	cat, bins, err := ToCategorical(col, Boolean, BinConfig{}, true)
	if err != nil {
		t.Fatalf("ToCategorical error: %v", err)
	}
	if bins != nil {
		t.Fatalf("expected nil bins, got %d", *bins)
	}
	if !reflect.DeepEqual(cat.Categories, []string{"False", "True"}) {
		t.Fatalf("unexpected categories: %v", cat.Categories)
	}
	if !reflect.DeepEqual(cat.Codes, []int{1, 0, 1}) {
		t.Fatalf("unexpected codes: %v", cat.Codes)
	}
}

func TestCategorizeKindMismatch(t *testing.T) {
	col := &TypedColumn{Kind: Discrete, Labels: []string{"a"}}
	if _, _, err := ToCategorical(col, Continuous, BinConfig{}, true); !IsKind(err, KindBadRequest) {
		t.Fatalf("expected bad request for kind mismatch, got %v", err)
	}
}
