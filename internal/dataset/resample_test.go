package dataset

import (
	"reflect"
	"testing"
)

func TestResamplePreservesExtremes(t *testing.T) {
	values := make([]float64, 1000)
	for i := range values {
		values[i] = float64(i % 50)
	}
	values[7] = -3
	values[900] = 120

	n := 100
	out := Resample(values, n)
	if len(out) != n+2 {
		t.Fatalf("expected %d values, got %d", n+2, len(out))
	}
	if out[0] != -3 || out[1] != 120 {
		t.Fatalf("expected leading [min max] = [-3 120], got [%g %g]", out[0], out[1])
	}
	for _, v := range out[2:] {
		if v < -3 || v > 120 {
			t.Fatalf("draw %g outside value range", v)
		}
	}
}

func TestResampleDeterministic(t *testing.T) {
	values := []float64{1, 1, 2, 3, 3, 3, 4, 9}
	a := Resample(values, 20)
	b := Resample(values, 20)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("expected identical output for identical input")
	}
}

func TestResampleEmpty(t *testing.T) {
	out := Resample(nil, 10)
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}

func TestResampleCapped(t *testing.T) {
	values := make([]float64, 2000)
	for i := range values {
		values[i] = float64(i)
	}
	out := ResampleCapped(values, 50)
	if len(out) != 52 {
		t.Fatalf("expected 52 values, got %d", len(out))
	}
	if out[0] != 0 || out[1] != 1999 {
		t.Fatalf("expected extremes [0 1999], got [%g %g]", out[0], out[1])
	}
}
