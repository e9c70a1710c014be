package colormap

import (
	"image/color"
	"testing"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"", "viridis", "plasma", "inferno", "magma"} {
		if _, ok := ByName(name); !ok {
			t.Fatalf("expected colormap for %q", name)
		}
	}
	if _, ok := ByName("jet"); ok {
		t.Fatal("expected lookup miss for unknown colormap")
	}
}

func TestLinearColormapEndpoints(t *testing.T) {
	low := Viridis.At(0)
	high := Viridis.At(1)
	if low == high {
		t.Fatal("expected distinct endpoint colors")
	}
	if got := Viridis.At(-1); got != low {
		t.Fatalf("expected clamping below 0, got %v", got)
	}
	if got := Viridis.At(2); got != high {
		t.Fatalf("expected clamping above 1, got %v", got)
	}
}

func TestHex(t *testing.T) {
	cases := []struct {
		c    color.Color
		want string
	}{
		{color.RGBA{255, 0, 0, 255}, "#ff0000"},
		{color.RGBA{0, 0, 0, 255}, "#000000"},
		{color.RGBA{68, 1, 84, 255}, "#440154"},
	}
	for _, tc := range cases {
		if got := Hex(tc.c); got != tc.want {
			t.Fatalf("Hex(%v) = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestCategoricalAtIndexWraps(t *testing.T) {
	n := len(Categorical.colors)
	if Categorical.AtIndex(0) != Categorical.AtIndex(n) {
		t.Fatal("expected index wrap-around")
	}
}
