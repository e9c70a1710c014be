package dataset

import (
	"math"
	"math/rand"
	"sort"
)

// drawsPerValue scales the empirical-pmf estimation draws with the input
// size.
const drawsPerValue = 100

// maxPMFDraws caps the estimation draws on the violin path, where inputs can
// be an order of magnitude larger.
const maxPMFDraws = 1_000_000

// Resample compresses a large value vector to n weighted draws from its
// empirical distribution, preserving the true extremes. The output starts
// with [min, max] followed by n draws, length n+2. The generator is seeded
// with n so repeated requests return identical payloads.
//
// This is a draw-with-replacement approximation of the value distribution,
// not a uniform subsample; naive subsampling visibly distorts the tails of
// downstream density estimates.
func Resample(values []float64, n int) []float64 {
	return resampleDraws(values, n, len(values)*drawsPerValue)
}

// ResampleCapped is Resample with the pmf-estimation draw count capped, used
// for very large per-category violin vectors.
func ResampleCapped(values []float64, n int) []float64 {
	draws := len(values) * drawsPerValue
	if draws > maxPMFDraws {
		draws = maxPMFDraws
	}
	return resampleDraws(values, n, draws)
}

func resampleDraws(values []float64, n, draws int) []float64 {
	if len(values) == 0 {
		return []float64{}
	}

	rng := rand.New(rand.NewSource(int64(n)))

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make([]float64, 0, n+2)
	out = append(out, min, max)

	// Empirical pmf over the distinct values: draw uniformly over the input
	// with replacement, then bincount per distinct value. Drawing over the
	// raw positions weights each value by its frequency.
	distinct := distinctFinite(values)
	idOf := make(map[float64]int, len(distinct))
	for i, v := range distinct {
		idOf[v] = i
	}
	ids := make([]int, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			ids = append(ids, idOf[v])
		}
	}
	if len(ids) == 0 {
		return out
	}

	counts := make([]int, len(distinct))
	for i := 0; i < draws; i++ {
		counts[ids[rng.Intn(len(ids))]]++
	}

	// Cumulative counts turn the pmf draw into a binary search.
	cum := make([]int, len(counts))
	total := 0
	for i, c := range counts {
		total += c
		cum[i] = total
	}
	if total == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		t := rng.Intn(total)
		idx := sort.SearchInts(cum, t+1)
		out = append(out, distinct[idx])
	}
	return out
}
