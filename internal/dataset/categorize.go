package dataset

import (
	"fmt"
	"math"
	"sort"
)

// UndefinedCode is the synthetic code assigned to missing values. It never
// collides with a real category code, which are all non-negative.
const UndefinedCode = -1

// DefaultBins is the bin count used when a request does not specify one.
const DefaultBins = 5

// BinConfig selects between explicit sorted thresholds and an automatic
// equal-width bin count.
type BinConfig struct {
	Thresholds []float64 `json:"thresholds,omitempty"`
	NBins      int       `json:"nBins,omitempty"`
}

// CategoricalColumn is a canonical categorical grouping: ordered labels,
// per-row codes and per-category counts. The synthetic undefined category,
// when materialized, is appended last and its rows keep code -1.
type CategoricalColumn struct {
	Categories []string
	Codes      []int
	Counts     map[string]int
	Undefined  string
}

// HasMissing reports whether any row carries the missing code.
func (c *CategoricalColumn) HasMissing() bool {
	for _, code := range c.Codes {
		if code < 0 {
			return true
		}
	}
	return false
}

// Label returns the category label for a row, or the undefined label for
// missing rows. The second return is false for missing rows that were not
// materialized.
func (c *CategoricalColumn) Label(row int) (string, bool) {
	code := c.Codes[row]
	if code < 0 {
		if c.Undefined != "" {
			return c.Undefined, true
		}
		return "", false
	}
	return c.Categories[code], true
}

// ToCategorical converts a typed column into a categorical grouping under
// the requested semantic kind. The second return value is the number of bins
// actually produced, or nil when no binning took place (pass-through paths);
// callers use it to annotate axis titles.
//
// All four kinds converge on the same missing-value handling: missing rows
// carry code -1 and, when fillna is set, a synthetic undefined category.
func ToCategorical(col *TypedColumn, kind ColumnKind, bins BinConfig, fillna bool) (*CategoricalColumn, *int, error) {
	nBins := bins.NBins
	if nBins <= 0 {
		nBins = DefaultBins
	}

	var (
		cat       *CategoricalColumn
		effective *int
		err       error
	)

	switch kind {
	case Continuous:
		cat, effective, err = categorizeContinuous(col, bins.Thresholds, nBins)
	case Discrete:
		cat, effective, err = categorizeDiscrete(col, nBins)
	case Boolean:
		cat, err = categorizeBoolean(col)
	case Categorical:
		cat, err = categorizeCategorical(col)
	default:
		err = BadRequest("unknown column type %d", int(kind))
	}
	if err != nil {
		return nil, nil, err
	}

	if fillna {
		fillnaAsUndefined(cat)
	}
	cat.Counts = countCategories(cat)
	return cat, effective, nil
}

func categorizeContinuous(col *TypedColumn, thresholds []float64, nBins int) (*CategoricalColumn, *int, error) {
	if col.Kind != Continuous {
		return nil, nil, BadRequest("column is %s, not continuous", col.Kind)
	}
	values := col.Values

	if len(thresholds) >= 2 {
		if !sort.Float64sAreSorted(thresholds) {
			return nil, nil, BadRequest("thresholds must be sorted")
		}
		cat := cutValues(values, thresholds, false)
		n := len(thresholds) - 1
		return cat, &n, nil
	}

	distinct := distinctFinite(values)
	if len(distinct) <= nBins {
		// Low cardinality: the values already form a categorical axis.
		return passThroughValues(values, distinct), nil, nil
	}

	edges := equalWidthEdges(distinct[0], distinct[len(distinct)-1], nBins)
	cat := cutValues(values, edges, true)
	return cat, &nBins, nil
}

// cutValues bins values into len(edges)-1 intervals with closed lower
// bounds. Out-of-range values and NaNs stay missing. When includeMax is set
// the last interval also contains its upper edge, so the observed maximum
// lands in a bin under automatic equal-width binning.
func cutValues(values, edges []float64, includeMax bool) *CategoricalColumn {
	nBins := len(edges) - 1
	labels := make([]string, nBins)
	for i := 0; i < nBins; i++ {
		labels[i] = fmt.Sprintf("[%s, %s)", formatLabel(edges[i]), formatLabel(edges[i+1]))
	}

	codes := make([]int, len(values))
	for i, v := range values {
		codes[i] = UndefinedCode
		if math.IsNaN(v) {
			continue
		}
		if includeMax && v == edges[nBins] {
			codes[i] = nBins - 1
			continue
		}
		idx := sort.SearchFloat64s(edges, v)
		// SearchFloat64s finds the leftmost insertion point; an exact edge
		// match is the closed lower bound of its own bin.
		if idx < len(edges) && edges[idx] == v {
			if idx < nBins {
				codes[i] = idx
			}
			continue
		}
		if idx > 0 && idx <= nBins {
			codes[i] = idx - 1
		}
	}

	return &CategoricalColumn{Categories: labels, Codes: codes}
}

func equalWidthEdges(min, max float64, nBins int) []float64 {
	edges := make([]float64, nBins+1)
	width := (max - min) / float64(nBins)
	for i := range edges {
		edges[i] = min + float64(i)*width
	}
	edges[nBins] = max
	return edges
}

func distinctFinite(values []float64) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func passThroughValues(values, distinct []float64) *CategoricalColumn {
	labels := make([]string, len(distinct))
	codeOf := make(map[float64]int, len(distinct))
	for i, v := range distinct {
		labels[i] = formatLabel(v)
		codeOf[v] = i
	}
	codes := make([]int, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			codes[i] = UndefinedCode
		} else {
			codes[i] = codeOf[v]
		}
	}
	return &CategoricalColumn{Categories: labels, Codes: codes}
}

func categorizeDiscrete(col *TypedColumn, nBins int) (*CategoricalColumn, *int, error) {
	labels, missing, err := labelRows(col)
	if err != nil {
		return nil, nil, err
	}

	distinct := distinctLabels(labels, missing)
	if len(distinct) <= nBins {
		return passThroughLabels(labels, missing, distinct), nil, nil
	}

	// High cardinality: bin by rank position over the sorted label set, not
	// by value. Each label's group is determined by its position in the
	// sorted order, an ordinal bucketing that stays meaningful for
	// free-text labels.
	m := len(distinct)
	groupOf := make(map[string]int, m)
	groupFirst := make([]string, nBins)
	groupLast := make([]string, nBins)
	seenGroup := make([]bool, nBins)
	for j, label := range distinct {
		g := j * nBins / m
		groupOf[label] = g
		if !seenGroup[g] {
			groupFirst[g] = label
			seenGroup[g] = true
		}
		groupLast[g] = label
	}

	cats := make([]string, nBins)
	for g := 0; g < nBins; g++ {
		cats[g] = groupFirst[g] + " - " + groupLast[g]
	}

	codes := make([]int, len(labels))
	for i, label := range labels {
		if missing[i] {
			codes[i] = UndefinedCode
		} else {
			codes[i] = groupOf[label]
		}
	}

	return &CategoricalColumn{Categories: cats, Codes: codes}, &nBins, nil
}

// labelRows renders a column as string labels plus a per-row missing mask.
func labelRows(col *TypedColumn) ([]string, []bool, error) {
	switch col.Kind {
	case Discrete:
		return col.Labels, make([]bool, len(col.Labels)), nil
	case Continuous:
		labels := make([]string, len(col.Values))
		missing := make([]bool, len(col.Values))
		for i, v := range col.Values {
			if math.IsNaN(v) {
				missing[i] = true
			} else {
				labels[i] = formatLabel(v)
			}
		}
		return labels, missing, nil
	case Boolean:
		labels := make([]string, len(col.Bools))
		for i, b := range col.Bools {
			if b {
				labels[i] = "True"
			} else {
				labels[i] = "False"
			}
		}
		return labels, make([]bool, len(col.Bools)), nil
	case Categorical:
		labels := make([]string, len(col.Codes))
		missing := make([]bool, len(col.Codes))
		for i, code := range col.Codes {
			if code < 0 || code >= len(col.Categories) {
				missing[i] = true
			} else {
				labels[i] = col.Categories[code]
			}
		}
		return labels, missing, nil
	}
	return nil, nil, ReadError("cannot render column kind %d as labels", int(col.Kind))
}

func distinctLabels(labels []string, missing []bool) []string {
	seen := make(map[string]struct{})
	var out []string
	for i, label := range labels {
		if missing[i] {
			continue
		}
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}

func passThroughLabels(labels []string, missing []bool, distinct []string) *CategoricalColumn {
	codeOf := make(map[string]int, len(distinct))
	for i, label := range distinct {
		codeOf[label] = i
	}
	codes := make([]int, len(labels))
	for i, label := range labels {
		if missing[i] {
			codes[i] = UndefinedCode
		} else {
			codes[i] = codeOf[label]
		}
	}
	return &CategoricalColumn{Categories: distinct, Codes: codes}
}

func categorizeBoolean(col *TypedColumn) (*CategoricalColumn, error) {
	if col.Kind != Boolean {
		return nil, BadRequest("column is %s, not boolean", col.Kind)
	}
	codes := make([]int, len(col.Bools))
	for i, b := range col.Bools {
		if b {
			codes[i] = 1
		}
	}
	return &CategoricalColumn{Categories: []string{"False", "True"}, Codes: codes}, nil
}

func categorizeCategorical(col *TypedColumn) (*CategoricalColumn, error) {
	switch col.Kind {
	case Categorical:
		codes := append([]int(nil), col.Codes...)
		cats := append([]string(nil), col.Categories...)
		return &CategoricalColumn{Categories: cats, Codes: codes}, nil
	case Boolean:
		return categorizeBoolean(col)
	case Discrete:
		labels, missing, err := labelRows(col)
		if err != nil {
			return nil, err
		}
		return passThroughLabels(labels, missing, distinctLabels(labels, missing)), nil
	}
	return nil, BadRequest("column is %s, not categorical", col.Kind)
}

// fillnaAsUndefined materializes missing rows as a synthetic category. The
// label is "undefined", suffixed with a counter when a real category already
// claims the name; the rows keep code -1.
func fillnaAsUndefined(c *CategoricalColumn) {
	if !c.HasMissing() {
		return
	}
	label := "undefined"
	taken := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		taken[cat] = struct{}{}
	}
	for i := 1; ; i++ {
		if _, ok := taken[label]; !ok {
			break
		}
		label = fmt.Sprintf("undefined_%d", i)
	}
	c.Categories = append(c.Categories, label)
	c.Undefined = label
}

func countCategories(c *CategoricalColumn) map[string]int {
	counts := make(map[string]int, len(c.Categories))
	for _, cat := range c.Categories {
		counts[cat] = 0
	}
	for _, code := range c.Codes {
		switch {
		case code >= 0 && code < len(c.Categories):
			counts[c.Categories[code]]++
		case code < 0 && c.Undefined != "":
			counts[c.Undefined]++
		}
	}
	return counts
}
