package dataset

import (
	"context"
)

// GeneQuery is an externally sourced gene record to match against the
// feature axis.
type GeneQuery struct {
	GeneID   string `json:"gene_id"`
	GeneName string `json:"gene_name"`
}

// MatchedGene joins a gene record with its feature-axis position. Genes
// absent from the dataset keep their external identifiers and a matrix
// index of -1 so clients can still render them as unavailable.
type MatchedGene struct {
	MatrixIndex int    `json:"matrix_index"`
	Index       string `json:"index"`
	Name        string `json:"name"`
	GeneID      string `json:"gene_id"`
	GeneName    string `json:"gene_name"`
}

// MatchVarNames matches external gene records against the feature axis by
// display name.
func MatchVarNames(ctx context.Context, store Store, col string, genes []GeneQuery) ([]MatchedGene, error) {
	records, err := VarNames(ctx, store, col, nil)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]VarNameRecord, len(records))
	for _, r := range records {
		if _, ok := byName[r.Name]; !ok {
			byName[r.Name] = r
		}
	}

	out := make([]MatchedGene, len(genes))
	for i, g := range genes {
		matched := MatchedGene{
			MatrixIndex: -1,
			Index:       g.GeneID,
			Name:        g.GeneName,
			GeneID:      g.GeneID,
			GeneName:    g.GeneName,
		}
		if r, ok := byName[g.GeneName]; ok {
			matched.MatrixIndex = r.MatrixIndex
			matched.Index = r.Index
			matched.Name = r.Name
		}
		out[i] = matched
	}
	return out, nil
}
