package dataset

import (
	"context"
	"reflect"
	"testing"
)

func TestMatchVarNames(t *testing.T) {
	store := obsStore()

	genes := []GeneQuery{
		{GeneID: "ENSG99", GeneName: "GAPDH"},
		{GeneID: "ENSG42", GeneName: "MISSING"},
	}
	matched, err := MatchVarNames(context.Background(), store, "gene_name", genes)
	if err != nil {
		t.Fatalf("MatchVarNames error: %v", err)
	}

	want := []MatchedGene{
		{MatrixIndex: 0, Index: "ENSG01", Name: "GAPDH", GeneID: "ENSG99", GeneName: "GAPDH"},
		{MatrixIndex: -1, Index: "ENSG42", Name: "MISSING", GeneID: "ENSG42", GeneName: "MISSING"},
	}
	if !reflect.DeepEqual(matched, want) {
		t.Fatalf("expected %v, got %v", want, matched)
	}
}
