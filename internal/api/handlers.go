package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cherita/server/internal/dataset"
	"github.com/cherita/server/internal/plotting"
	"github.com/cherita/server/internal/strapi"
)

func parseMarkerRefs(raws []json.RawMessage) ([]dataset.MarkerRef, error) {
	refs := make([]dataset.MarkerRef, len(raws))
	for i, raw := range raws {
		ref, err := dataset.ParseMarkerRef(raw)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	return refs, nil
}

func obsColsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL  string   `json:"url"`
			Cols []string `json:"cols"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.ObsColMetadata(ctx, store, req.Cols)
		})
	}
}

func varColsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			names, err := store.VarColumnNames()
			if err != nil {
				return nil, dataset.ReadError("failed to list var columns: %v", err)
			}
			return names, nil
		})
	}
}

func varNamesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL   string   `json:"url"`
			Col   string   `json:"col"`
			Names []string `json:"names"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.VarNames(ctx, store, req.Col, req.Names)
		})
	}
}

func searchVarNamesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL  string `json:"url"`
			Col  string `json:"col"`
			Text string `json:"text"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.SearchVarNames(ctx, store, req.Col, req.Text)
		})
	}
}

func obsValuesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL    string   `json:"url"`
			Col    string   `json:"col"`
			Values []string `json:"values"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.ObsValues(ctx, store, req.Col, req.Values)
		})
	}
}

func obsDistributionHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
			Col string `json:"col"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		cfg := dataset.DistributionConfig{
			MaxSamples: s.cfg.Limits.MaxSamples,
			NSamples:   s.cfg.Limits.NSamples,
			KDEPoints:  s.cfg.Limits.KDEPoints,
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.ObsDistribution(ctx, store, req.Col, cfg)
		})
	}
}

func obsBinDataHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL        string    `json:"url"`
			ObsCol     string    `json:"obsCol"`
			Thresholds []float64 `json:"thresholds"`
			NBins      int       `json:"nBins"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.ObsBinData(ctx, store, req.ObsCol, dataset.BinConfig{
				Thresholds: req.Thresholds,
				NBins:      req.NBins,
			})
		})
	}
}

func histogramsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL         string          `json:"url"`
			SelectedVar json.RawMessage `json:"selectedVar"`
			ObsIndices  []int           `json:"obsIndices"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ref, err := dataset.ParseMarkerRef(req.SelectedVar)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.VarHistogram(ctx, store, ref, req.ObsIndices)
		})
	}
}

func obsHistogramsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL         string             `json:"url"`
			SelectedVar json.RawMessage    `json:"selectedVar"`
			SelectedObs dataset.ObsColSpec `json:"selectedObs"`
			ObsIndices  []int              `json:"obsIndices"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ref, err := dataset.ParseMarkerRef(req.SelectedVar)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.ObsHistograms(ctx, store, ref, req.SelectedObs, req.ObsIndices)
		})
	}
}

func masksHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return dataset.MaskCategories(ctx, store)
		})
	}
}

func xMeanHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL         string          `json:"url"`
			SelectedVar json.RawMessage `json:"selectedVar"`
			ObsIndices  []int           `json:"obsIndices"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		ref, err := dataset.ParseMarkerRef(req.SelectedVar)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			mean, err := dataset.XMean(ctx, store, ref, req.ObsIndices)
			if err != nil {
				return nil, err
			}
			return map[string]float64{"mean": mean}, nil
		})
	}
}

func heatmapHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL              string             `json:"url"`
			SelectedMultiVar []json.RawMessage  `json:"selectedMultiVar"`
			SelectedObs      dataset.ObsColSpec `json:"selectedObs"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		refs, err := parseMarkerRefs(req.SelectedMultiVar)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return plotting.Heatmap(ctx, store, refs, req.SelectedObs)
		})
	}
}

func dotplotHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL               string             `json:"url"`
			SelectedMultiVar  []json.RawMessage  `json:"selectedMultiVar"`
			SelectedObs       dataset.ObsColSpec `json:"selectedObs"`
			ExpressionCutoff  float64            `json:"expressionCutoff"`
			MeanOnlyExpressed bool               `json:"meanOnlyExpressed"`
			StandardScale     string             `json:"standardScale"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		refs, err := parseMarkerRefs(req.SelectedMultiVar)
		if err != nil {
			writeError(w, err)
			return
		}
		scale, err := plotting.ParseScaleMode(req.StandardScale)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return plotting.Dotplot(ctx, store, refs, req.SelectedObs, plotting.DotplotOptions{
				ExpressionCutoff:  req.ExpressionCutoff,
				MeanOnlyExpressed: req.MeanOnlyExpressed,
				StandardScale:     scale,
			})
		})
	}
}

func matrixplotHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL              string             `json:"url"`
			SelectedMultiVar []json.RawMessage  `json:"selectedMultiVar"`
			SelectedObs      dataset.ObsColSpec `json:"selectedObs"`
			StandardScale    string             `json:"standardScale"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		refs, err := parseMarkerRefs(req.SelectedMultiVar)
		if err != nil {
			writeError(w, err)
			return
		}
		scale, err := plotting.ParseScaleMode(req.StandardScale)
		if err != nil {
			writeError(w, err)
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return plotting.Matrixplot(ctx, store, refs, req.SelectedObs, scale)
		})
	}
}

func violinHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL         string              `json:"url"`
			Keys        json.RawMessage     `json:"keys"`
			SelectedObs *dataset.ObsColSpec `json:"selectedObs"`
			VarNamesCol string              `json:"varNamesCol"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		limits := plotting.ViolinLimits{
			MaxSamples: s.cfg.Limits.ViolinMaxSamples,
			NSamples:   s.cfg.Limits.ViolinMaxSamples,
		}

		if req.SelectedObs != nil {
			ref, err := dataset.ParseMarkerRef(req.Keys)
			if err != nil {
				writeError(w, err)
				return
			}
			s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
				return plotting.GroupedViolin(ctx, store, ref, *req.SelectedObs, req.VarNamesCol, limits)
			})
			return
		}

		var keys []string
		if err := json.Unmarshal(req.Keys, &keys); err != nil {
			var single string
			if err := json.Unmarshal(req.Keys, &single); err != nil {
				writeError(w, dataset.BadRequest("'keys' should be a string or a list of strings"))
				return
			}
			keys = []string{single}
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return plotting.MultiViolin(ctx, store, keys, req.VarNamesCol, limits)
		})
	}
}

func pseudospatialHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL         string   `json:"url"`
			VarID       string   `json:"varId"`
			VarName     string   `json:"varName"`
			Mask        string   `json:"mask"`
			VarNamesCol string   `json:"varNamesCol"`
			Colormap    string   `json:"colormap"`
			MinValue    *float64 `json:"minValue"`
			MaxValue    *float64 `json:"maxValue"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.VarID == "" && req.VarName == "" {
			writeError(w, dataset.BadRequest("either 'varId' or 'varName' must be provided"))
			return
		}
		mask := req.Mask
		if mask == "" {
			mask = "spatial"
		}
		opts := plotting.PseudospatialOptions{
			Colormap: req.Colormap,
			MinValue: req.MinValue,
			MaxValue: req.MaxValue,
		}

		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			ref, err := pseudospatialRef(ctx, store, req.VarID, req.VarName, req.VarNamesCol)
			if err != nil {
				return nil, err
			}
			return plotting.PseudospatialGene(ctx, store, ref, mask, "", opts)
		})
	}
}

// pseudospatialRef builds the marker reference: varId addresses the feature
// axis directly, varName goes through the display-name column when one is
// configured.
func pseudospatialRef(ctx context.Context, store dataset.Store, varID, varName, namesCol string) (dataset.MarkerRef, error) {
	if varID != "" {
		return dataset.MarkerRef{Name: &varID}, nil
	}
	if namesCol == "" {
		return dataset.MarkerRef{Name: &varName}, nil
	}
	records, err := dataset.VarNames(ctx, store, namesCol, []string{varName})
	if err != nil {
		return dataset.MarkerRef{}, err
	}
	if len(records) == 0 {
		return dataset.MarkerRef{}, dataset.NotFound("marker %q not found in dataset", varName)
	}
	idx := records[0].MatrixIndex
	return dataset.MarkerRef{Index: &idx}, nil
}

type matchedDiseaseGene struct {
	dataset.MatchedGene
	ID          int    `json:"id"`
	DiseaseID   string `json:"disease_id,omitempty"`
	DiseaseName string `json:"disease_name,omitempty"`
	UID         string `json:"uid,omitempty"`
}

func (s *Server) requireStrapi() (*strapi.Client, error) {
	if s.strapi == nil {
		return nil, dataset.FetchError("disease search service is not configured")
	}
	return s.strapi, nil
}

func diseaseSearchHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text            string   `json:"text"`
			DiseaseDatasets []string `json:"diseaseDatasets"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		client, err := s.requireStrapi()
		if err != nil {
			writeError(w, err)
			return
		}
		records, err := client.SearchDiseases(r.Context(), req.DiseaseDatasets, req.Text)
		if err != nil {
			writeError(w, dataset.FetchError("error fetching diseases: %v", err))
			return
		}
		writeJSON(w, records)
	}
}

func diseaseGenesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL             string   `json:"url"`
			DiseaseName     string   `json:"diseaseName"`
			Col             string   `json:"col"`
			DiseaseDatasets []string `json:"diseaseDatasets"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		client, err := s.requireStrapi()
		if err != nil {
			writeError(w, err)
			return
		}
		records, err := client.DiseaseGenes(r.Context(), req.DiseaseDatasets, req.DiseaseName)
		if err != nil {
			writeError(w, dataset.FetchError("error fetching disease genes: %v", err))
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return matchGenes(ctx, store, req.Col, records)
		})
	}
}

func diseaseGeneHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GeneName        string   `json:"geneName"`
			DiseaseDatasets []string `json:"diseaseDatasets"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		client, err := s.requireStrapi()
		if err != nil {
			writeError(w, err)
			return
		}
		records, err := client.DiseaseGene(r.Context(), req.DiseaseDatasets, req.GeneName)
		if err != nil {
			writeError(w, dataset.FetchError("error fetching disease gene: %v", err))
			return
		}
		writeJSON(w, records)
	}
}

func diseaseSearchGenesHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL             string   `json:"url"`
			Col             string   `json:"col"`
			Text            string   `json:"text"`
			DiseaseDatasets []string `json:"diseaseDatasets"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		client, err := s.requireStrapi()
		if err != nil {
			writeError(w, err)
			return
		}
		records, err := client.SearchDiseaseGenes(r.Context(), req.DiseaseDatasets, req.Text)
		if err != nil {
			writeError(w, dataset.FetchError("error fetching disease genes: %v", err))
			return
		}
		s.withStore(w, r, req.URL, func(ctx context.Context, store dataset.Store) (interface{}, error) {
			return matchGenes(ctx, store, req.Col, records)
		})
	}
}

// matchGenes joins external gene records with the dataset's feature axis.
func matchGenes(ctx context.Context, store dataset.Store, col string, records []strapi.DiseaseGene) ([]matchedDiseaseGene, error) {
	queries := make([]dataset.GeneQuery, len(records))
	for i, rec := range records {
		queries[i] = dataset.GeneQuery{GeneID: rec.GeneID, GeneName: rec.GeneName}
	}
	matched, err := dataset.MatchVarNames(ctx, store, col, queries)
	if err != nil {
		return nil, err
	}

	out := make([]matchedDiseaseGene, len(records))
	for i, rec := range records {
		out[i] = matchedDiseaseGene{
			MatchedGene: matched[i],
			ID:          rec.ID,
			DiseaseID:   rec.DiseaseID,
			DiseaseName: rec.DiseaseName,
			UID:         rec.UID,
		}
	}
	return out, nil
}
