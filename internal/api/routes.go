// Package api provides HTTP handlers for the cherita server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cherita/server/internal/cache"
	"github.com/cherita/server/internal/config"
	"github.com/cherita/server/internal/data/zarr"
	"github.com/cherita/server/internal/dataset"
	"github.com/cherita/server/internal/strapi"
)

// The Zarr client must satisfy the dataset store contract.
var _ dataset.Store = (*zarr.Dataset)(nil)

// Server bundles the handler dependencies. The store opener is injectable so
// router tests can serve fake datasets.
type Server struct {
	cfg    *config.Config
	cache  *cache.Manager
	strapi *strapi.Client

	openStore func(ctx context.Context, url string) (dataset.Store, func(), error)
}

// NewServer creates a server backed by local Zarr stores under the
// configured data roots.
func NewServer(cfg *config.Config, cacheManager *cache.Manager, strapiClient *strapi.Client) *Server {
	s := &Server{cfg: cfg, cache: cacheManager, strapi: strapiClient}
	s.openStore = func(ctx context.Context, url string) (dataset.Store, func(), error) {
		path, err := resolveDatasetPath(cfg.Data.Roots, url)
		if err != nil {
			return nil, nil, err
		}
		ds, err := zarr.Open(path)
		if err != nil {
			return nil, nil, dataset.NotFound("dataset %q not found", url)
		}
		return ds, ds.Close, nil
	}
	return s
}

// resolveDatasetPath maps a request dataset URL onto the allow-listed data
// roots, rejecting traversal outside them.
func resolveDatasetPath(roots []string, url string) (string, error) {
	if url == "" {
		return "", dataset.BadRequest("missing dataset url")
	}
	// Remote URL schemes collapse to their path component under a root.
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
		if j := strings.Index(url, "/"); j >= 0 {
			url = url[j+1:]
		}
	}
	rel := filepath.Clean("/" + filepath.FromSlash(url))

	for _, root := range roots {
		candidate := filepath.Join(root, rel)
		cleanRoot := filepath.Clean(root)
		if !strings.HasPrefix(candidate, cleanRoot+string(filepath.Separator)) && candidate != cleanRoot {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", dataset.NotFound("dataset %q not found", url)
}

// NewRouter creates a new HTTP router.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/about", aboutHandler())

	r.Route("/api/dataset", func(r chi.Router) {
		r.Use(s.cached)
		r.Post("/obs_cols", obsColsHandler(s))
		r.Post("/var_cols", varColsHandler(s))
		r.Post("/var_names", varNamesHandler(s))
		r.Post("/search_var_names", searchVarNamesHandler(s))
		r.Post("/obs_values", obsValuesHandler(s))
		r.Post("/obs_distribution", obsDistributionHandler(s))
		r.Post("/obs_bin_data", obsBinDataHandler(s))
		r.Post("/histograms", histogramsHandler(s))
		r.Post("/obs_histograms", obsHistogramsHandler(s))
		r.Post("/masks", masksHandler(s))
		r.Post("/x_mean", xMeanHandler(s))
	})

	r.Route("/api/plotting", func(r chi.Router) {
		r.Use(s.cached)
		r.Post("/heatmap", heatmapHandler(s))
		r.Post("/dotplot", dotplotHandler(s))
		r.Post("/matrixplot", matrixplotHandler(s))
		r.Post("/violin", violinHandler(s))
		r.Post("/pseudospatial", pseudospatialHandler(s))
	})

	r.Route("/api/diseases", func(r chi.Router) {
		r.Use(s.cached)
		r.Post("/search", diseaseSearchHandler(s))
		r.Post("/genes", diseaseGenesHandler(s))
		r.Post("/gene", diseaseGeneHandler(s))
		r.Post("/search_genes", diseaseSearchGenesHandler(s))
	})

	return r
}

// cached serves POST responses from the response cache, keyed by the request
// fingerprint. Only 200 responses are stored; entries expire on the cache
// TTL.
func (s *Server) cached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cache == nil || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, dataset.BadRequest("failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := cache.Fingerprint(r.Method, r.URL.Path, body)
		if data, ok := s.cache.GetResponse(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK {
			if err := s.cache.SetResponse(key, rec.buf.Bytes()); err != nil {
				log.Printf("Failed to cache response for %s: %v", r.URL.Path, err)
			}
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == http.StatusOK {
		r.buf.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

// decodeBody parses a JSON request body.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return dataset.BadRequest("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// writeError surfaces a classified error as {message} with its status code.
// Unclassified errors are logged and collapse to a 500.
func writeError(w http.ResponseWriter, err error) {
	status := dataset.StatusCode(err)
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": dataset.PublicMessage(err)})
}

// withStore opens the request's dataset, runs fn and guarantees release.
func (s *Server) withStore(w http.ResponseWriter, r *http.Request, url string, fn func(ctx context.Context, store dataset.Store) (interface{}, error)) {
	store, release, err := s.openStore(r.Context(), url)
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	payload, err := fn(r.Context(), store)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, payload)
}

func aboutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"name":    "cherita-server",
			"version": Version,
		})
	}
}

// Version is the reported server version.
var Version = "0.3.0"
