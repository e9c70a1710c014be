// Package strapi is a client for the disease-gene keyword-search service.
package strapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	diseaseGenesEndpoint = "disease-genes"
	pageLimit            = 500
)

// Client queries a Strapi content API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// DiseaseGene is one disease-to-gene mapping record.
type DiseaseGene struct {
	ID          int             `json:"id"`
	DiseaseID   string          `json:"disease_id,omitempty"`
	DiseaseName string          `json:"disease_name,omitempty"`
	GeneID      string          `json:"gene_id,omitempty"`
	GeneName    string          `json:"gene_name,omitempty"`
	UID         string          `json:"uid,omitempty"`
	Confidence  json.RawMessage `json:"confidence,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Organs      json.RawMessage `json:"organs,omitempty"`
}

type entry struct {
	ID         int             `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type listResponse struct {
	Data []entry `json:"data"`
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]DiseaseGene, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid strapi base url %q: %w", c.baseURL, err)
	}
	u = u.JoinPath(endpoint)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("strapi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("strapi returned status %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode strapi response: %w", err)
	}

	out := make([]DiseaseGene, 0, len(list.Data))
	for _, e := range list.Data {
		var record DiseaseGene
		if len(e.Attributes) > 0 {
			if err := json.Unmarshal(e.Attributes, &record); err != nil {
				return nil, fmt.Errorf("failed to decode strapi record %d: %w", e.ID, err)
			}
		}
		record.ID = e.ID
		out = append(out, record)
	}
	return out, nil
}

func baseParams(datasets []string, fields []string, sortBy string) url.Values {
	params := url.Values{}
	for _, d := range datasets {
		params.Add("filters[disease_datasets][name][$contains]", d)
	}
	for _, f := range fields {
		params.Add("fields", f)
	}
	params.Set("sort", sortBy)
	params.Set("pagination[start]", "0")
	params.Set("pagination[limit]", strconv.Itoa(pageLimit))
	return params
}

// SearchDiseases finds diseases matching a text fragment. Short fragments
// match by prefix, longer ones by substring.
func (c *Client) SearchDiseases(ctx context.Context, datasets []string, text string) ([]DiseaseGene, error) {
	params := baseParams(datasets, []string{"disease_id", "disease_name", "uid"}, "disease_name")
	op := "$contains"
	if len(text) < 2 {
		op = "$startsWith"
	}
	params.Set(fmt.Sprintf("filters[disease_name][%s]", op), text)
	return c.get(ctx, diseaseGenesEndpoint, params)
}

// DiseaseGenes lists the genes mapped to one disease.
func (c *Client) DiseaseGenes(ctx context.Context, datasets []string, diseaseName string) ([]DiseaseGene, error) {
	params := baseParams(datasets, []string{"disease_id", "disease_name", "gene_id", "gene_name", "uid"}, "gene_name")
	params.Set("filters[disease_name][$eq]", diseaseName)
	return c.get(ctx, diseaseGenesEndpoint, params)
}

// DiseaseGene lists the diseases mapped to one gene, with confidence and
// organ annotations.
func (c *Client) DiseaseGene(ctx context.Context, datasets []string, geneName string) ([]DiseaseGene, error) {
	params := baseParams(datasets, []string{"disease_id", "disease_name", "uid", "confidence", "metadata"}, "disease_name")
	params.Set("filters[gene_name][$eq]", geneName)
	params.Add("populate", "organs")
	return c.get(ctx, diseaseGenesEndpoint, params)
}

// SearchDiseaseGenes finds disease-gene records whose gene name starts with
// a text fragment.
func (c *Client) SearchDiseaseGenes(ctx context.Context, datasets []string, text string) ([]DiseaseGene, error) {
	params := baseParams(datasets, []string{"gene_id", "gene_name", "disease_id", "disease_name", "uid"}, "gene_name")
	params.Set("filters[gene_name][$startsWith]", text)
	return c.get(ctx, diseaseGenesEndpoint, params)
}
