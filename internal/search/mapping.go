package search

import (
	"encoding/json"
	"fmt"
)

// HNSW graph parameters. Fixed: callers tune dimension and space type, not
// graph construction.
const (
	hnswEfConstruction = 512
	hnswM              = 16
	hnswEngine         = "faiss"
)

const (
	defaultSimilarityMethod = "l2"
	defaultAnalyzer         = "standard"
)

// buildMapping renders the full index body: a knn_vector field with the
// configured dimension and HNSW parameters, a free-text field, and a
// metadata field excluded from the text index.
func buildMapping(spec IndexSpec) ([]byte, error) {
	space := spec.SimilarityMethod
	if space == "" {
		space = defaultSimilarityMethod
	}
	analyzer := spec.Analyzer
	if analyzer == "" {
		analyzer = defaultAnalyzer
	}

	mapping := map[string]any{
		"settings": map[string]any{
			"index.knn": true,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"vector": map[string]any{
					"type":      "knn_vector",
					"dimension": spec.VectorDimension,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     hnswEngine,
						"space_type": space,
						"parameters": map[string]any{
							"ef_construction": hnswEfConstruction,
							"m":               hnswM,
						},
					},
				},
				"text": map[string]any{
					"type":     "text",
					"analyzer": analyzer,
				},
				"metadata": map[string]any{
					"type":  "text",
					"index": false,
				},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("encoding index mapping: %w", err)
	}
	return body, nil
}
