// Package vectorstore holds corpus embeddings in Qdrant, one collection per
// corpus, and answers nearest-neighbour queries for hybrid retrieval.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var errCollectionMissing = errors.New("collection does not exist")

// QdrantClient talks to the Qdrant REST API.
type QdrantClient struct {
	baseURL    string
	dimension  int
	httpClient *http.Client
}

func NewQdrantClient(baseURL string, dimension int) *QdrantClient {
	return &QdrantClient{
		baseURL:    baseURL,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Point is one embedded document. ID is the document ID, which must be a
// UUID for Qdrant to accept it.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

type createCollectionRequest struct {
	Vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	} `json:"vectors"`
}

type searchRequest struct {
	Vector         []float32 `json:"vector"`
	Limit          int       `json:"limit"`
	WithPayload    bool      `json:"with_payload"`
	ScoreThreshold float64   `json:"score_threshold,omitempty"`
}

func (c *QdrantClient) HealthCheck(ctx context.Context) error {
	if err := c.call(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// CollectionExists reports whether name has been created.
func (c *QdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	err := c.call(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	switch {
	case errors.Is(err, errCollectionMissing):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return true, nil
}

// EnsureCollection creates name with cosine distance when it does not exist.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil || exists {
		return err
	}
	var req createCollectionRequest
	req.Vectors.Size = c.dimension
	req.Vectors.Distance = "Cosine"
	if err := c.call(ctx, http.MethodPut, "/collections/"+name, req, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points and waits until they are searchable.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	body := struct {
		Points []Point `json:"points"`
	}{points}
	if err := c.call(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search returns up to limit points scoring at least minScore. A collection
// that was never created yields no results, since a corpus with nothing
// embedded yet is not an error.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, minScore float64) ([]SearchResult, error) {
	var out struct {
		Result []SearchResult `json:"result"`
	}
	err := c.call(ctx, http.MethodPost, "/collections/"+collection+"/points/search",
		searchRequest{Vector: vector, Limit: limit, WithPayload: true, ScoreThreshold: minScore}, &out)
	switch {
	case errors.Is(err, errCollectionMissing):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return out.Result, nil
}

// DeletePoints removes ids from collection. Deleting from a missing
// collection is a no-op.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, ids []string) error {
	body := struct {
		Points []string `json:"points"`
	}{ids}
	err := c.call(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
	if err != nil && !errors.Is(err, errCollectionMissing) {
		return fmt.Errorf("delete %d points from %s: %w", len(ids), collection, err)
	}
	return nil
}

// call sends in as JSON (when non-nil) and decodes a successful body into
// out (when non-nil). A 404 on a collection path maps to errCollectionMissing.
func (c *QdrantClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errCollectionMissing
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	case out == nil:
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
