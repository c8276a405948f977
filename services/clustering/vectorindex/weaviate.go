// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultClassName is the Weaviate class holding every namespace's vectors.
const DefaultClassName = "SolgraphVector"

var tracer = otel.Tracer("solgraph.vectorindex")

// objectNamespace seeds deterministic object ids.
var objectNamespace = uuid.MustParse("6f1b2c8e-3f8a-4b7e-9a55-0d6c1e2f9a10")

// NewWeaviateClient builds a client from a URL such as "http://weaviate:8080".
func NewWeaviateClient(url string) (*weaviate.Client, error) {
	cfg := weaviate.Config{Host: url, Scheme: "http"}
	switch {
	case strings.HasPrefix(url, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		cfg.Host = strings.TrimPrefix(url, "http://")
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// GetVectorSchema returns the class definition used by the Weaviate index.
//
// Vectors are supplied by the caller; distance is squared L2 so search
// results are comparable with FlatL2 thresholds.
func GetVectorSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "Step and solution embeddings for the clustering engine",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "l2-squared",
		},
		Properties: []*models.Property{
			{
				Name:            "namespace",
				DataType:        []string{"text"},
				Description:     "Owning index, e.g. assignment-7/steps",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "position",
				DataType:        []string{"int"},
				Description:     "Dense insertion position within the namespace",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the vector class if it does not exist. Idempotent.
func EnsureSchema(ctx context.Context, client *weaviate.Client, className string) error {
	if _, err := client.Schema().ClassGetter().WithClassName(className).Do(ctx); err == nil {
		slog.Debug("vector schema already exists", "class", className)
		return nil
	}
	slog.Info("Creating vector schema", "class", className)
	if err := client.Schema().ClassCreator().WithClass(GetVectorSchema(className)).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", className, err)
	}
	return nil
}

// Weaviate is an Index stored in a Weaviate class, isolated by namespace.
//
// # Description
//
// Each vector is an object whose id is derived from (namespace, position),
// so re-adding at a truncated position overwrites the stale object. The
// index length is tracked locally; this index must be the only writer of
// its namespace.
//
// # Thread Safety
//
// Safe for concurrent use.
type Weaviate struct {
	client    *weaviate.Client
	className string
	namespace string

	mu    sync.Mutex
	count int
}

// NewWeaviate opens an index for namespace and clears any objects a previous
// process left behind in it.
func NewWeaviate(ctx context.Context, client *weaviate.Client, className, namespace string) (*Weaviate, error) {
	if className == "" {
		className = DefaultClassName
	}
	w := &Weaviate{client: client, className: className, namespace: namespace}
	if err := w.deleteFrom(ctx, 0); err != nil {
		return nil, err
	}
	return w, nil
}

// WeaviateFactory returns a Factory that ensures the schema once per call
// and opens a namespaced index.
func WeaviateFactory(client *weaviate.Client, className string) Factory {
	if className == "" {
		className = DefaultClassName
	}
	return func(ctx context.Context, namespace string) (Index, error) {
		if err := EnsureSchema(ctx, client, className); err != nil {
			return nil, err
		}
		return NewWeaviate(ctx, client, className, namespace)
	}
}

// ObjectID returns the deterministic object id for a position.
func ObjectID(namespace string, position int) strfmt.UUID {
	name := fmt.Sprintf("%s/%d", namespace, position)
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(name)).String())
}

// Add implements Index.
func (w *Weaviate) Add(ctx context.Context, vec []float32) (int, error) {
	if len(vec) == 0 {
		return 0, ErrEmptyVector
	}
	ctx, span := tracer.Start(ctx, "vectorindex.Weaviate.Add",
		trace.WithAttributes(attribute.String("namespace", w.namespace)))
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	pos := w.count
	obj := &models.Object{
		Class:  w.className,
		ID:     ObjectID(w.namespace, pos),
		Vector: vec,
		Properties: map[string]interface{}{
			"namespace": w.namespace,
			"position":  pos,
		},
	}
	result, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate batch import failed: %w", err)
	}
	for _, item := range result {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			return 0, fmt.Errorf("weaviate rejected vector: %s", item.Result.Errors.Error[0].Message)
		}
	}
	w.count++
	return pos, nil
}

// Search implements Index.
func (w *Weaviate) Search(ctx context.Context, vec []float32, k int) ([]Neighbor, error) {
	if len(vec) == 0 {
		return nil, ErrEmptyVector
	}
	w.mu.Lock()
	count := w.count
	w.mu.Unlock()
	if k <= 0 || count == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "vectorindex.Weaviate.Search",
		trace.WithAttributes(attribute.String("namespace", w.namespace), attribute.Int("k", k)))
	defer span.End()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			w.namespaceFilter(),
			filters.Where().
				WithPath([]string{"position"}).
				WithOperator(filters.LessThan).
				WithValueInt(int64(count)),
		})

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "position"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	return parseNeighbors(resp, w.className, k)
}

// Len implements Index.
func (w *Weaviate) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Truncate implements Index.
func (w *Weaviate) Truncate(ctx context.Context, n int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n < 0 || n > w.count {
		return fmt.Errorf("%w: %d > %d", ErrTruncateRange, n, w.count)
	}
	if n == w.count {
		return nil
	}
	if err := w.deleteFrom(ctx, n); err != nil {
		return err
	}
	w.count = n
	return nil
}

func (w *Weaviate) namespaceFilter() *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(w.namespace)
}

func (w *Weaviate) deleteFrom(ctx context.Context, n int) error {
	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			w.namespaceFilter(),
			filters.Where().
				WithPath([]string{"position"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueInt(int64(n)),
		})
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate delete from position %d: %w", n, err)
	}
	return nil
}

type vectorHit struct {
	Position   int `json:"position"`
	Additional struct {
		Distance float32 `json:"distance"`
	} `json:"_additional"`
}

type vectorGetResponse struct {
	Get map[string][]vectorHit `json:"Get"`
}

// parseNeighbors decodes a nearVector GraphQL response.
func parseNeighbors(resp *models.GraphQLResponse, className string, k int) ([]Neighbor, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("weaviate graphql error: %s", resp.Errors[0].Message)
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}
	var parsed vectorGetResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search results: %w", err)
	}

	hits := parsed.Get[className]
	out := make([]Neighbor, 0, len(hits))
	for _, h := range hits {
		out = append(out, Neighbor{Position: h.Position, Distance: h.Additional.Distance})
		if len(out) == k {
			break
		}
	}
	return out, nil
}
