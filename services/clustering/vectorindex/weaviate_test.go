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
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Fake Weaviate server
// =============================================================================

type storedObject struct {
	namespace string
	position  int
	vector    []float32
}

// fakeWeaviate serves the REST and GraphQL endpoints the index uses, backed
// by an in-memory object table.
type fakeWeaviate struct {
	mu      sync.Mutex
	classes map[string]bool
	objects map[string]storedObject
	reject  string
	deletes int
}

var (
	gqlVector    = regexp.MustCompile(`vector: (\[[^\]]*\])`)
	gqlNamespace = regexp.MustCompile(`path: \["namespace"\] valueString: ("[^"]*")`)
	gqlBelow     = regexp.MustCompile(`path: \["position"\] valueInt: (\d+)`)
	gqlLimit     = regexp.MustCompile(`limit: (\d+)`)
)

func newFakeWeaviate(t *testing.T) (*fakeWeaviate, *weaviate.Client) {
	t.Helper()
	f := &fakeWeaviate{classes: map[string]bool{}, objects: map[string]storedObject{}}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)

	client, err := NewWeaviateClient(server.URL)
	require.NoError(t, err)
	return f, client
}

func (f *fakeWeaviate) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/meta":
		_, _ = w.Write([]byte(`{"version":"1.35.2"}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/schema/")
		if !f.classes[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(models.Class{Class: name})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
		var class models.Class
		if err := json.NewDecoder(r.Body).Decode(&class); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.classes[class.Class] = true
		_ = json.NewEncoder(w).Encode(class)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/batch/objects":
		f.batchImport(w, r)
	case r.Method == http.MethodDelete && r.URL.Path == "/v1/batch/objects":
		f.batchDelete(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/graphql":
		f.graphql(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeWeaviate) batchImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Objects []*models.Object `json:"objects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	out := make([]map[string]interface{}, 0, len(body.Objects))
	for _, obj := range body.Objects {
		item := map[string]interface{}{"id": obj.ID, "class": obj.Class}
		if f.reject != "" {
			item["result"] = map[string]interface{}{
				"errors": map[string]interface{}{"error": []map[string]string{{"message": f.reject}}},
			}
			out = append(out, item)
			continue
		}
		props, _ := obj.Properties.(map[string]interface{})
		ns, _ := props["namespace"].(string)
		pos, _ := props["position"].(float64)
		f.objects[string(obj.ID)] = storedObject{namespace: ns, position: int(pos), vector: obj.Vector}
		item["result"] = map[string]interface{}{}
		out = append(out, item)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeWeaviate) batchDelete(w http.ResponseWriter, r *http.Request) {
	var body models.BatchDelete
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Match == nil || body.Match.Where == nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	var ns string
	from := int64(-1)
	for _, op := range body.Match.Where.Operands {
		switch {
		case len(op.Path) == 1 && op.Path[0] == "namespace" && op.ValueString != nil:
			ns = *op.ValueString
		case len(op.Path) == 1 && op.Path[0] == "position" && op.ValueInt != nil:
			from = *op.ValueInt
		}
	}
	if from < 0 {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	f.deletes++
	matched := 0
	for id, obj := range f.objects {
		if obj.namespace == ns && int64(obj.position) >= from {
			delete(f.objects, id)
			matched++
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"results": map[string]interface{}{"matches": matched, "successful": matched},
	})
}

func (f *fakeWeaviate) graphql(w http.ResponseWriter, r *http.Request) {
	var q models.GraphQLQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}
	vm, nm, bm, lm := gqlVector.FindStringSubmatch(q.Query), gqlNamespace.FindStringSubmatch(q.Query),
		gqlBelow.FindStringSubmatch(q.Query), gqlLimit.FindStringSubmatch(q.Query)
	if vm == nil || nm == nil || bm == nil || lm == nil {
		_, _ = w.Write([]byte(`{"errors":[{"message":"unsupported query"}]}`))
		return
	}
	var query []float32
	_ = json.Unmarshal([]byte(vm[1]), &query)
	ns, _ := strconv.Unquote(nm[1])
	below, _ := strconv.Atoi(bm[1])
	limit, _ := strconv.Atoi(lm[1])

	type hit struct {
		Position   int `json:"position"`
		Additional struct {
			Distance float32 `json:"distance"`
		} `json:"_additional"`
	}
	var hits []hit
	for _, obj := range f.objects {
		if obj.namespace != ns || obj.position >= below {
			continue
		}
		h := hit{Position: obj.position}
		h.Additional.Distance = squaredL2(query, obj.vector)
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Additional.Distance != hits[j].Additional.Distance {
			return hits[i].Additional.Distance < hits[j].Additional.Distance
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{"Get": map[string]interface{}{DefaultClassName: hits}},
	})
}

func (f *fakeWeaviate) countIn(namespace string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, obj := range f.objects {
		if obj.namespace == namespace {
			n++
		}
	}
	return n
}

// =============================================================================
// Tests
// =============================================================================

func TestWeaviate_FactoryCreatesSchemaOnce(t *testing.T) {
	fake, client := newFakeWeaviate(t)
	factory := WeaviateFactory(client, "")
	ctx := context.Background()

	_, err := factory(ctx, "hw1/steps")
	require.NoError(t, err)
	_, err = factory(ctx, "hw1/solutions")
	require.NoError(t, err)

	assert.True(t, fake.classes[DefaultClassName])
	assert.Len(t, fake.classes, 1)
}

func TestWeaviate_AddSearchTruncateReAdd(t *testing.T) {
	fake, client := newFakeWeaviate(t)
	ctx := context.Background()
	idx, err := WeaviateFactory(client, "")(ctx, "hw1/steps")
	require.NoError(t, err)

	for i, v := range [][]float32{{0, 0}, {3, 4}, {1, 0}} {
		pos, err := idx.Add(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 3, fake.countIn("hw1/steps"))

	got, err := idx.Search(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Position: 0, Distance: 0}, {Position: 2, Distance: 1}}, got)

	require.NoError(t, idx.Truncate(ctx, 1))
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, 1, fake.countIn("hw1/steps"))

	got, err = idx.Search(ctx, []float32{3, 4}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Position: 0, Distance: 25}}, got)

	pos, err := idx.Add(ctx, []float32{3, 5})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, fake.countIn("hw1/steps"))

	got, err = idx.Search(ctx, []float32{3, 5}, 1)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Position: 1, Distance: 0}}, got)
}

func TestWeaviate_NamespacesAreIsolated(t *testing.T) {
	fake, client := newFakeWeaviate(t)
	ctx := context.Background()
	factory := WeaviateFactory(client, "")

	steps, err := factory(ctx, "hw1/steps")
	require.NoError(t, err)
	other, err := factory(ctx, "hw2/steps")
	require.NoError(t, err)

	_, err = steps.Add(ctx, []float32{1, 1})
	require.NoError(t, err)
	_, err = other.Add(ctx, []float32{1, 1})
	require.NoError(t, err)

	require.NoError(t, other.Truncate(ctx, 0))
	assert.Equal(t, 1, fake.countIn("hw1/steps"))
	assert.Equal(t, 0, fake.countIn("hw2/steps"))

	got, err := steps.Search(ctx, []float32{1, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWeaviate_OpenClearsStaleObjects(t *testing.T) {
	fake, client := newFakeWeaviate(t)
	ctx := context.Background()
	fake.objects[string(ObjectID("hw1/steps", 0))] = storedObject{namespace: "hw1/steps", vector: []float32{9}}

	idx, err := NewWeaviate(ctx, client, "", "hw1/steps")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, fake.countIn("hw1/steps"))
	assert.Equal(t, 1, fake.deletes)
}

func TestWeaviate_RejectedVectorKeepsLength(t *testing.T) {
	fake, client := newFakeWeaviate(t)
	ctx := context.Background()
	idx, err := NewWeaviate(ctx, client, "", "hw1/steps")
	require.NoError(t, err)

	fake.reject = "vector lengths don't match"
	_, err = idx.Add(ctx, []float32{1, 2})
	assert.ErrorContains(t, err, "vector lengths don't match")
	assert.Equal(t, 0, idx.Len())
}

func TestWeaviate_InvalidArguments(t *testing.T) {
	_, client := newFakeWeaviate(t)
	ctx := context.Background()
	idx, err := NewWeaviate(ctx, client, "", "hw1/steps")
	require.NoError(t, err)

	_, err = idx.Add(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyVector)
	_, err = idx.Search(ctx, nil, 1)
	assert.ErrorIs(t, err, ErrEmptyVector)
	assert.ErrorIs(t, idx.Truncate(ctx, 1), ErrTruncateRange)

	got, err := idx.Search(ctx, []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
