package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestFlatL2_SearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatL2()

	for _, v := range [][]float32{{0, 0}, {3, 4}, {1, 0}, {0, 2}} {
		_, err := idx.Add(ctx, v)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, idx.Len())

	got, err := idx.Search(ctx, []float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Neighbor{Position: 0, Distance: 0}, got[0])
	assert.Equal(t, Neighbor{Position: 2, Distance: 1}, got[1])
	assert.Equal(t, Neighbor{Position: 3, Distance: 4}, got[2])
}

func TestFlatL2_SearchFewerThanK(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatL2()

	got, err := idx.Search(ctx, []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = idx.Add(ctx, []float32{5})
	require.NoError(t, err)
	got, err = idx.Search(ctx, []float32{1}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float32(16), got[0].Distance)
}

func TestFlatL2_TiesPreferLowerPosition(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatL2()
	_, _ = idx.Add(ctx, []float32{1, 1})
	_, _ = idx.Add(ctx, []float32{1, 1})

	got, err := idx.Search(ctx, []float32{1, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got[0].Position)
}

func TestFlatL2_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatL2()

	_, err := idx.Add(ctx, nil)
	assert.True(t, errors.Is(err, ErrEmptyVector))

	_, err = idx.Add(ctx, []float32{1, 2})
	require.NoError(t, err)
	_, err = idx.Add(ctx, []float32{1, 2, 3})
	assert.True(t, errors.Is(err, ErrDimension))
	_, err = idx.Search(ctx, []float32{1}, 1)
	assert.True(t, errors.Is(err, ErrDimension))
}

func TestFlatL2_Truncate(t *testing.T) {
	ctx := context.Background()
	idx := NewFlatL2()
	for i := 0; i < 3; i++ {
		_, err := idx.Add(ctx, []float32{float32(i)})
		require.NoError(t, err)
	}

	require.NoError(t, idx.Truncate(ctx, 1))
	assert.Equal(t, 1, idx.Len())

	pos, err := idx.Add(ctx, []float32{9})
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	got, err := idx.Search(ctx, []float32{2}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Position)

	assert.True(t, errors.Is(idx.Truncate(ctx, 5), ErrTruncateRange))

	require.NoError(t, idx.Truncate(ctx, 0))
	_, err = idx.Add(ctx, []float32{1, 2, 3})
	assert.NoError(t, err, "an emptied index accepts a new dimension")
}

func TestObjectID_Deterministic(t *testing.T) {
	assert.Equal(t, ObjectID("a/steps", 3), ObjectID("a/steps", 3))
	assert.NotEqual(t, ObjectID("a/steps", 3), ObjectID("a/steps", 4))
	assert.NotEqual(t, ObjectID("a/steps", 3), ObjectID("b/steps", 3))
	assert.Len(t, string(ObjectID("x", 0)), 36)
}

func TestGetVectorSchema(t *testing.T) {
	schema := GetVectorSchema("Vec")
	assert.Equal(t, "Vec", schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
	cfg, ok := schema.VectorIndexConfig.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "l2-squared", cfg["distance"])
	require.Len(t, schema.Properties, 2)
	assert.Equal(t, "namespace", schema.Properties[0].Name)
	assert.Equal(t, []string{"int"}, schema.Properties[1].DataType)
}

func TestParseNeighbors(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Vec": []interface{}{
					map[string]interface{}{"position": 2, "_additional": map[string]interface{}{"distance": 0.25}},
					map[string]interface{}{"position": 0, "_additional": map[string]interface{}{"distance": 1.5}},
					map[string]interface{}{"position": 1, "_additional": map[string]interface{}{"distance": 3.0}},
				},
			},
		},
	}

	got, err := parseNeighbors(resp, "Vec", 2)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Position: 2, Distance: 0.25}, {Position: 0, Distance: 1.5}}, got)
}

func TestParseNeighbors_Errors(t *testing.T) {
	_, err := parseNeighbors(nil, "Vec", 3)
	assert.Error(t, err)

	resp := &models.GraphQLResponse{Errors: []*models.GraphQLError{{Message: "no such class"}}}
	_, err = parseNeighbors(resp, "Vec", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such class")
}
