// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex provides k-nearest-neighbor search over embeddings.
//
// # Description
//
// An Index stores vectors at dense positions 0..Len()-1 in insertion order
// and answers k-NN queries by squared Euclidean distance. Positions are the
// only identity a caller sees; the oracle and the graph builder map them to
// alias slots and solution indices.
//
// Truncate drops every position >= n so a caller can roll back vectors
// added during a failed operation.
//
// # Implementations
//
//   - FlatL2: exact in-memory search.
//   - Weaviate: nearVector search over a namespaced class in a Weaviate server.
package vectorindex

import (
	"context"
	"errors"
)

var (
	// ErrDimension is returned when a vector's length differs from the index's.
	ErrDimension = errors.New("vector dimension mismatch")

	// ErrEmptyVector is returned when a zero-length vector is added or searched.
	ErrEmptyVector = errors.New("empty vector")

	// ErrTruncateRange is returned when Truncate is asked to grow the index.
	ErrTruncateRange = errors.New("truncate beyond index length")
)

// Neighbor is one search result.
type Neighbor struct {
	// Position is the insertion position of the stored vector.
	Position int

	// Distance is the squared L2 distance to the query.
	Distance float32
}

// Index is a k-NN vector store with dense positions.
//
// Implementations are not required to be safe for concurrent mutation;
// callers serialize writes per index.
type Index interface {
	// Add stores vec and returns its position.
	Add(ctx context.Context, vec []float32) (int, error)

	// Search returns up to k neighbors ordered by ascending distance.
	Search(ctx context.Context, vec []float32, k int) ([]Neighbor, error)

	// Len reports the number of stored vectors.
	Len() int

	// Truncate removes every vector at position >= n.
	Truncate(ctx context.Context, n int) error
}

// Factory creates an empty index for a namespace such as
// "assignment-7/steps".
type Factory func(ctx context.Context, namespace string) (Index, error)

// squaredL2 returns the squared Euclidean distance between equal-length vectors.
func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
