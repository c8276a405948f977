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
	"fmt"
	"sort"
)

// FlatL2 is an exact brute-force index.
//
// The dimension is fixed by the first Add. Search is O(n*d).
//
// Thread Safety: Not safe for concurrent use.
type FlatL2 struct {
	dim     int
	vectors [][]float32
}

// NewFlatL2 returns an empty index.
func NewFlatL2() *FlatL2 {
	return &FlatL2{}
}

// FlatFactory is a Factory producing FlatL2 indexes.
func FlatFactory(context.Context, string) (Index, error) {
	return NewFlatL2(), nil
}

// Add implements Index.
func (f *FlatL2) Add(_ context.Context, vec []float32) (int, error) {
	if err := f.check(vec); err != nil {
		return 0, err
	}
	if f.dim == 0 {
		f.dim = len(vec)
	}
	f.vectors = append(f.vectors, append([]float32(nil), vec...))
	return len(f.vectors) - 1, nil
}

// Search implements Index. Ties are broken by lower position.
func (f *FlatL2) Search(_ context.Context, vec []float32, k int) ([]Neighbor, error) {
	if err := f.check(vec); err != nil {
		return nil, err
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}

	all := make([]Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		all[i] = Neighbor{Position: i, Distance: squaredL2(vec, v)}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Distance < all[j].Distance
	})
	if k > len(all) {
		k = len(all)
	}
	return all[:k], nil
}

// Len implements Index.
func (f *FlatL2) Len() int {
	return len(f.vectors)
}

// Truncate implements Index.
func (f *FlatL2) Truncate(_ context.Context, n int) error {
	if n < 0 || n > len(f.vectors) {
		return fmt.Errorf("%w: %d > %d", ErrTruncateRange, n, len(f.vectors))
	}
	for i := n; i < len(f.vectors); i++ {
		f.vectors[i] = nil
	}
	f.vectors = f.vectors[:n]
	if n == 0 {
		f.dim = 0
	}
	return nil
}

func (f *FlatL2) check(vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if f.dim != 0 && len(vec) != f.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), f.dim)
	}
	return nil
}
