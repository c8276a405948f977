// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collabtest provides scripted collaborators for tests.
//
// Every fake is deterministic: the same input always yields the same output,
// so builder tests can assert exact structures.
package collabtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
)

// ErrScripted is the cause injected by failing fakes.
var ErrScripted = errors.New("scripted failure")

// =============================================================================
// Embedder
// =============================================================================

// Embedder returns fixed vectors for known texts and a hash-derived vector
// otherwise. Identical texts always embed identically; distinct unknown texts
// land far apart.
type Embedder struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	FailOn  map[string]bool
	calls   int
}

// NewEmbedder returns an Embedder with empty scripts.
func NewEmbedder() *Embedder {
	return &Embedder{Vectors: map[string][]float32{}, FailOn: map[string]bool{}}
}

// Embed implements collab.Embedder.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.FailOn[text] {
		return nil, ErrScripted
	}
	if v, ok := e.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return HashVector(text), nil
}

// Calls reports how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// HashVector derives a 4-dimensional vector from text with components in
// [0, 1000).
func HashVector(text string) []float32 {
	out := make([]float32, 4)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float32(h.Sum32() % 1000)
	}
	return out
}

// =============================================================================
// Function Adapters
// =============================================================================

// JudgeFunc adapts a function to collab.Judge.
type JudgeFunc func(a, b string) (bool, error)

func (f JudgeFunc) Equivalent(_ context.Context, a, b string) (bool, error) { return f(a, b) }

// Always answers every equivalence question with v.
func Always(v bool) JudgeFunc {
	return func(string, string) (bool, error) { return v, nil }
}

// SameText answers yes only for identical texts.
func SameText() JudgeFunc {
	return func(a, b string) (bool, error) { return a == b, nil }
}

// FailingJudge always fails.
func FailingJudge() JudgeFunc {
	return func(string, string) (bool, error) { return false, ErrScripted }
}

// SplitterFunc adapts a function to collab.StepSplitter.
type SplitterFunc func(problem, text string) ([]string, error)

func (f SplitterFunc) SplitSteps(_ context.Context, problem, text string) ([]string, error) {
	return f(problem, text)
}

// LineSplitter returns each non-blank line of the solution as a step.
func LineSplitter() SplitterFunc {
	return func(_, text string) ([]string, error) {
		var steps []string
		for _, line := range strings.Split(text, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				steps = append(steps, s)
			}
		}
		return steps, nil
	}
}

// SummarizerFunc adapts a function to collab.Summarizer.
type SummarizerFunc func(step string) (string, error)

func (f SummarizerFunc) Summarize(_ context.Context, step string) (string, error) { return f(step) }

// Echo summarizes a step as itself.
func Echo() SummarizerFunc {
	return func(step string) (string, error) { return step, nil }
}

// MatcherFunc adapts a function to collab.BestMatcher.
type MatcherFunc func(remaining string, candidates []string) (int, bool, error)

func (f MatcherFunc) BestMatch(_ context.Context, remaining string, candidates []string) (int, bool, error) {
	return f(remaining, candidates)
}

// NoMatch answers "none" to every best-match question.
func NoMatch() MatcherFunc {
	return func(string, []string) (int, bool, error) { return 0, false, nil }
}

// FirstWordMatcher picks the first candidate whose leading word equals the
// leading word of remaining.
func FirstWordMatcher() MatcherFunc {
	return func(remaining string, candidates []string) (int, bool, error) {
		head := firstWord(remaining)
		for i, c := range candidates {
			if head != "" && firstWord(c) == head {
				return i, true, nil
			}
		}
		return 0, false, nil
	}
}

// PrefixFunc adapts a function to collab.PrefixSplitter.
type PrefixFunc func(a, b string) (collab.Prefix, error)

func (f PrefixFunc) SharedPrefix(_ context.Context, a, b string) (collab.Prefix, error) { return f(a, b) }

// FixedPrefix always returns p.
func FixedPrefix(p collab.Prefix) PrefixFunc {
	return func(string, string) (collab.Prefix, error) { return p, nil }
}

// WordPrefix splits two texts at their longest common run of leading words.
func WordPrefix() PrefixFunc {
	return func(a, b string) (collab.Prefix, error) {
		wa, wb := strings.Fields(a), strings.Fields(b)
		n := 0
		for n < len(wa) && n < len(wb) && wa[n] == wb[n] {
			n++
		}
		return collab.Prefix{
			Shared:    strings.Join(wa[:n], " "),
			UnsharedA: strings.Join(wa[n:], " "),
			UnsharedB: strings.Join(wb[n:], " "),
		}, nil
	}
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
