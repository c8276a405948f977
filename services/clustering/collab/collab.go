// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collab defines the external collaborators of the clustering engine.
//
// # Description
//
// Every semantic decision the engine makes is delegated to a collaborator:
// embedding, equivalence judgement, step splitting, summarizing, best-match
// selection and shared-prefix extraction. The engine treats each one as a
// black box that may fail. Retries belong to the implementation (see
// services/llm.RetryingClient); the engine never retries and aborts the
// enclosing submission on the first error.
//
// # Error Taxonomy
//
// Failures are reported as one of the sentinel kinds below, wrapped with the
// underlying cause. Use errors.Is to classify:
//
//	if errors.Is(err, collab.ErrEmbed) { ... }
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; distinct assignments call
// them in parallel.
package collab

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrEmbed is returned when a text could not be embedded.
	ErrEmbed = errors.New("embed failure")

	// ErrOracle is returned when an equivalence judgement could not be obtained.
	ErrOracle = errors.New("oracle failure")

	// ErrSplit is returned when a solution could not be split into steps,
	// including when the splitter produced no steps at all.
	ErrSplit = errors.New("split failure")

	// ErrSummarize is returned when a step summary could not be produced.
	ErrSummarize = errors.New("summarize failure")

	// ErrBestMatch is returned when a best-match selection could not be
	// obtained at all.
	ErrBestMatch = errors.New("best-match failure")

	// ErrBestMatchParse is returned when a best-match response is malformed.
	ErrBestMatchParse = errors.New("best-match parse failure")

	// ErrInvalidIndex is returned when a best-match selection is out of range.
	ErrInvalidIndex = errors.New("invalid index failure")

	// ErrSharedPrefix is returned when a shared-prefix split could not be obtained.
	ErrSharedPrefix = errors.New("shared-prefix failure")
)

// Wrap tags cause with a failure kind. A cause already tagged with the same
// kind is returned unchanged.
func Wrap(kind error, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Kind returns a stable short code for err, suitable for metrics labels and
// API error codes. Unknown errors map to "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEmbed):
		return "embed_failure"
	case errors.Is(err, ErrOracle):
		return "oracle_failure"
	case errors.Is(err, ErrSplit):
		return "split_failure"
	case errors.Is(err, ErrSummarize):
		return "summarize_failure"
	case errors.Is(err, ErrBestMatchParse):
		return "best_match_parse_failure"
	case errors.Is(err, ErrInvalidIndex):
		return "invalid_index_failure"
	case errors.Is(err, ErrBestMatch):
		return "best_match_failure"
	case errors.Is(err, ErrSharedPrefix):
		return "shared_prefix_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// =============================================================================
// Contracts
// =============================================================================

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Judge decides whether two texts express the same idea.
//
// The step oracle and the whole-solution dedup use different judges; the
// latter asks a much stricter question.
type Judge interface {
	Equivalent(ctx context.Context, a, b string) (bool, error)
}

// StepSplitter decomposes a solution into an ordered list of step texts.
type StepSplitter interface {
	SplitSteps(ctx context.Context, problemText, solutionText string) ([]string, error)
}

// Summarizer produces a short summary of one step.
type Summarizer interface {
	Summarize(ctx context.Context, stepText string) (string, error)
}

// BestMatcher picks the candidate summary that best continues remaining.
//
// ok is false when no candidate matches. A returned index is not range
// checked by implementations; callers validate it against candidates.
type BestMatcher interface {
	BestMatch(ctx context.Context, remaining string, candidates []string) (index int, ok bool, err error)
}

// Prefix is the result of a shared-prefix split of texts A and B.
type Prefix struct {
	Shared    string `json:"shared"`
	UnsharedA string `json:"unshared_a"`
	UnsharedB string `json:"unshared_b"`
}

// PrefixSplitter extracts the common leading portion of two solution texts.
type PrefixSplitter interface {
	SharedPrefix(ctx context.Context, a, b string) (Prefix, error)
}

// GraphCollaborators is the set the graph builder needs.
type GraphCollaborators struct {
	Embedder      Embedder
	StepJudge     Judge
	SolutionJudge Judge
	Splitter      StepSplitter
	Summarizer    Summarizer
}

// TreeCollaborators is the set the tree builder needs.
type TreeCollaborators struct {
	Matcher  BestMatcher
	Prefixer PrefixSplitter
}
