// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/solgraph/services/llm"
)

const (
	fallbackChunkSize    = 600
	fallbackChunkOverlap = 0
)

var fallbackSeparators = []string{"\n\n", "\n", ". "}

// LLMCollaborators implements the text collaborators on top of a chat model.
//
// # Description
//
// One chat client serves the splitter, summarizer, best-match, shared-prefix
// and both judges. Every prompt is parameterized by the subject domain.
//
// # Thread Safety
//
// Safe for concurrent use if the underlying client is.
type LLMCollaborators struct {
	client llm.LLMClient
	domain string
	logger *slog.Logger
}

// NewLLMCollaborators wraps client. An empty domain defaults to "math".
func NewLLMCollaborators(client llm.LLMClient, domain string, logger *slog.Logger) *LLMCollaborators {
	if domain == "" {
		domain = DefaultSubjectDomain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMCollaborators{client: client, domain: domain, logger: logger}
}

// Domain reports the subject domain used in prompts.
func (c *LLMCollaborators) Domain() string { return c.domain }

func deterministic() llm.GenerationParams {
	t := float32(0)
	return llm.GenerationParams{Temperature: &t}
}

// =============================================================================
// Splitter and Summarizer
// =============================================================================

// SplitSteps implements StepSplitter.
func (c *LLMCollaborators) SplitSteps(ctx context.Context, problemText, solutionText string) ([]string, error) {
	resp, err := c.client.Generate(ctx, breakdownPrompt(problemText, solutionText), deterministic())
	if err != nil {
		return nil, Wrap(ErrSplit, err)
	}
	steps := ParseSteps(resp)
	if len(steps) == 0 {
		return nil, Wrap(ErrSplit, errors.New("breakdown produced no steps"))
	}
	c.logger.Debug("solution split", "steps", len(steps))
	return steps, nil
}

// ParseSteps extracts step texts from a breakdown response.
//
// Text before the first marker is preamble and is dropped. When the response
// carries no markers at all it is chunked on paragraph boundaries instead.
func ParseSteps(response string) []string {
	var steps []string
	if strings.Contains(response, StepMarker) {
		parts := strings.Split(response, StepMarker)
		for _, p := range parts[1:] {
			if s := strings.TrimSpace(strings.TrimLeft(p, "#")); s != "" {
				steps = append(steps, s)
			}
		}
		return steps
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(fallbackChunkSize),
		textsplitter.WithChunkOverlap(fallbackChunkOverlap),
		textsplitter.WithSeparators(fallbackSeparators),
	)
	chunks, err := splitter.SplitText(response)
	if err != nil {
		return nil
	}
	for _, ch := range chunks {
		if s := strings.TrimSpace(ch); s != "" {
			steps = append(steps, s)
		}
	}
	return steps
}

// Summarize implements Summarizer.
func (c *LLMCollaborators) Summarize(ctx context.Context, stepText string) (string, error) {
	resp, err := c.client.Generate(ctx, summaryPrompt(c.domain, stepText), deterministic())
	if err != nil {
		return "", Wrap(ErrSummarize, err)
	}
	summary := strings.TrimSpace(resp)
	if summary == "" {
		return "", Wrap(ErrSummarize, errors.New("empty summary"))
	}
	return summary, nil
}

// =============================================================================
// Judges
// =============================================================================

type llmJudge struct {
	c      *LLMCollaborators
	prompt func(domain, a, b string) []llm.Message
}

// StepJudge returns the judge used by the step oracle.
func (c *LLMCollaborators) StepJudge() Judge {
	return &llmJudge{c: c, prompt: stepVerificationPrompt}
}

// SolutionJudge returns the stricter judge used for whole-solution dedup.
func (c *LLMCollaborators) SolutionJudge() Judge {
	return &llmJudge{c: c, prompt: solutionDedupPrompt}
}

func (j *llmJudge) Equivalent(ctx context.Context, a, b string) (bool, error) {
	resp, err := j.c.client.Generate(ctx, j.prompt(j.c.domain, a, b), deterministic())
	if err != nil {
		return false, Wrap(ErrOracle, err)
	}
	return ParseYesNo(resp)
}

// ParseYesNo reads a yes/no verdict from the first letter of the answer.
func ParseYesNo(response string) (bool, error) {
	s := strings.TrimLeft(strings.TrimSpace(response), "\"'*`")
	if s == "" {
		return false, Wrap(ErrOracle, errors.New("empty verdict"))
	}
	switch s[0] {
	case 'Y', 'y':
		return true, nil
	case 'N', 'n':
		return false, nil
	default:
		return false, Wrap(ErrOracle, fmt.Errorf("unrecognized verdict %q", response))
	}
}

// =============================================================================
// Tree Collaborators
// =============================================================================

// BestMatch implements BestMatcher.
func (c *LLMCollaborators) BestMatch(ctx context.Context, remaining string, candidates []string) (int, bool, error) {
	resp, err := c.client.Generate(ctx, bestMatchPrompt(c.domain, remaining, candidates), deterministic())
	if err != nil {
		return 0, false, Wrap(ErrBestMatch, err)
	}
	return ParseBestMatch(resp)
}

// ParseBestMatch accepts "none" or a candidate number, optionally bracketed.
func ParseBestMatch(response string) (int, bool, error) {
	s := strings.ToLower(strings.TrimSpace(response))
	s = strings.Trim(s, "[]().\"'`* ")
	if s == "" {
		return 0, false, Wrap(ErrBestMatchParse, errors.New("empty selection"))
	}
	if strings.HasPrefix(s, "none") {
		return 0, false, nil
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		s = strings.Trim(fields[0], "[]().,:")
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, false, Wrap(ErrBestMatchParse, fmt.Errorf("selection %q: %w", response, err))
	}
	return idx, true, nil
}

// SharedPrefix implements PrefixSplitter.
func (c *LLMCollaborators) SharedPrefix(ctx context.Context, a, b string) (Prefix, error) {
	resp, err := c.client.Generate(ctx, sharedPrefixPrompt(c.domain, a, b), deterministic())
	if err != nil {
		return Prefix{}, Wrap(ErrSharedPrefix, err)
	}
	return ParsePrefix(resp)
}

// ParsePrefix decodes the JSON object of a shared-prefix response. Code
// fences and surrounding prose are tolerated.
func ParsePrefix(response string) (Prefix, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end < start {
		return Prefix{}, Wrap(ErrSharedPrefix, fmt.Errorf("no JSON object in %q", response))
	}
	var p Prefix
	if err := json.Unmarshal([]byte(response[start:end+1]), &p); err != nil {
		return Prefix{}, Wrap(ErrSharedPrefix, err)
	}
	p.Shared = strings.TrimSpace(p.Shared)
	p.UnsharedA = strings.TrimSpace(p.UnsharedA)
	p.UnsharedB = strings.TrimSpace(p.UnsharedB)
	return p, nil
}
