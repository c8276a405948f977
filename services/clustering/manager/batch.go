// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/soltree"
)

// BatchFailure records one submission that was not fully accepted.
type BatchFailure struct {
	AssignmentID string `json:"assignment_id"`
	UID          string `json:"solution_uid"`
	ErrorCode    string `json:"error_code"`
	Error        string `json:"error"`
}

// BatchReport summarizes IngestBatch.
type BatchReport struct {
	Accepted int            `json:"accepted"`
	Failed   int            `json:"failed"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// IngestBatch adds many submissions.
//
// Description:
//
//	Submissions of one assignment are ingested in input order. Different
//	assignments run concurrently, at most Config.IngestConcurrency at a
//	time. A failed submission is logged and recorded; the batch continues.
//	Cancelling ctx stops ingestion of the remaining submissions.
//
// Outputs:
//
//	BatchReport - Accepted and failed counts.
//	error - ctx.Err() if the batch was cancelled.
func (m *Manager) IngestBatch(ctx context.Context, subs []Submission) (BatchReport, error) {
	var order []string
	groups := make(map[string][]Submission)
	for _, s := range subs {
		if _, ok := groups[s.AssignmentID]; !ok {
			order = append(order, s.AssignmentID)
		}
		groups[s.AssignmentID] = append(groups[s.AssignmentID], s)
	}

	var (
		mu     sync.Mutex
		report BatchReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.IngestConcurrency)
	for _, id := range order {
		group := groups[id]
		g.Go(func() error {
			for _, s := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				_, err := m.AddSolution(gctx, s)
				mu.Lock()
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, BatchFailure{
						AssignmentID: s.AssignmentID,
						UID:          s.UID,
						ErrorCode:    ErrorCode(err),
						Error:        err.Error(),
					})
				} else {
					report.Accepted++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	m.deps.Logger.Info("batch ingested",
		"submissions", len(subs),
		"assignments", len(order),
		"accepted", report.Accepted,
		"failed", report.Failed)
	return report, err
}

// ErrorCode is the stable code reported for err in batch reports and API
// responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEmptySolution):
		return "empty_solution"
	case errors.Is(err, ErrMissingAssignment):
		return "missing_assignment"
	case errors.Is(err, ErrInvalidSubmission):
		return "invalid_submission"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, soltree.ErrDescentLimit):
		return "descent_limit"
	}
	return collab.Kind(err)
}
