// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP API of the clustering service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/render"
	"github.com/AleutianAI/solgraph/services/clustering/telemetry"
)

// Registry is the part of manager.Manager the handlers use.
type Registry interface {
	AddSolution(ctx context.Context, sub manager.Submission) (manager.Result, error)
	GenerateGraph(assignmentID string) (*render.Structure, error)
	GenerateTree(assignmentID string) (*render.Structure, error)
	Assignments() []manager.AssignmentInfo
}

// AddSolutionRequest is the body of POST /v1/assignments/:assignmentId/solutions.
type AddSolutionRequest struct {
	SolutionUID   string `json:"solution_uid" binding:"required"`
	SolutionText  string `json:"solution_text"`
	ProblemText   string `json:"problem_text"`
	IsCorrect     bool   `json:"is_correct"`
	FinalAnswer   string `json:"final_answer"`
	CorrectAnswer string `json:"correct_answer"`
}

// AddSolutionResponse reports per-structure acceptance.
type AddSolutionResponse struct {
	Status        string `json:"status"`
	GraphAccepted bool   `json:"graph_accepted"`
	TreeAccepted  bool   `json:"tree_accepted"`
	ErrorCode     string `json:"error_code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAddSolution ingests one submission into both structures.
//
// # Responses
//
//   - 200: accepted by both structures.
//   - 400: malformed body or blank solution text.
//   - 422: a collaborator failed; error_code names the failure kind.
//   - 500: the assignment could not be created.
func HandleAddSolution(reg Registry, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddSolutionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "error_code": "invalid_request"})
			return
		}

		ctx := c.Request.Context()
		res, err := reg.AddSolution(ctx, manager.Submission{
			AssignmentID:   c.Param("assignmentId"),
			UID:            req.SolutionUID,
			Text:           req.SolutionText,
			ProblemText:    req.ProblemText,
			Correct:        req.IsCorrect,
			FinalAnswer:    req.FinalAnswer,
			ExpectedAnswer: req.CorrectAnswer,
		})
		if err == nil {
			c.JSON(http.StatusOK, AddSolutionResponse{
				Status:        "accepted",
				GraphAccepted: res.GraphAccepted,
				TreeAccepted:  res.TreeAccepted,
			})
			return
		}

		code := manager.ErrorCode(err)
		resp := AddSolutionResponse{
			Status:        "rejected",
			GraphAccepted: res.GraphAccepted,
			TreeAccepted:  res.TreeAccepted,
			ErrorCode:     code,
			Error:         err.Error(),
		}
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, manager.ErrEmptySolution), errors.Is(err, manager.ErrMissingAssignment),
			errors.Is(err, manager.ErrInvalidSubmission):
			status = http.StatusBadRequest
		case code == "cancelled":
			status = http.StatusServiceUnavailable
		case code == "internal":
			status = http.StatusInternalServerError
		}
		telemetry.LoggerWithTrace(ctx, logger).Warn("add solution failed",
			"assignment_id", c.Param("assignmentId"),
			"submission_uid", req.SolutionUID,
			"error_code", code,
			"status", status)
		c.JSON(status, resp)
	}
}

// HandleGetGraph renders the step graph of an assignment.
func HandleGetGraph(reg Registry) gin.HandlerFunc {
	return structureHandler(reg.GenerateGraph)
}

// HandleGetTree renders the solution tree of an assignment.
func HandleGetTree(reg Registry) gin.HandlerFunc {
	return structureHandler(reg.GenerateTree)
}

func structureHandler(generate func(string) (*render.Structure, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := generate(c.Param("assignmentId"))
		if errors.Is(err, manager.ErrNotInitialized) {
			c.JSON(http.StatusNotFound, gin.H{"status": "not_initialized"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// HandleListAssignments lists registered assignments.
func HandleListAssignments(reg Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"assignments": reg.Assignments()})
	}
}
