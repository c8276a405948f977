// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/solgraph/services/clustering/events"
	"github.com/AleutianAI/solgraph/services/clustering/handlers"
	"github.com/AleutianAI/solgraph/services/clustering/middleware"
)

// Options carries what the routes need besides the registry.
type Options struct {
	Events      *events.Bus
	EventBuffer int
	Metrics     http.Handler
	// APIToken, when set, is required on every /v1 route.
	APIToken    string
	Logger      *slog.Logger
}

func SetupRoutes(router *gin.Engine, reg handlers.Registry, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.GET("/health", handlers.HealthCheck)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1", middleware.TokenAuth(opts.APIToken))
	{
		assignments := v1.Group("/assignments")
		{
			assignments.GET("", handlers.HandleListAssignments(reg))
			assignments.POST("/:assignmentId/solutions", handlers.HandleAddSolution(reg, logger))
			assignments.GET("/:assignmentId/graph", handlers.HandleGetGraph(reg))
			assignments.GET("/:assignmentId/tree", handlers.HandleGetTree(reg))
		}
		if opts.Events != nil {
			v1.GET("/events/ws", handlers.HandleEventsWebSocket(opts.Events, opts.EventBuffer, logger))
		}
	}
}
