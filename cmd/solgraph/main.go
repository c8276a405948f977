// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command solgraph clusters student solutions into step graphs and
// solution trees.
//
// Usage:
//
//	solgraph serve --config solgraph.yaml
//	solgraph ingest submissions.jsonl > structures.jsonl
//
// Example requests:
//
//	# Submit a solution
//	curl -X POST http://localhost:8080/v1/assignments/hw1/solutions \
//	  -H "Content-Type: application/json" \
//	  -d '{"solution_uid": "s1", "solution_text": "...", "is_correct": true}'
//
//	# Render the step graph
//	curl http://localhost:8080/v1/assignments/hw1/graph | jq
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/solgraph/pkg/logging"
	"github.com/AleutianAI/solgraph/services/clustering/config"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "solgraph",
		Short: "Cluster student solutions into step graphs and solution trees",
		Long: `solgraph splits solutions into steps, merges equivalent steps with an
LLM judge and vector search, and renders each assignment as a condensed step
graph and a shared-prefix solution tree.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(serveCmd, ingestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	format := logging.FormatAuto
	if cfg.Logging.JSON {
		format = logging.FormatJSON
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "solgraph",
		Format:  format,
	})
	return cfg, logger, nil
}
