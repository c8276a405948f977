// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/render"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE.jsonl",
	Short: "Ingest submissions from a JSON Lines file and print every structure",
	Long: `Reads one submission per line:

  {"assignment_id": "hw1", "solution_uid": "s1", "solution_text": "...",
   "problem_text": "...", "final_answer": "4", "correct_answer": "4"}

and writes one line per assignment with its graph and tree to stdout.
Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

// assignmentOutput is one line of ingest output.
type assignmentOutput struct {
	AssignmentID string            `json:"assignment_id"`
	Graph        *render.Structure `json:"graph,omitempty"`
	Tree         *render.Structure `json:"tree,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	in := io.Reader(os.Stdin)
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	subs, err := readSubmissions(in)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, prometheus.NewRegistry(), log)
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.manager.IngestBatch(ctx, subs)
	for _, f := range report.Failures {
		log.Warn("submission not ingested",
			"assignment_id", f.AssignmentID,
			"submission_uid", f.UID,
			"error_code", f.ErrorCode)
	}
	if err != nil {
		return err
	}
	if err := writeStructures(cmd.OutOrStdout(), eng.manager); err != nil {
		return err
	}
	log.Info("ingest complete", "accepted", report.Accepted, "failed", report.Failed)
	return nil
}

// readSubmissions parses JSON Lines. Blank lines are skipped.
func readSubmissions(r io.Reader) ([]manager.Submission, error) {
	var out []manager.Submission
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var s manager.Submission
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s.AssignmentID == "" || s.UID == "" {
			return nil, fmt.Errorf("line %d: assignment_id and solution_uid are required", line)
		}
		out = append(out, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// writeStructures prints every assignment, omitting structures that were
// never initialized.
func writeStructures(w io.Writer, m *manager.Manager) error {
	enc := json.NewEncoder(w)
	for _, info := range m.Assignments() {
		out := assignmentOutput{AssignmentID: info.ID}
		g, err := m.GenerateGraph(info.ID)
		if err != nil && !errors.Is(err, manager.ErrNotInitialized) {
			return err
		}
		out.Graph = g
		t, err := m.GenerateTree(info.ID)
		if err != nil && !errors.Is(err, manager.ErrNotInitialized) {
			return err
		}
		out.Tree = t
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
