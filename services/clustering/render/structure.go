// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render holds the serialized form shared by the solution graph and
// the solution tree.
package render

import (
	"encoding/json"
	"fmt"
)

// Edge is a directed edge, serialized as a two-element array [from, to].
type Edge struct {
	From int
	To   int
}

// MarshalJSON encodes the edge as [from, to].
func (e Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{e.From, e.To})
}

// UnmarshalJSON decodes [from, to].
func (e *Edge) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("edge must have 2 elements, got %d", len(pair))
	}
	e.From, e.To = pair[0], pair[1]
	return nil
}

// Submission is one accepted submission and the node ids on its path.
type Submission struct {
	UID   string `json:"submission_uid"`
	Nodes []int  `json:"submission_nodes"`
}

// Structure is the visualization payload.
//
// StepSummary and StepIsCorrect are parallel arrays indexed by node id.
type Structure struct {
	Graph         []Edge       `json:"graph"`
	StepSummary   []string     `json:"step_summary"`
	StepIsCorrect []bool       `json:"step_is_correct"`
	Submissions   []Submission `json:"submissions"`
}

// NodeCount reports the number of nodes described.
func (s *Structure) NodeCount() int {
	return len(s.StepSummary)
}
