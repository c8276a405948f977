// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for identifiers
// that end up in index namespaces, URL paths and log lines.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// assignmentPattern matches valid assignment ids.
// Allows: letters, digits, dots, underscores, hyphens
// Max length: 128 characters
var assignmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// MaxSolutionUIDLength bounds solution uids.
const MaxSolutionUIDLength = 256

// ValidateAssignmentID validates an assignment id. Assignment ids prefix the
// vector index namespaces ("<id>/steps"), so separators and whitespace are
// rejected.
//
// Example:
//
//	if err := validation.ValidateAssignmentID("hw-3.2"); err != nil {
//	    return err
//	}
func ValidateAssignmentID(id string) error {
	if id == "" {
		return fmt.Errorf("assignment id cannot be empty")
	}
	if !assignmentPattern.MatchString(id) {
		return fmt.Errorf("invalid assignment id: %q (must be 1-128 letters, digits, dots, underscores or hyphens)", id)
	}
	return nil
}

// ValidateSolutionUID validates a solution uid. Uids are opaque, but must be
// printable and bounded.
func ValidateSolutionUID(uid string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("solution uid cannot be empty")
	}
	if len(uid) > MaxSolutionUIDLength {
		return fmt.Errorf("solution uid exceeds %d bytes", MaxSolutionUIDLength)
	}
	for _, r := range uid {
		if unicode.IsControl(r) {
			return fmt.Errorf("solution uid contains control character %U", r)
		}
	}
	return nil
}
