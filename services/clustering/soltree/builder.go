// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package soltree builds the strict prefix tree of an assignment.
//
// # Description
//
// Each node holds only the part of a solution unique to it; the text of a
// root-to-node path is the concatenation of its summaries. A submission is
// inserted by repeatedly asking which child the remaining text continues,
// splitting that child at the shared prefix when the two diverge inside it.
//
// Nodes live in an arena. A node's creation index is its arena index and its
// rendered id; the root is index 0.
//
// # Atomicity
//
// Structural changes are journaled during an insertion. If a collaborator
// fails partway through, the journal is replayed in reverse and the tree is
// exactly as it was before the call.
//
// # Thread Safety
//
// Not safe for concurrent use. The manager serializes calls per assignment.
package soltree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
	"github.com/AleutianAI/solgraph/services/clustering/render"
)

var tracer = otel.Tracer("solgraph.tree")

// RootLabel is the summary rendered for the root.
const RootLabel = "Start of solution"

// RootNode is the root's creation index.
const RootNode = 0

// maxDescent bounds the loop iterations of one insertion.
const maxDescent = 256

var (
	// ErrEmptySolution is returned for blank solution text.
	ErrEmptySolution = errors.New("empty solution text")

	// ErrDescentLimit is returned when an insertion does not converge.
	ErrDescentLimit = errors.New("tree descent did not terminate")
)

type node struct {
	summary   string
	children  []int
	correct   bool
	terminals []string
}

// Deps are the builder's collaborators.
type Deps struct {
	Collab  collab.TreeCollaborators
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Builder accumulates submissions into one prefix tree.
type Builder struct {
	deps  Deps
	nodes []node

	uids       []string
	terminalOf map[string]int
}

// New creates a tree holding only the root.
func New(deps Deps) *Builder {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Builder{
		deps:       deps,
		nodes:      []node{{summary: RootLabel}},
		terminalOf: make(map[string]int),
	}
}

// =============================================================================
// Journal
// =============================================================================

// journal records undo actions for one insertion.
type journal struct {
	undo   []func()
	splits int
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// appendChild adds a leaf under parent and returns its index.
func (b *Builder) appendChild(j *journal, parent int, summary string) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{summary: summary})
	b.nodes[parent].children = append(b.nodes[parent].children, idx)
	j.undo = append(j.undo, func() {
		p := &b.nodes[parent]
		p.children = p.children[:len(p.children)-1]
		b.nodes = b.nodes[:idx]
	})
	return idx
}

// split inserts an intermediate node holding shared between parent and the
// child at slot. The child keeps only rest.
func (b *Builder) split(j *journal, parent, slot int, shared, rest string) int {
	child := b.nodes[parent].children[slot]
	oldSummary := b.nodes[child].summary

	mid := len(b.nodes)
	b.nodes = append(b.nodes, node{
		summary:  shared,
		children: []int{child},
		correct:  b.nodes[child].correct,
	})
	b.nodes[parent].children[slot] = mid
	b.nodes[child].summary = rest
	j.splits++

	j.undo = append(j.undo, func() {
		b.nodes[child].summary = oldSummary
		b.nodes[parent].children[slot] = child
		b.nodes = b.nodes[:mid]
	})
	return mid
}

// =============================================================================
// Insertion
// =============================================================================

// AddSolution inserts one submission.
//
// # Description
//
// Starting at the root with the full text as remaining:
//  1. A childless node gets a new leaf holding remaining.
//  2. Otherwise the best-match collaborator picks a child or none; none
//     appends a new sibling leaf.
//  3. The shared-prefix collaborator splits the matched child's summary
//     against remaining. An empty shared part is treated as none.
//  4. If the child has an unshared remainder it is split and descent
//     continues into the new intermediate node.
//  5. Otherwise the child is fully contained and descent continues into it.
//
// Descent stops when a leaf is created or remaining is empty. The final node
// records uid; if correct, it and every node on the path are marked correct.
//
// # Outputs
//
//   - bool: True if the submission was accepted.
//   - error: collab.ErrBestMatch, collab.ErrBestMatchParse,
//     collab.ErrInvalidIndex, collab.ErrSharedPrefix or ErrDescentLimit.
//     The tree is unchanged on error.
func (b *Builder) AddSolution(ctx context.Context, uid, text string, correct bool) (bool, error) {
	ctx, span := tracer.Start(ctx, "soltree.AddSolution")
	defer span.End()
	span.SetAttributes(attribute.String("submission_uid", uid))

	if strings.TrimSpace(text) == "" {
		return false, ErrEmptySolution
	}

	j := &journal{}
	path, err := b.descend(ctx, j, strings.TrimSpace(text))
	if err != nil {
		j.rollback()
		span.RecordError(err)
		span.SetStatus(codes.Error, collab.Kind(err))
		b.deps.Logger.Warn("tree insertion rolled back",
			"submission_uid", uid,
			"error", err)
		return false, err
	}

	terminal := path[len(path)-1]
	b.record(uid, terminal)
	if correct {
		b.propagateCorrect(path)
	}
	for i := 0; i < j.splits; i++ {
		b.deps.Metrics.TreeSplit()
	}
	b.deps.Logger.Debug("solution inserted into tree",
		"submission_uid", uid,
		"terminal", terminal,
		"depth", len(path)-1,
		"splits", j.splits)
	return true, nil
}

// descend runs the insertion loop and returns the visited nodes from the
// root to the terminal.
func (b *Builder) descend(ctx context.Context, j *journal, remaining string) ([]int, error) {
	current := RootNode
	path := []int{RootNode}

	for iter := 0; ; iter++ {
		if iter >= maxDescent {
			return nil, fmt.Errorf("%w after %d iterations", ErrDescentLimit, iter)
		}
		if remaining == "" {
			return path, nil
		}

		children := b.nodes[current].children
		if len(children) == 0 {
			leaf := b.appendChild(j, current, remaining)
			return append(path, leaf), nil
		}

		candidates := make([]string, len(children))
		for i, c := range children {
			candidates[i] = b.nodes[c].summary
		}
		slot, ok, err := b.deps.Collab.Matcher.BestMatch(ctx, remaining, candidates)
		if err != nil {
			if errors.Is(err, collab.ErrBestMatchParse) || errors.Is(err, collab.ErrInvalidIndex) {
				return nil, err
			}
			return nil, collab.Wrap(collab.ErrBestMatch, err)
		}
		if !ok {
			leaf := b.appendChild(j, current, remaining)
			return append(path, leaf), nil
		}
		if slot < 0 || slot >= len(children) {
			return nil, collab.Wrap(collab.ErrInvalidIndex,
				fmt.Errorf("selection %d outside %d candidates", slot, len(children)))
		}

		matched := children[slot]
		prefix, err := b.deps.Collab.Prefixer.SharedPrefix(ctx, b.nodes[matched].summary, remaining)
		if err != nil {
			return nil, collab.Wrap(collab.ErrSharedPrefix, err)
		}
		shared := strings.TrimSpace(prefix.Shared)
		fromChild := strings.TrimSpace(prefix.UnsharedA)
		fromNew := strings.TrimSpace(prefix.UnsharedB)

		switch {
		case shared == "":
			leaf := b.appendChild(j, current, remaining)
			return append(path, leaf), nil
		case fromChild != "":
			current = b.split(j, current, slot, shared, fromChild)
		default:
			current = matched
		}
		path = append(path, current)
		remaining = fromNew
	}
}

// record makes terminal the end node of uid, moving a resubmitted uid.
func (b *Builder) record(uid string, terminal int) {
	if old, seen := b.terminalOf[uid]; seen {
		t := b.nodes[old].terminals
		for i, u := range t {
			if u == uid {
				b.nodes[old].terminals = append(t[:i:i], t[i+1:]...)
				break
			}
		}
	} else {
		b.uids = append(b.uids, uid)
	}
	b.terminalOf[uid] = terminal
	b.nodes[terminal].terminals = append(b.nodes[terminal].terminals, uid)
}

// propagateCorrect marks the terminal correct and recomputes every visited
// ancestor as the OR of its children, walking back to the root.
func (b *Builder) propagateCorrect(path []int) {
	b.nodes[path[len(path)-1]].correct = true
	for i := len(path) - 2; i >= 0; i-- {
		n := &b.nodes[path[i]]
		for _, c := range n.children {
			if b.nodes[c].correct {
				n.correct = true
				break
			}
		}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// NodeCount reports the number of nodes including the root.
func (b *Builder) NodeCount() int { return len(b.nodes) }

// SubmissionCount reports the number of registered uids.
func (b *Builder) SubmissionCount() int { return len(b.uids) }

// Children returns the child indices of node idx in order.
func (b *Builder) Children(idx int) []int {
	return append([]int(nil), b.nodes[idx].children...)
}

// Summary returns the summary of node idx.
func (b *Builder) Summary(idx int) string { return b.nodes[idx].summary }

// Correct reports the correctness flag of node idx.
func (b *Builder) Correct(idx int) bool { return b.nodes[idx].correct }

// =============================================================================
// Rendering
// =============================================================================

// GenerateTree renders the tree.
//
// # Outputs
//
//   - *render.Structure: Parent-to-child edges in depth-first order,
//     summaries and correctness by creation index, and per-uid paths.
//   - bool: False if no submission has been accepted yet.
func (b *Builder) GenerateTree() (*render.Structure, bool) {
	if len(b.uids) == 0 {
		return nil, false
	}

	edges := make([]render.Edge, 0, len(b.nodes)-1)
	paths := make(map[string][]int, len(b.uids))

	type frame struct {
		node  int
		child int
	}
	trail := []int{RootNode}
	stack := []frame{{node: RootNode}}
	b.collectTerminals(RootNode, trail, paths)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := b.nodes[top.node].children
		if top.child >= len(children) {
			stack = stack[:len(stack)-1]
			trail = trail[:len(trail)-1]
			continue
		}
		next := children[top.child]
		top.child++
		edges = append(edges, render.Edge{From: top.node, To: next})
		trail = append(trail, next)
		b.collectTerminals(next, trail, paths)
		stack = append(stack, frame{node: next})
	}

	summary := make([]string, len(b.nodes))
	correct := make([]bool, len(b.nodes))
	for i, n := range b.nodes {
		summary[i] = n.summary
		correct[i] = n.correct
	}

	submissions := make([]render.Submission, 0, len(b.uids))
	for _, uid := range b.uids {
		submissions = append(submissions, render.Submission{UID: uid, Nodes: paths[uid]})
	}

	return &render.Structure{
		Graph:         edges,
		StepSummary:   summary,
		StepIsCorrect: correct,
		Submissions:   submissions,
	}, true
}

func (b *Builder) collectTerminals(idx int, trail []int, paths map[string][]int) {
	for _, uid := range b.nodes[idx].terminals {
		paths[uid] = append([]int(nil), trail...)
	}
}
