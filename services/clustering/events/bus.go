// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans engine events out to live subscribers.
//
// # Description
//
// Publish never blocks. Each subscriber owns a bounded queue; when it is
// full the oldest queued event is discarded to make room, so a stalled
// client loses history rather than slowing ingestion.
//
// # Thread Safety
//
// Bus is safe for concurrent use.
package events

import (
	"sync"
	"time"

	"github.com/AleutianAI/solgraph/services/clustering/observability"
)

// DefaultBuffer is the queue size of a subscriber created with size <= 0.
const DefaultBuffer = 1000

// Kind classifies an event.
type Kind string

const (
	KindAssignmentCreated  Kind = "assignment.created"
	KindSubmissionAccepted Kind = "submission.accepted"
	KindSubmissionRejected Kind = "submission.rejected"
)

// Event is one engine notification.
type Event struct {
	Kind          Kind      `json:"kind"`
	AssignmentID  string    `json:"assignment_id"`
	SubmissionUID string    `json:"submission_uid,omitempty"`
	Structure     string    `json:"structure,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Time          time.Time `json:"time"`
}

// Subscription is a subscriber's queue.
type Subscription struct {
	ch chan Event
}

// C returns the receive side of the queue. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Event { return s.ch }

// Bus is a non-blocking broadcast hub.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	metrics *observability.Metrics
}

// NewBus creates a bus. metrics may be nil.
func NewBus(metrics *observability.Metrics) *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), metrics: metrics}
}

// Subscribe registers a queue of the given size.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultBuffer
	}
	s := &Subscription{ch: make(chan Event, size)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its queue. Safe to call twice.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every subscriber without blocking. A zero Time is
// set to now.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest and retry once.
		select {
		case <-s.ch:
			b.metrics.EventDropped()
		default:
		}
		select {
		case s.ch <- ev:
		default:
			b.metrics.EventDropped()
		}
	}
}
