// stats.go: lifetime counters
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import "sync/atomic"

// Stats holds atomically-updated counters describing a LogFront's
// lifetime activity. All fields are safe to read concurrently with
// logging.
type Stats struct {
	recordsLogged  atomic.Uint64
	recordsDropped atomic.Uint64
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		RecordsLogged:  s.recordsLogged.Load(),
		RecordsDropped: s.recordsDropped.Load(),
	}
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass around and
// compare without racing future updates.
type StatsSnapshot struct {
	RecordsLogged  uint64
	RecordsDropped uint64
}
