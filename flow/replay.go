// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"fmt"
	"time"
)

type replayKind int

const (
	replayNone replayKind = iota
	replayBeginning
	replayTimestamp
)

// ReplaySpec selects the replay start position for a flow bind. A spec is
// immutable once constructed; the controller replaces its active spec
// wholesale when it falls back to the beginning of the log.
type ReplaySpec struct {
	kind  replayKind
	start time.Time
	loc   *time.Location
}

// NoReplay returns a spec that requests no replay: the flow receives only
// unsettled and newly published messages.
func NoReplay() ReplaySpec {
	return ReplaySpec{kind: replayNone}
}

// ReplayFromBeginning returns a spec that requests every retained message in
// the queue's replay log.
func ReplayFromBeginning() ReplaySpec {
	return ReplaySpec{kind: replayBeginning}
}

// ReplayFromTime returns a spec that requests replay of messages received at
// or after t.
func ReplayFromTime(t time.Time) ReplaySpec {
	return ReplaySpec{kind: replayTimestamp, start: t}
}

// ReplayFromTimeInZone is ReplayFromTime with an explicit zone carried into
// the serialized start location.
func ReplayFromTimeInZone(t time.Time, loc *time.Location) ReplaySpec {
	return ReplaySpec{kind: replayTimestamp, start: t, loc: loc}
}

// Requested reports whether the spec asks for any replay at all.
func (s ReplaySpec) Requested() bool {
	return s.kind != replayNone
}

// FromBeginning reports whether the spec requests the full replay log.
func (s ReplaySpec) FromBeginning() bool {
	return s.kind == replayBeginning
}

// Start returns the requested start time and whether the spec is
// timestamp-based.
func (s ReplaySpec) Start() (time.Time, bool) {
	return s.start, s.kind == replayTimestamp
}

// Location serializes the spec into the replay-start property understood by
// the broker contract: empty for no replay, "BEGINNING" for the full log, or
// "DATE:<RFC3339>" for a timestamp.
func (s ReplaySpec) Location() string {
	switch s.kind {
	case replayBeginning:
		return "BEGINNING"
	case replayTimestamp:
		t := s.start
		if s.loc != nil {
			t = t.In(s.loc)
		} else {
			t = t.UTC()
		}
		return "DATE:" + t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal reports whether two specs request the same replay position.
func (s ReplaySpec) Equal(o ReplaySpec) bool {
	if s.kind != o.kind {
		return false
	}
	if s.kind == replayTimestamp {
		return s.start.Equal(o.start)
	}
	return true
}

// String returns a human-readable description.
func (s ReplaySpec) String() string {
	switch s.kind {
	case replayBeginning:
		return "beginning"
	case replayTimestamp:
		return fmt.Sprintf("from %s", s.start.UTC().Format(time.RFC3339))
	default:
		return "none"
	}
}
