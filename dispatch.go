// dispatch.go: formatter dispatch handles
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import (
	"encoding/binary"
	"sync"
)

// HandleSize is the width, in bytes, of the dispatch handle word that
// precedes every frame's payload in a ThreadInputBuffer. A Formatter's
// Destroy must account for it: the size it returns covers the handle
// prefix plus the payload, not the payload alone. It doubles as the
// width of the WraparoundMarker sentinel.
const HandleSize = 8

// handleSize is the unexported spelling used throughout this package;
// it is the same constant as HandleSize.
const handleSize = HandleSize

// FormatterID is a first-class dispatch handle placed at the start of every
// input frame. The original design encodes this as a pointer to a
// three-way dispatch function; Go has no portable way to serialize a
// callable value into a byte buffer and call it back from raw bytes later,
// so ember uses the "tag plus table index" variant explicitly allowed as a
// neutral strategy: FormatterID is an index into a process-wide registry of
// Formatter values, looked up by the consumer when it dispatches a frame.
type FormatterID uint64

// WraparoundMarker is the reserved handle value written at the current
// write position of a ThreadInputBuffer when a frame would not fit before
// the end of the buffer. It is never assigned to a real Formatter.
const WraparoundMarker FormatterID = 0

// TypeDescriptor stably identifies the source type of a frame's payload.
// It is only ever consulted when reporting a formatter error.
type TypeDescriptor struct {
	Name string
}

// Formatter implements the three operations the consumer needs to dispatch
// a frame without knowing the payload's type at compile time.
type Formatter struct {
	// Apply formats payload and appends the result to out. A non-nil
	// error is treated as a format error (see ConsumerWorker), except an
	// error that out.Reserve or out.Write returned and Apply passed on
	// unchanged (*ExcessiveOutputByFrame, *FatalFlushError, *FlushError),
	// which the worker handles as an output or sink failure.
	Apply func(out *OutputBuffer, payload []byte) error

	// Destroy releases any resources the payload owns (nothing, for
	// plain byte payloads) and returns the total frame size in bytes,
	// including the handleSize-byte dispatch prefix, so the consumer
	// can advance past it. payload is bounded to the committed,
	// undrained region of the ring (see ThreadInputBuffer.Peek), which
	// is almost always wider than this one frame's actual payload — it
	// is never the true frame length on its own. A fixed-size formatter
	// (one whose FormatterID always reserves the same payloadSize)
	// should return handleSize+payloadSize using that known constant,
	// the way registerEchoFormatter's test double does; a genuinely
	// variable-length formatter must encode its own length as part of
	// the payload it writes (e.g. a leading length prefix) and decode
	// that here. Returning handleSize+len(payload) is a bug: it reports
	// the distance to the end of the committed region, not this frame's
	// size, and desynchronizes the ring on the next Discard.
	Destroy func(out *OutputBuffer, payload []byte) int

	// TypeID returns a stable descriptor for the payload's source type.
	TypeID func() TypeDescriptor
}

var (
	registryMu sync.RWMutex
	registry   = []*Formatter{{}} // index 0 reserved (WraparoundMarker)
)

// RegisterFormatter adds f to the process-wide formatter registry and
// returns the FormatterID later code should pass to Producer.Log. Intended
// to be called from package init() functions of formatter collaborators,
// not from the hot path.
func RegisterFormatter(f Formatter) FormatterID {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, &f)
	return FormatterID(len(registry) - 1)
}

// lookupFormatter returns the Formatter registered under id, or nil if id
// is WraparoundMarker or otherwise unknown.
func lookupFormatter(id FormatterID) *Formatter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if int(id) <= 0 || int(id) >= len(registry) {
		return nil
	}
	return registry[id]
}

// putHandle writes id as the handleSize-byte dispatch prefix of frame.
// frame must be at least handleSize bytes long.
func putHandle(frame []byte, id FormatterID) {
	binary.LittleEndian.PutUint64(frame, uint64(id))
}

// getHandle reads the dispatch handle at the start of frame.
func getHandle(frame []byte) FormatterID {
	return FormatterID(binary.LittleEndian.Uint64(frame))
}
