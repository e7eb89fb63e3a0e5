// outputbuffer.go: consumer-side output staging buffer (C3)
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Writer is the external sink a LogFront drains formatted bytes to. It is
// the one collaborator ember never implements a default for beyond
// FileWriter; a Writer may be backed by a file, a socket, a pipe to a
// separate log-shipping process, anything with "write these bytes,
// report whether the failure is worth retrying" semantics.
type Writer interface {
	// Write attempts to write p in full. status distinguishes a
	// transient failure (network hiccup, disk momentarily full) from a
	// permanent one (bad file descriptor, disk unmounted); the
	// distinction drives which of Config.TemporaryErrorPolicy /
	// Config.PermanentErrorPolicy applies.
	Write(p []byte) (status WriteStatus, err error)
}

// FlushErrorCallback reports a flush failure alongside the number of log
// records lost as a result, mirroring reckless's flush_error_callback_t
// signature exactly rather than inventing a new shape for it.
type FlushErrorCallback func(err error, lostRecordCount uint64)

// OutputBuffer accumulates formatted bytes for one or more input frames
// and flushes complete frames to a Writer. A formatter never calls the
// Writer itself; it only ever calls Reserve/Write/Commit against an
// OutputBuffer, so ember's dispatch layer is the only thing that ever
// touches the sink.
type OutputBuffer struct {
	writer Writer
	buf    []byte

	frameEnd  int // end of the last fully committed frame
	commitEnd int // end of data written so far, including a partial frame

	framesInBuffer uint64
	lostFrames     uint64

	temporaryPolicy ErrorPolicy
	permanentPolicy ErrorPolicy
	onFlushError    FlushErrorCallback

	notifyPending bool

	retry *backoff.ExponentialBackOff
}

// NewOutputBuffer creates an OutputBuffer with the given fixed capacity,
// draining to writer.
func NewOutputBuffer(writer Writer, capacity int, temporaryPolicy, permanentPolicy ErrorPolicy, onFlushError FlushErrorCallback) *OutputBuffer {
	if onFlushError == nil {
		onFlushError = func(error, uint64) {}
	}
	return &OutputBuffer{
		writer:          writer,
		buf:             make([]byte, capacity),
		temporaryPolicy: temporaryPolicy,
		permanentPolicy: permanentPolicy,
		onFlushError:    onFlushError,
		retry: &backoff.ExponentialBackOff{
			InitialInterval:     backoff.DefaultInitialInterval,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         time.Second,
		},
	}
}

// Reserve returns a slice of at least size writable bytes at the current
// commit position, flushing already-framed data first if the buffer
// doesn't currently have room. It returns an *ExcessiveOutputByFrame if
// size alone exceeds the buffer's total capacity (no amount of flushing
// will ever make room), or the error of an internal flush attempt that
// failed: a *FatalFlushError under PolicyFailImmediately (a *FlushError
// only for an unrecognized policy). Under the other policies a failed
// flush drops the framed data and Reserve goes on to succeed.
func (o *OutputBuffer) Reserve(size int) ([]byte, error) {
	remaining := len(o.buf) - o.commitEnd
	if size <= remaining {
		return o.buf[o.commitEnd : o.commitEnd+size], nil
	}
	return o.reserveSlowPath(size)
}

func (o *OutputBuffer) reserveSlowPath(size int) ([]byte, error) {
	if err := o.flush(); err != nil {
		return nil, err
	}

	remaining := len(o.buf) - o.commitEnd
	if size > len(o.buf) {
		return nil, &ExcessiveOutputByFrame{Requested: size, Capacity: len(o.buf)}
	}
	if size > remaining {
		// Still not enough room after flushing everything framed so
		// far; the unflushed tail (an in-progress frame that reserved
		// more space before calling Commit) must be shrunk by another
		// flush round, but there is nothing left to flush. This only
		// happens if a formatter calls Reserve more than once per
		// frame with growing sizes; treat it the same as oversized.
		return nil, &ExcessiveOutputByFrame{Requested: size, Capacity: len(o.buf) - o.frameEnd}
	}
	return o.buf[o.commitEnd : o.commitEnd+size], nil
}

// Commit records that size bytes of the slice last returned by Reserve
// now hold valid output.
func (o *OutputBuffer) Commit(size int) {
	o.commitEnd += size
}

// Write is a convenience wrapper combining Reserve, copy and Commit for
// formatters that have the full output ready as a single slice.
func (o *OutputBuffer) Write(p []byte) (int, error) {
	dst, err := o.Reserve(len(p))
	if err != nil {
		return 0, err
	}
	n := copy(dst, p)
	o.Commit(n)
	return n, nil
}

// FrameEnd marks the current commit position as the end of a complete
// input frame, making it eligible for flushing.
func (o *OutputBuffer) FrameEnd() {
	o.frameEnd = o.commitEnd
	o.framesInBuffer++
}

// RevertFrame discards everything written since the last FrameEnd,
// matching the original revert_frame: used when a formatter or the
// dispatcher decides a frame's output is not usable after all (a
// FormatError or an ExcessiveOutputByFrame from a nested Reserve call).
func (o *OutputBuffer) RevertFrame() {
	o.commitEnd = o.frameEnd
}

// Empty reports whether the buffer has nothing framed that still needs
// flushing.
func (o *OutputBuffer) Empty() bool {
	return o.frameEnd == 0
}

// Flush writes every complete frame to the writer, applying the
// configured error policies, and is safe to call even when Empty.
func (o *OutputBuffer) Flush() error {
	return o.flush()
}

func (o *OutputBuffer) flush() error {
	if o.frameEnd == 0 {
		return nil
	}

	status, err := o.writeWithPolicy(o.buf[:o.frameEnd])

	partial := o.commitEnd - o.frameEnd
	copy(o.buf[:partial], o.buf[o.frameEnd:o.commitEnd])
	lostFrames := o.framesInBuffer
	o.commitEnd = partial
	o.frameEnd = 0
	o.framesInBuffer = 0

	if err == nil {
		if o.notifyPending {
			o.notifyPending = false
			o.onFlushError(nil, 0)
		}
		return nil
	}

	policy := o.temporaryPolicy
	if status == StatusPermanentError {
		policy = o.permanentPolicy
	}

	o.lostFrames += lostFrames
	switch policy {
	case PolicyIgnore:
		o.onFlushError(&FlushError{Status: status, Err: err}, lostFrames)
		return nil
	case PolicyNotifyOnRecovery:
		o.notifyPending = true
		return nil
	case PolicyFailImmediately:
		return &FatalFlushError{Status: status, Err: err}
	case PolicyBlock:
		// writeWithPolicy retries a PolicyBlock error for as long as its
		// backoff ticker runs; if it ever returns one, the frames are
		// reported like PolicyIgnore.
		o.onFlushError(&FlushError{Status: status, Err: err}, lostFrames)
		return nil
	default:
		return &FlushError{Status: status, Err: err}
	}
}

// writeWithPolicy performs the actual writer.Write call, retrying with
// exponential backoff when the relevant policy is PolicyBlock.
func (o *OutputBuffer) writeWithPolicy(p []byte) (WriteStatus, error) {
	status, err := o.writer.Write(p)
	if err == nil {
		return StatusOK, nil
	}

	policy := o.temporaryPolicy
	if status == StatusPermanentError {
		policy = o.permanentPolicy
	}
	if policy != PolicyBlock {
		return status, err
	}

	b := *o.retry
	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()
	for range ticker.C {
		status, err = o.writer.Write(p)
		if err == nil {
			return StatusOK, nil
		}
		policy = o.temporaryPolicy
		if status == StatusPermanentError {
			policy = o.permanentPolicy
		}
		if policy != PolicyBlock {
			break
		}
	}
	return status, err
}
