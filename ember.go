// ember.go: LogFront façade (C7) and its configuration
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import (
	"go.uber.org/zap"
)

// Default sizing, chosen the same way the original chooses its defaults:
// a conservative guess at a disk sector size for the output buffer and
// per-producer input buffer, and a queue deep enough to hold a burst of
// commits from several concurrently logging goroutines without the
// commit queue itself becoming the bottleneck.
const (
	DefaultInputBufferSize  = 8192
	DefaultCommitQueueSize  = 512
	DefaultOutputBufferSize = 8192
)

// Config configures a LogFront. A zero Config is valid: every field has a
// sensible default applied by Open.
type Config struct {
	// InputBufferSize is the byte capacity of each Producer's own ring
	// buffer. Defaults to DefaultInputBufferSize.
	InputBufferSize uint64

	// CommitQueueSize is the number of commit-notification slots shared
	// across every Producer, rounded up to a power of two. Defaults to
	// DefaultCommitQueueSize.
	CommitQueueSize uint64

	// OutputBufferSize is the byte capacity of the single OutputBuffer
	// the consumer formats into before flushing to Writer. Defaults to
	// DefaultOutputBufferSize.
	OutputBufferSize int

	// TemporaryErrorPolicy and PermanentErrorPolicy govern how the
	// consumer reacts to a recoverable vs. unrecoverable Writer error,
	// independently. Both default to PolicyIgnore.
	TemporaryErrorPolicy ErrorPolicy
	PermanentErrorPolicy ErrorPolicy

	// FlushErrorCallback is invoked when a sink write fails under
	// PolicyIgnore (or PolicyBlock once its retries end), with the
	// number of records lost. Under PolicyNotifyOnRecovery it is not
	// invoked on the failure; it is invoked once, with a nil error and a
	// count of 0, when the next flush succeeds. PolicyFailImmediately
	// terminates the worker instead. It is also invoked, with a count of
	// 1, for a frame dropped as an *ExcessiveOutputByFrame.
	FlushErrorCallback FlushErrorCallback

	// FormatErrorCallback is invoked whenever a Formatter.Apply call
	// fails for a reason unrelated to the sink.
	FormatErrorCallback FormatErrorCallback

	// Log receives operational diagnostics (panic-flush transitions,
	// worker termination) that are never part of the record stream
	// itself. Defaults to a no-op logger, so opting in costs nothing.
	Log *zap.SugaredLogger
}

func (c Config) withDefaults() Config {
	if c.InputBufferSize == 0 {
		c.InputBufferSize = DefaultInputBufferSize
	}
	if c.CommitQueueSize == 0 {
		c.CommitQueueSize = DefaultCommitQueueSize
	}
	if c.OutputBufferSize == 0 {
		c.OutputBufferSize = DefaultOutputBufferSize
	}
	if c.Log == nil {
		c.Log = zap.NewNop().Sugar()
	}
	return c
}

// LogFront is the top-level handle to an open logging engine: it owns
// the shared commit queue, the output buffer, and the single background
// ConsumerWorker that drains both. Acquire a Producer per logging
// goroutine, and call Close once when the process is done logging.
type LogFront struct {
	cfg    Config
	queue  *SharedCommitQueue
	output *OutputBuffer
	worker *ConsumerWorker
	stats  Stats
}

// Open starts a new logging engine writing to writer, and launches its
// background ConsumerWorker. The returned LogFront is ready for Acquire
// calls immediately.
func Open(writer Writer, cfg Config) (*LogFront, error) {
	cfg = cfg.withDefaults()

	front := &LogFront{cfg: cfg}
	front.queue = NewSharedCommitQueue(cfg.CommitQueueSize)
	front.output = NewOutputBuffer(writer, cfg.OutputBufferSize, cfg.TemporaryErrorPolicy, cfg.PermanentErrorPolicy, cfg.FlushErrorCallback)
	front.worker = NewConsumerWorker(front.queue, front.output, cfg.FormatErrorCallback, cfg.FlushErrorCallback, cfg.Log)
	front.worker.Start()
	return front, nil
}

// Acquire returns a new Producer backed by its own ThreadInputBuffer.
// Callers should acquire one Producer per logging goroutine and release
// it (typically via defer) when that goroutine is done logging; a
// Producer must never be shared across goroutines.
func (f *LogFront) Acquire() *Producer {
	return &Producer{
		front: f,
		buf:   NewThreadInputBuffer(f.cfg.InputBufferSize),
	}
}

// release is called by Producer.Release. It currently has nothing to do
// beyond existing as the symmetric half of Acquire: a Producer's buffer
// is ordinary garbage once its last frame has been drained and the
// Producer itself goes out of scope, unlike the original's pthread-key
// destructor, which had to free heap memory explicitly because nothing
// else ever would.
func (f *LogFront) release(*Producer) {}

// Stats returns a snapshot of this LogFront's lifetime counters.
func (f *LogFront) Stats() StatsSnapshot {
	return f.stats.Snapshot()
}

// PanicFlush immediately stops accepting new records (any Producer.Log
// call already in flight or arriving afterward blocks forever) and
// flushes whatever was already committed before returning. It is meant
// to be called from a recover() handler or signal handler right before
// the process terminates, to make a best-effort attempt at not losing
// the tail of the log.
func (f *LogFront) PanicFlush() {
	f.worker.PanicFlush()
}

// Close performs an orderly shutdown: it waits for every frame already
// committed by any Producer to be drained and flushed, then stops the
// background worker. Close does not wait for Producers that have not yet
// called Release; it only guarantees already-committed frames are not
// lost.
func (f *LogFront) Close() error {
	f.worker.Stop()
	return nil
}
