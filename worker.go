// worker.go: single background consumer (C4)
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FormatErrorCallback is invoked when a Formatter.Apply call fails for
// reasons unrelated to the sink (a malformed argument, an internal
// formatter bug). It never stops the worker.
type FormatErrorCallback func(*FormatError)

// ConsumerWorker is the single background goroutine that drains commit
// notifications, dispatches each frame through its registered Formatter,
// and flushes the resulting bytes to the OutputBuffer's Writer. Exactly
// one ConsumerWorker runs per LogFront.
type ConsumerWorker struct {
	queue  *SharedCommitQueue
	output *OutputBuffer

	onFormatError FormatErrorCallback
	onFlushError  FlushErrorCallback
	log           *zap.SugaredLogger

	panicking atomic.Bool
	panicDone *EventSignal
	touched   []*ThreadInputBuffer
	wg        sync.WaitGroup
}

// NewConsumerWorker constructs a worker; callers must call Start to begin
// draining.
func NewConsumerWorker(queue *SharedCommitQueue, output *OutputBuffer, onFormatError FormatErrorCallback, onFlushError FlushErrorCallback, log *zap.SugaredLogger) *ConsumerWorker {
	if onFormatError == nil {
		onFormatError = func(*FormatError) {}
	}
	if onFlushError == nil {
		onFlushError = func(error, uint64) {}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ConsumerWorker{
		queue:         queue,
		output:        output,
		onFormatError: onFormatError,
		onFlushError:  onFlushError,
		log:           log,
		panicDone:     NewEventSignal(),
	}
}

// Start launches the consumer goroutine.
func (w *ConsumerWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop requests an orderly shutdown: every frame committed before Stop is
// called will be drained and flushed before the worker goroutine exits.
// Stop blocks until that has happened.
func (w *ConsumerWorker) Stop() {
	w.queue.Push(nil)
	w.wg.Wait()
}

// PanicFlush latches panic-flush mode: every producer currently or later
// blocked in SharedCommitQueue.Push will sleep forever, and the worker
// will drain whatever is already committed, flush it, and then hang
// forever itself rather than return, matching the original's "stay a
// while, stay forever" contract. PanicFlush blocks until the flush has
// completed.
func (w *ConsumerWorker) PanicFlush() {
	w.panicking.Store(true)
	w.queue.LatchPanic()
	w.panicDone.Wait(-1)
}

func (w *ConsumerWorker) run() {
	defer w.wg.Done()
	for {
		buf, ok := w.popNext()
		if !ok {
			if w.panicking.Load() {
				w.output.Flush()
				w.panicDone.Signal()
				w.log.Warn("panic flush complete, worker suspended")
				select {}
			}
			if err := w.output.Flush(); err != nil {
				w.log.Errorw("fatal flush error, terminating worker", "error", err)
				panic(err)
			}
			return
		}
		w.drain(buf)
	}
}

// popNext returns the next producer buffer to drain, blocking with the
// spec's exponential poll backoff (0ms, then growing by
// max(1, wait/4) up to a 1s cap) when the commit queue is empty. It
// reports ok=false only on the termination sentinel (a nil buf pushed by
// Stop) or when panic-flush mode has nothing left queued.
func (w *ConsumerWorker) popNext() (*ThreadInputBuffer, bool) {
	if buf, ok := w.queue.Pop(); ok {
		if buf == nil {
			return nil, false
		}
		return buf, true
	}

	if w.panicking.Load() {
		return nil, false
	}

	w.signalTouched()
	if !w.output.Empty() {
		if err := w.output.Flush(); err != nil {
			w.log.Errorw("fatal flush error, terminating worker", "error", err)
			panic(err)
		}
	}

	waitMs := 0
	for {
		w.queue.Wait(time.Duration(waitMs) * time.Millisecond)
		if buf, ok := w.queue.Pop(); ok {
			if buf == nil {
				return nil, false
			}
			return buf, true
		}
		if w.panicking.Load() {
			return nil, false
		}
		waitMs += max(1, waitMs/4)
		if waitMs > 1000 {
			waitMs = 1000
		}
	}
}

// drain dispatches every frame currently available in buf.
func (w *ConsumerWorker) drain(buf *ThreadInputBuffer) {
	for {
		id, payload, ok := buf.Peek()
		if !ok {
			break
		}

		f := lookupFormatter(id)
		frameSize := len(payload) + handleSize
		if f != nil {
			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("ember: formatter panicked: %v", r)
					}
				}()
				return f.Apply(w.output, payload)
			}()
			if err != nil {
				w.output.RevertFrame()
				switch err.(type) {
				case *FlushError:
					// OutputBuffer.flush returns a *FlushError only for an
					// unrecognized error policy; the frame is dropped
					// without a callback.
				case *FatalFlushError:
					// PolicyFailImmediately: the formatter must not swallow
					// this, and neither does the worker. This mirrors the
					// original allowing a fatal_flush_error to propagate
					// uncaught out of the output thread.
					w.log.Errorw("fatal flush error, terminating worker", "error", err)
					panic(err)
				case *ExcessiveOutputByFrame:
					// Spec §7: counted as a lost frame and reported via the
					// flush-error path with a synthetic code, not treated as
					// a format error — the formatter behaved correctly, the
					// output buffer simply can't hold this frame.
					w.output.lostFrames++
					w.onFlushError(err, 1)
				default:
					w.onFormatError(&FormatError{Type: f.TypeID(), Err: err})
				}
			} else {
				w.output.FrameEnd()
			}
			frameSize = f.Destroy(w.output, payload)
		}

		buf.Discard(frameSize)

		if !w.panicking.Load() && !buf.consumedFlag {
			buf.consumedFlag = true
			w.touched = append(w.touched, buf)
		}
	}
}

// signalTouched wakes every producer that was waiting on a buffer this
// worker drained during the current round, then clears the batch. This
// happens once per round (when the commit queue runs dry) rather than
// once per frame, since a producer only needs to know "there is now
// room", not how many frames freed it.
func (w *ConsumerWorker) signalTouched() {
	for _, buf := range w.touched {
		buf.consumed.Signal()
		buf.consumedFlag = false
	}
	w.touched = w.touched[:0]
}

