// producer.go: producer handle and hot-path logging call (C1 façade)
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ember

import "time"

// Producer is an acquired handle a single goroutine uses to submit log
// records. It owns one ThreadInputBuffer, replacing the original's
// pthread thread-local-storage slot: Go has no equivalent of a
// destructor firing when a goroutine exits, so ember asks the caller to
// hold an explicit handle (typically one per goroutine, acquired once
// and released via defer) instead of trying to infer goroutine identity.
//
// A Producer must not be used from more than one goroutine concurrently;
// doing so is the Go-level equivalent of two threads sharing one
// thread-local slot; undefined which writes land where.
type Producer struct {
	front *LogFront
	buf   *ThreadInputBuffer
}

// Log submits a new record. payloadSize is the number of payload bytes;
// the Producer reserves a frame of payloadSize plus the handleSize-byte
// dispatch prefix. fill is called exactly once, synchronously, with a
// slice of payloadSize bytes to copy the formatter's argument payload
// into. Log never blocks on I/O and never returns a formatting or sink
// error: both are reported out-of-band through the LogFront's callbacks
// once the background worker gets to this frame.
//
// If payloadSize+handleSize exceeds the Producer's entire input buffer
// capacity, the
// record is dropped immediately and counted in Stats.RecordsDropped;
// this is the one case Log cannot wait out, since no amount of draining
// will ever make that much contiguous room.
func (p *Producer) Log(id FormatterID, payloadSize int, fill func(payload []byte)) {
	frameSize := payloadSize + handleSize

	if p.buf.TooLargeToReserve(frameSize) {
		p.front.stats.recordsDropped.Add(1)
		return
	}

	frame, ok := p.buf.Reserve(frameSize, id)
	if !ok {
		frame = p.waitAndReserve(frameSize, id)
	}

	fill(frame[handleSize:])
	p.buf.Commit()
	p.front.queue.Push(p.buf)
	p.front.stats.recordsLogged.Add(1)
}

// waitAndReserve blocks until the Producer's own buffer has room,
// backing off the same way the consumer does while polling an empty
// queue, then performs the reservation. It is the producer-side mirror
// of basic_log::queue_log_entries's wait loop: there, a full shared
// queue makes the producer wait for shared_input_consumed_event_; here,
// a full per-producer ring makes it wait for that buffer's own consumed
// signal instead, since each producer only ever contends with the one
// consumer that drains its buffer.
func (p *Producer) waitAndReserve(frameSize int, id FormatterID) []byte {
	waitMs := 0
	for {
		p.buf.consumed.Wait(time.Duration(waitMs) * time.Millisecond)
		if frame, ok := p.buf.Reserve(frameSize, id); ok {
			return frame
		}
		waitMs += max(1, waitMs/4)
		if waitMs > 1000 {
			waitMs = 1000
		}
	}
}

// Release ends the Producer's use; it performs no cleanup of its own
// (see LogFront.release). Any record still sitting in the buffer at the
// moment Release is called is drained normally; Release does not discard
// pending data.
func (p *Producer) Release() {
	p.front.release(p)
}
