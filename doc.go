// doc.go: package overview
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package ember provides an asynchronous, low-latency structured logging
// core: a thread-local input ring per producer, a lock-free commit queue,
// and a single background consumer that formats and flushes records to a
// writer.
//
// # Design goal
//
// Minimize the time a producing goroutine spends submitting a record.
// Producers copy a small argument payload into their own input buffer and
// return immediately; a dedicated consumer goroutine later dispatches the
// record's formatter, appends the formatted bytes to an output buffer, and
// drains that buffer to an external Writer.
//
// # Quick start
//
//	front, err := ember.Open(writer, ember.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer front.Close()
//
//	producer := front.Acquire()
//	defer producer.Release()
//
// A Formatter's payload is variable-length here (an arbitrary string), so
// it must encode its own length: payload is bounded to the committed
// region of the producer's ring, not to this one frame, and Destroy has
// no other way to learn where the frame actually ends.
//
//	id := ember.RegisterFormatter(ember.Formatter{
//		Apply: func(out *ember.OutputBuffer, payload []byte) error {
//			n := binary.LittleEndian.Uint32(payload)
//			_, err := out.Write(payload[4 : 4+n])
//			return err
//		},
//		Destroy: func(out *ember.OutputBuffer, payload []byte) int {
//			n := binary.LittleEndian.Uint32(payload)
//			return ember.HandleSize + 4 + int(n)
//		},
//		TypeID: func() ember.TypeDescriptor {
//			return ember.TypeDescriptor{Name: "string"}
//		},
//	})
//
//	msg := []byte("hello\n")
//	producer.Log(id, 4+len(msg), func(payload []byte) {
//		binary.LittleEndian.PutUint32(payload, uint32(len(msg)))
//		copy(payload[4:], msg)
//	})
//
// # What this package is not
//
// ember does not decide how to format a value, does not provide a
// high-level logger façade with levels or fields, and does not implement a
// Writer of its own beyond the bundled FileWriter. Those are collaborators:
// plug in any type implementing Writer, and register Formatters for
// whatever argument types your façade needs to encode.
//
// # Concurrency model
//
// Exactly one background consumer goroutine runs per open LogFront. Any
// number of goroutines may log concurrently, each through its own acquired
// Producer. Records from a single Producer are written out in the order
// they were logged; there is no ordering guarantee across Producers.
//
// # Error handling
//
// All failures that can occur on the hot path (output buffer overflow,
// sink errors, formatter panics) are reported out-of-band through
// Config.FormatErrorCallback and Config.FlushErrorCallback. A producer's
// Log call never returns a formatting or I/O error; this is the explicit
// trade-off that buys the low-latency hot path.
package ember
