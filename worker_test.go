package ember

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// registerEchoFormatter registers a formatter whose Apply copies its
// fixed-size payload verbatim into the output buffer, returning the
// FormatterID new test cases can reserve frames under.
func registerEchoFormatter(payloadSize int) FormatterID {
	return RegisterFormatter(Formatter{
		Apply: func(out *OutputBuffer, payload []byte) error {
			_, err := out.Write(payload[:payloadSize])
			return err
		},
		Destroy: func(out *OutputBuffer, payload []byte) int {
			return handleSize + payloadSize
		},
		TypeID: func() TypeDescriptor { return TypeDescriptor{Name: "echo"} },
	})
}

func pushFrame(t *testing.T, queue *SharedCommitQueue, buf *ThreadInputBuffer, id FormatterID, payload []byte) {
	t.Helper()
	frame, ok := buf.Reserve(handleSize+len(payload), id)
	if !ok {
		t.Fatalf("Reserve(%d) failed", len(payload))
	}
	copy(frame[handleSize:], payload)
	buf.Commit()
	queue.Push(buf)
}

// waitForBytes blocks until the writer has received at least n bytes in
// total (across any number of separate Write calls, since whether the
// worker coalesces two frames into one flush or two depends on
// scheduling, not on any guarantee this package makes), returning the
// concatenation of everything received so far.
func waitForBytes(t *testing.T, w *fakeWriter, n int, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		w.mu.Lock()
		var got []byte
		for _, chunk := range w.writes {
			got = append(got, chunk...)
		}
		w.mu.Unlock()
		if len(got) >= n {
			return string(got)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d bytes, got %q", n, got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerWorkerDrainsAndFlushes(t *testing.T) {
	id := registerEchoFormatter(4)

	w := &fakeWriter{}
	queue := NewSharedCommitQueue(8)
	output := NewOutputBuffer(w, 64, PolicyIgnore, PolicyIgnore, nil)
	worker := NewConsumerWorker(queue, output, nil, nil, nil)
	worker.Start()
	defer worker.Stop()

	buf := NewThreadInputBuffer(256)
	pushFrame(t, queue, buf, id, []byte("abcd"))
	pushFrame(t, queue, buf, id, []byte("efgh"))

	if got := waitForBytes(t, w, 8, time.Second); got != "abcdefgh" {
		t.Fatalf("writer received %q, want %q", got, "abcdefgh")
	}
}

func TestConsumerWorkerReportsFormatError(t *testing.T) {
	boom := errors.New("bad argument")
	id := RegisterFormatter(Formatter{
		Apply:   func(out *OutputBuffer, payload []byte) error { return boom },
		Destroy: func(out *OutputBuffer, payload []byte) int { return handleSize + 2 },
		TypeID:  func() TypeDescriptor { return TypeDescriptor{Name: "broken"} },
	})

	var mu sync.Mutex
	var got *FormatError
	onFormatError := func(e *FormatError) {
		mu.Lock()
		defer mu.Unlock()
		got = e
	}

	w := &fakeWriter{}
	queue := NewSharedCommitQueue(8)
	output := NewOutputBuffer(w, 64, PolicyIgnore, PolicyIgnore, nil)
	worker := NewConsumerWorker(queue, output, onFormatError, nil, nil)
	worker.Start()
	defer worker.Stop()

	buf := NewThreadInputBuffer(64)
	pushFrame(t, queue, buf, id, []byte{1, 2})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("expected onFormatError to be invoked")
	}
	if !errors.Is(got.Err, boom) {
		t.Fatalf("FormatError.Err = %v, want %v", got.Err, boom)
	}
	if got.Type.Name != "broken" {
		t.Fatalf("FormatError.Type.Name = %q, want %q", got.Type.Name, "broken")
	}
}

func TestConsumerWorkerPanicFlush(t *testing.T) {
	id := registerEchoFormatter(4)

	w := &fakeWriter{}
	queue := NewSharedCommitQueue(8)
	output := NewOutputBuffer(w, 64, PolicyIgnore, PolicyIgnore, nil)
	worker := NewConsumerWorker(queue, output, nil, nil, nil)
	worker.Start()

	buf := NewThreadInputBuffer(256)
	pushFrame(t, queue, buf, id, []byte("save"))

	worker.PanicFlush()

	w.mu.Lock()
	n := len(w.writes)
	var got string
	if n > 0 {
		got = string(w.writes[0])
	}
	w.mu.Unlock()

	if n != 1 || got != "save" {
		t.Fatalf("writer state after PanicFlush = (%d, %q), want (1, %q)", n, got, "save")
	}

	done := make(chan struct{})
	go func() {
		queue.Push(NewThreadInputBuffer(8))
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("expected Push to block forever after PanicFlush latched the queue")
	case <-time.After(20 * time.Millisecond):
	}
}
