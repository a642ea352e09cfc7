package fusion

import (
	"testing"
	"time"
)

func newTestPort() (*OutPort, *InPort) {
	proto := NewProtocol("test")
	out := NewOutPort(0, NewProtocol("test"))
	in := NewInPort(0, proto)
	return out, in
}

func TestPort_PushPopOrder(t *testing.T) {
	out, in := newTestPort()
	if err := out.Link(in); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	in.setState(StateRunning)

	for i := 0; i < 3; i++ {
		blob := NewBlob("s", uint64(i), 0)
		if err := out.Send(blob, time.Second); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		blob, err := in.Pop(time.Second)
		if err != nil {
			t.Fatalf("pop %d failed: %v", i, err)
		}
		if blob.FrameID != uint64(i) {
			t.Fatalf("expected FIFO order, got frame %d at position %d", blob.FrameID, i)
		}
	}
}

func TestPort_DiscardIfFull(t *testing.T) {
	in := NewInPort(0, NewProtocol("test")).WithCapacity(1).WithPolicy(DiscardIfFull)
	in.setState(StateRunning)

	if err := in.Push(NewBlob("s", 0, 0), 0); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	if err := in.Push(NewBlob("s", 1, 0), 0); err != nil {
		t.Fatalf("discard policy should report success, got %v", err)
	}
	if in.Len() != 1 {
		t.Fatalf("expected queue to still hold 1 blob, got %d", in.Len())
	}
}

func TestPort_BlockIfFullTimesOut(t *testing.T) {
	in := NewInPort(0, NewProtocol("test")).WithCapacity(1)
	in.setState(StateRunning)

	if err := in.Push(NewBlob("s", 0, 0), 0); err != nil {
		t.Fatalf("first push failed: %v", err)
	}

	start := time.Now()
	err := in.Push(NewBlob("s", 1, 0), 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("returned before the requested timeout elapsed")
	}
}

func TestPort_BlockIfFullUnblocksOnPop(t *testing.T) {
	in := NewInPort(0, NewProtocol("test")).WithCapacity(1)
	in.setState(StateRunning)

	_ = in.Push(NewBlob("s", 0, 0), 0)

	done := make(chan error, 1)
	go func() {
		done <- in.Push(NewBlob("s", 1, 0), time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := in.Pop(time.Second); err != nil {
		t.Fatalf("pop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked push failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked push never unblocked after a pop freed capacity")
	}
}

func TestPort_StopWakesWaiters(t *testing.T) {
	in := NewInPort(0, NewProtocol("test"))
	in.setState(StateRunning)

	done := make(chan error, 1)
	go func() {
		_, err := in.Pop(time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	in.setState(StateStop)

	select {
	case err := <-done:
		if err != ErrEndOfStream {
			t.Fatalf("expected ErrEndOfStream, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked pop never woke on stop")
	}
}

func TestPort_ClearReleasesQueued(t *testing.T) {
	released := 0
	in := NewInPort(0, NewProtocol("test")).WithCapacity(4)
	in.setState(StateRunning)

	for i := 0; i < 2; i++ {
		blob := NewBlob("s", uint64(i), 0)
		blob.Push(NewBuffer("test", 1, 0, func(int) { released++ }))
		_ = in.Push(blob, 0)
	}

	in.Clear()
	if released != 2 {
		t.Fatalf("expected 2 releases from Clear, got %d", released)
	}
	if in.Len() != 0 {
		t.Fatalf("expected empty queue after Clear, got %d", in.Len())
	}
}

func TestOutPort_LinkProtocolMismatch(t *testing.T) {
	out := NewOutPort(0, NewProtocol("a"))
	in := NewInPort(0, NewProtocol("b"))
	if err := out.Link(in); err == nil {
		t.Fatalf("expected link failure on disjoint protocols")
	}
}

func TestOutPort_SendFanOutRetains(t *testing.T) {
	released := 0
	out := NewOutPort(0, NewProtocol("test"))
	in1 := NewInPort(0, NewProtocol("test")).WithCapacity(4)
	in2 := NewInPort(1, NewProtocol("test")).WithCapacity(4)
	in1.setState(StateRunning)
	in2.setState(StateRunning)

	if err := out.Link(in1); err != nil {
		t.Fatalf("link 1 failed: %v", err)
	}
	if err := out.Link(in2); err != nil {
		t.Fatalf("link 2 failed: %v", err)
	}

	blob := NewBlob("s", 0, 0)
	blob.Push(NewBuffer("test", 1, 0, func(int) { released++ }))

	if err := out.Send(blob, time.Second); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	b1, _ := in1.Pop(time.Second)
	b2, _ := in2.Pop(time.Second)

	b1.Release()
	if released != 0 {
		t.Fatalf("released after only one consumer dropped its reference")
	}
	b2.Release()
	if released != 1 {
		t.Fatalf("expected exactly one release once both consumers dropped, got %d", released)
	}
}
