package bus

import (
	"testing"
	"time"
)

func TestPublishRaw_NonBlocking(t *testing.T) {
	b := New()
	// Fill the buffer; every publish past capacity must drop, not block.
	for i := 0; i < defaultRawBuffer; i++ {
		if !b.PublishRaw(RawEvent{SourceID: "test"}) {
			t.Fatalf("publish %d should fit in the buffer", i)
		}
	}

	done := make(chan bool, 1)
	go func() {
		done <- b.PublishRaw(RawEvent{SourceID: "overflow"})
	}()

	select {
	case accepted := <-done:
		if accepted {
			t.Error("publish into a full buffer should report a drop")
		}
	case <-time.After(time.Second):
		t.Fatal("PublishRaw blocked on a full buffer")
	}
}

func TestWake_Broadcast(t *testing.T) {
	b := New()
	ch1, cancel1 := b.SubscribeWake()
	ch2, cancel2 := b.SubscribeWake()
	defer cancel1()
	defer cancel2()

	b.Wake(WakeEvent{MessageID: 42, Kind: "sent"})

	for i, ch := range []<-chan WakeEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.MessageID != 42 || ev.Kind != "sent" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the wake event", i)
		}
	}
}

func TestWake_DropsForSlowSubscriber(t *testing.T) {
	b := New()
	_, cancel := b.SubscribeWake()
	defer cancel()

	// Never drain; publishing far past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultWakeBuffer*4; i++ {
			b.Wake(WakeEvent{MessageID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake blocked on a slow subscriber")
	}
}

func TestSubscribeWake_CancelIdempotent(t *testing.T) {
	b := New()
	ch, cancel := b.SubscribeWake()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// Waking after cancel must not panic.
	b.Wake(WakeEvent{MessageID: 1})
}
