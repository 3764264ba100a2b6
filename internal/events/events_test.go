package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := New()
	sub := b.Subscribe(4)
	defer b.Unsubscribe(sub)

	b.EmitCompleted(DownloadCompletedPayload{ID: 7, Title: "file"})

	select {
	case ev := <-sub.C():
		if ev.Kind != DownloadCompleted {
			t.Fatalf("expected DownloadCompleted, got %s", ev.Kind)
		}
		p, ok := ev.Payload.(DownloadCompletedPayload)
		if !ok || p.ID != 7 {
			t.Fatalf("unexpected payload: %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an event to be delivered")
	}
}

func TestPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.EmitCompleted(DownloadCompletedPayload{ID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish should never block even when a subscriber's buffer is full")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)

	_, ok := <-sub.C()
	if ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // must not panic on double-close
}

func TestEmitStateChangedDebouncesToLatestVersion(t *testing.T) {
	b := New()
	b.debounce = 10 * time.Millisecond
	sub := b.Subscribe(4)
	defer b.Unsubscribe(sub)

	b.EmitStateChanged(1)
	b.EmitStateChanged(2)
	b.EmitStateChanged(3)

	select {
	case ev := <-sub.C():
		p, ok := ev.Payload.(StateChangedPayload)
		if !ok {
			t.Fatalf("unexpected payload type: %#v", ev.Payload)
		}
		if p.Version != 3 {
			t.Fatalf("expected the debounced emission to carry the latest version 3, got %d", p.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("expected exactly one debounced state-changed event")
	}

	select {
	case ev := <-sub.C():
		t.Fatalf("expected only one debounced emission, got a second: %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitStateChangedVersionNeverRegresses(t *testing.T) {
	b := New()
	b.debounce = 10 * time.Millisecond
	sub := b.Subscribe(4)
	defer b.Unsubscribe(sub)

	b.EmitStateChanged(5)
	time.Sleep(30 * time.Millisecond)
	<-sub.C() // drain the first flush

	b.EmitStateChanged(2) // lower than the version already flushed
	time.Sleep(30 * time.Millisecond)

	select {
	case ev := <-sub.C():
		p := ev.Payload.(StateChangedPayload)
		if p.Version != 5 {
			t.Fatalf("expected the new debounce window to keep version 5 rather than regress to 2, got %d", p.Version)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a second debounced emission")
	}
}
