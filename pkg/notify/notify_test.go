package notify

import (
	"testing"
	"time"

	"github.com/ledgerscope/ledgerscope/pkg/protocol"
)

func TestFanOut(t *testing.T) {
	hub := NewHub(4)

	id1, ch1 := hub.Register()
	id2, ch2 := hub.Register()
	defer hub.Unregister(id1)
	defer hub.Unregister(id2)

	toast := Toast{Topic: protocol.TopicChainUpdate, Message: "chain updated", Timestamp: time.Now()}
	hub.Emit(toast)

	for i, ch := range []<-chan Toast{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Message != "chain updated" {
				t.Fatalf("listener %d: unexpected toast %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d: no toast delivered", i)
		}
	}
}

func TestSlowListenerDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)

	id, ch := hub.Register()
	defer hub.Unregister(id)

	// Fill the buffer, then emit more: Emit must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Emit(Toast{Topic: protocol.TopicPeerUpdate, Message: "peer changed"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow listener")
	}

	// Exactly one toast buffered.
	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered toast, got %d", len(ch))
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	hub := NewHub(0)

	id, ch := hub.Register()
	if hub.Size() != 1 {
		t.Fatalf("expected 1 listener, got %d", hub.Size())
	}

	hub.Unregister(id)
	hub.Unregister(id) // idempotent

	if hub.Size() != 0 {
		t.Fatalf("expected 0 listeners, got %d", hub.Size())
	}
	if _, open := <-ch; open {
		t.Fatal("expected closed channel after unregister")
	}
}
