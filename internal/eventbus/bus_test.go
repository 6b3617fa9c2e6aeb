package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	var mu sync.Mutex
	got := make(map[string]int)
	done := make(chan struct{}, 2)

	handler := func(name string) Handler {
		return func(ev Event) {
			mu.Lock()
			got[name]++
			mu.Unlock()
			done <- struct{}{}
		}
	}
	b.Subscribe(TypeFadeStarted, handler("first"))
	b.Subscribe(TypeFadeStarted, handler("second"))

	b.Publish(Event{Type: TypeFadeStarted, Data: map[string]any{"session_id": "abc"}})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handlers")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got["first"] != 1 || got["second"] != 1 {
		t.Errorf("handler counts = %v, want both 1", got)
	}
}

func TestPublishUnknownTypeIsDropped(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	called := make(chan struct{}, 1)
	b.Subscribe(TypeFadeCompleted, func(ev Event) {
		called <- struct{}{}
	})

	b.Publish(Event{Type: TypeFadeAborted})

	select {
	case <-called:
		t.Error("handler called for unrelated event type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotKillWorkers(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	done := make(chan struct{}, 1)
	b.Subscribe(TypeSceneApplied, func(ev Event) {
		panic("boom")
	})
	b.Subscribe(TypeFadeStarted, func(ev Event) {
		done <- struct{}{}
	})

	b.Publish(Event{Type: TypeSceneApplied})
	b.Publish(Event{Type: TypeFadeStarted})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive handler panic")
	}
}

func closeBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)
}
