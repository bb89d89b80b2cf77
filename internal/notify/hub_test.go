package notify

import (
	"sync"
	"testing"
	"time"
)

func TestHub_PublishDeliversToAllSubscribers(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(Event{Topic: TopicCart, Data: map[string]any{"item_count": 2}})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Topic != TopicCart {
				t.Errorf("%s: topic = %s, want %s", name, ev.Topic, TopicCart)
			}
			if ev.At.IsZero() {
				t.Errorf("%s: At が設定されていない", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: イベントが届かない", name)
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*4; i++ {
			h.Publish(Event{Topic: TopicSession})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("受信しない購読者がいても Publish はブロックしてはならない")
	}
}

func TestHub_CancelClosesChannelAndIsIdempotent(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("解除後のチャネルはクローズされるべき")
	}
	if n := h.Subscribers(); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}

	// 解除後のPublishはパニックしない
	h.Publish(Event{Topic: TopicOrder})
}

func TestHub_ConcurrentPublishAndCancel(t *testing.T) {
	h := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		ch, cancel := h.Subscribe()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(Event{Topic: TopicCart})
			}
		}()
		go func() {
			defer wg.Done()
			<-ch
			cancel()
		}()
	}
	h.Publish(Event{Topic: TopicCart})
	wg.Wait()
}
