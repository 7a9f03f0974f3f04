package emit

import "testing"

func TestBusPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(nil, 4)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Kind: VertexStarted, VertexID: "a", RunID: "r1"})

	select {
	case ev := <-ch:
		if ev.Kind != VertexStarted || ev.VertexID != "a" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected buffered event, got none")
	}
}

func TestBusDropsWhenSubscriberBufferFull(t *testing.T) {
	bus := NewBus(nil, 2)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(Event{Kind: VertexStarted, VertexID: "a", RunID: "r1"})    // buffered 1/2
	bus.Publish(Event{Kind: VertexCompleted, VertexID: "a", RunID: "r1"}) // buffered 2/2
	bus.Publish(Event{Kind: VertexFailed, VertexID: "b", RunID: "r1"})    // dropped, lag=1

	if ev := <-ch; ev.Kind != VertexStarted {
		t.Fatalf("expected VertexStarted first, got %v", ev.Kind)
	}
	if ev := <-ch; ev.Kind != VertexCompleted {
		t.Fatalf("expected VertexCompleted second, got %v", ev.Kind)
	}

	bus.Publish(Event{Kind: Progress, VertexID: "c", RunID: "r1"})

	if ev := <-ch; ev.Kind != Progress {
		t.Fatalf("expected Progress delivered, got %v", ev.Kind)
	}
	select {
	case ev := <-ch:
		if ev.Kind != SubscriberLagged {
			t.Fatalf("expected SubscriberLagged report, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected a lag report once the buffer drained")
	}
}

func TestBusCloseClosesSubscriberChannel(t *testing.T) {
	bus := NewBus(nil, 4)
	ch, _ := bus.Subscribe()
	bus.Close("r1")

	for range ch {
	}
}
