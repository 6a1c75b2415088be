package kotori

import (
	"testing"
	"time"
)

func TestEventBus_PublishDeliversToSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch := bus.Subscribe(1)

	bus.Publish(BookAdded{Book: CatalogBook{ID: 1}})

	select {
	case ev := <-ch:
		added, ok := ev.(BookAdded)
		if !ok || added.Book.ID != 1 {
			t.Fatalf("got %#v, want BookAdded{Book.ID: 1}", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_PublishDropsOnFullSubscriber(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	ch := bus.Subscribe(1)

	bus.Publish(RatingUpdated{ID: 1, Rating: 3})
	bus.Publish(RatingUpdated{ID: 2, Rating: 4}) // dropped, buffer still full

	select {
	case ev := <-ch:
		got, ok := ev.(RatingUpdated)
		if !ok || got.ID != 1 {
			t.Fatalf("got %#v, want first RatingUpdated", ev)
		}
	default:
		t.Fatal("expected first event to have been buffered")
	}

	select {
	case ev := <-ch:
		t.Fatalf("expected no second event, got %#v", ev)
	default:
	}
}

func TestEventBus_MultipleSubscribersEachGetCopy(t *testing.T) {
	t.Parallel()

	bus := NewEventBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Publish(PageDeleted{WindowID: "w1", Name: "page1.jpg"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if _, ok := ev.(PageDeleted); !ok {
				t.Fatalf("got %#v, want PageDeleted", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
