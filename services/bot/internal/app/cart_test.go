package app

import (
	"context"
	"errors"
	"testing"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/events"
	"bookshopbot/pkg/store"
)

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestCartAggregatesAndChecksOut(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	book := h.addBooks(t, 1, "Novels")[0]
	pub := &recordingPublisher{}
	cart := NewCart(h.store, pub)

	for range 2 {
		if _, _, err := cart.Add(user.ID, book.ID, 1); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	order, err := cart.View(user.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
		t.Fatalf("expected one line with quantity 2, got %+v", order.Items)
	}
	if got := order.Total().StringFixed(2); got != "25.00" {
		t.Fatalf("unexpected total %s", got)
	}

	done, err := cart.Checkout(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if done.Status != domain.OrderCompleted || done.TotalPrice.StringFixed(2) != "25.00" || done.OrderDate == nil {
		t.Fatalf("unexpected completed order: %+v", done)
	}
	if len(pub.events) != 1 || pub.events[0].Type != events.TypeOrderCompleted {
		t.Fatalf("expected one order.completed event, got %+v", pub.events)
	}

	if _, err := cart.View(user.ID); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected empty cart after checkout, got %v", err)
	}
	item := mustAdd(t, cart, user.ID, book.ID)
	if item.OrderID == done.ID {
		t.Fatalf("next add must open a fresh order")
	}
}

func mustAdd(t *testing.T, cart *Cart, userID, bookID int64) domain.OrderItem {
	t.Helper()
	_, item, err := cart.Add(userID, bookID, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return item
}

func TestCheckoutEmptyCartChangesNothing(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	pub := &recordingPublisher{}
	cart := NewCart(h.store, pub)

	if _, err := cart.Checkout(context.Background(), user.ID); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	orders, _ := h.store.ListOrders()
	if len(orders) != 0 || len(pub.events) != 0 {
		t.Fatalf("empty checkout must not create orders or events")
	}
}

func TestCheckoutSurvivesPublishFailure(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, userTG, domain.RoleUser, "u@example.com")
	book := h.addBooks(t, 1, "Novels")[0]
	cart := NewCart(h.store, &recordingPublisher{err: errors.New("broker down")})
	mustAdd(t, cart, user.ID, book.ID)

	if _, err := cart.Checkout(context.Background(), user.ID); err != nil {
		t.Fatalf("checkout must not fail on publish errors: %v", err)
	}
	if _, ok, _ := h.store.FindActiveOrder(user.ID); ok {
		t.Fatalf("order should be completed")
	}
}

func TestAddUnknownBook(t *testing.T) {
	cart := NewCart(store.NewMemoryStore(), nil)
	if _, _, err := cart.Add(1, 999, 1); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
}
