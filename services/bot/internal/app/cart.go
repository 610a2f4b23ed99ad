package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/events"
	"bookshopbot/pkg/store"
)

var (
	// ErrEmptyCart is returned when there is no active order or it has no items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrBookNotFound is returned when adding a book id that does not exist.
	ErrBookNotFound = errors.New("book not found")
)

// Cart manages the single active order per user.
type Cart struct {
	store     store.Store
	publisher events.Publisher
	now       func() time.Time
}

// NewCart builds a cart. A nil publisher drops checkout events.
func NewCart(s store.Store, publisher events.Publisher) *Cart {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Cart{store: s, publisher: publisher, now: time.Now}
}

// Add puts qty copies of a book in the user's active order. The price is
// snapshotted on the first add; later adds only bump the quantity.
func (c *Cart) Add(userID, bookID int64, qty int) (domain.Book, domain.OrderItem, error) {
	if qty < 1 {
		return domain.Book{}, domain.OrderItem{}, fmt.Errorf("quantity must be >= 1, got %d", qty)
	}
	book, ok, err := c.store.FindBook(bookID)
	if err != nil {
		return domain.Book{}, domain.OrderItem{}, err
	}
	if !ok {
		return domain.Book{}, domain.OrderItem{}, ErrBookNotFound
	}
	item, err := c.store.UpsertOrderItem(userID, bookID, qty, book.Price)
	if err != nil {
		return domain.Book{}, domain.OrderItem{}, err
	}
	return book, item, nil
}

// View returns the active order with its items.
func (c *Cart) View(userID int64) (domain.Order, error) {
	order, ok, err := c.store.FindActiveOrder(userID)
	if err != nil {
		return domain.Order{}, err
	}
	if !ok || len(order.Items) == 0 {
		return domain.Order{}, ErrEmptyCart
	}
	return order, nil
}

// Checkout completes the active order at the sum of its line totals.
// The next Add starts a fresh order. A failed event publish is logged and
// does not undo the checkout.
func (c *Cart) Checkout(ctx context.Context, userID int64) (domain.Order, error) {
	order, err := c.View(userID)
	if err != nil {
		return domain.Order{}, err
	}
	total := order.Total()
	at := c.now().UTC()
	if err := c.store.CommitCheckout(order.ID, total, at); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Order{}, ErrEmptyCart
		}
		return domain.Order{}, err
	}
	order.Status = domain.OrderCompleted
	order.TotalPrice = total
	order.OrderDate = &at

	evt := events.Event{
		Type:       events.TypeOrderCompleted,
		OccurredAt: at,
		Data: events.OrderCompleted{
			OrderID:    order.ID,
			UserID:     order.UserID,
			TotalPrice: total.StringFixed(2),
			Items:      len(order.Items),
			OrderDate:  at,
		},
	}
	if err := c.publisher.Publish(ctx, evt); err != nil {
		util.LoggerFromContext(ctx).Warn("publish order event failed", "order_id", order.ID, "err", err)
	}
	return order, nil
}
