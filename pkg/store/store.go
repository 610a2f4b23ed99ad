package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bookshopbot/pkg/domain"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique email or telegram id already exists.
	ErrDuplicate = errors.New("already exists")
)

// BookFilter narrows a catalog listing. A zero CatalogID lists every book.
type BookFilter struct {
	CatalogID int64
}

// Store defines persistence operations for identities, the catalog and orders.
type Store interface {
	// users
	CreateUser(domain.NewUser) (domain.User, error)
	GetUser(id int64) (domain.User, bool, error)
	GetUserByTelegramID(telegramID int64) (domain.User, bool, error)
	Promote(userID int64) (domain.User, error)
	ListUsers() ([]domain.User, error)

	// catalog
	GetOrCreateCatalog(name string) (domain.Catalog, error)
	GetOrCreateAuthor(name string) (domain.Author, error)
	GetOrCreateGenre(name string) (domain.Genre, error)
	FindCatalogByName(name string) (domain.Catalog, bool, error)
	ListCatalogs() ([]domain.Catalog, error)
	FindBook(id int64) (domain.Book, bool, error)
	// CountAndSlice returns the filtered total and one slice ordered by book id ascending.
	CountAndSlice(filter BookFilter, offset, limit int) (int, []domain.Book, error)
	CreateBookIfAbsent(domain.NewBook) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)

	// orders
	FindActiveOrder(userID int64) (domain.Order, bool, error)
	// UpsertOrderItem adds delta copies of a book to the user's active order,
	// creating the order lazily. price is only recorded when the item is new.
	UpsertOrderItem(userID, bookID int64, delta int, price decimal.Decimal) (domain.OrderItem, error)
	// CommitCheckout moves an active order to completed. It returns ErrNotFound
	// when the order is missing or no longer active.
	CommitCheckout(orderID int64, total decimal.Decimal, at time.Time) error
	ListOrders() ([]domain.Order, error)
	ListOrderItems() ([]domain.OrderItem, error)
}
