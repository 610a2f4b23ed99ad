package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleGuest UserRole = "guest"
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type OrderStatus string

const (
	OrderActive    OrderStatus = "active"
	OrderCompleted OrderStatus = "completed"
)

// DefaultCatalogName is used when ingestion cannot derive a category.
const DefaultCatalogName = "Uncategorized"

// User is a registered identity. TelegramID is nil for users added by an
// admin without a known chat account.
type User struct {
	ID         int64    `json:"id"`
	TelegramID *int64   `json:"telegramId,omitempty"`
	Role       UserRole `json:"role"`
	FirstName  string   `json:"firstName"`
	LastName   string   `json:"lastName"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
}

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// NewUser carries the fields collected by registration and admin wizards.
type NewUser struct {
	TelegramID *int64
	Role       UserRole
	FirstName  string
	LastName   string
	Email      string
	Phone      string
}

type Catalog struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Book is a catalog entry with its author, genre and catalog names resolved.
type Book struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	AuthorID    int64           `json:"authorId"`
	Author      string          `json:"author"`
	GenreID     int64           `json:"genreId"`
	Genre       string          `json:"genre"`
	CatalogID   int64           `json:"catalogId"`
	Catalog     string          `json:"catalog"`
	Price       decimal.Decimal `json:"price"`
}

// NewBook is produced by ingestion. Names are resolved with get-or-create
// semantics by the store.
type NewBook struct {
	Title       string
	Description string
	Author      string
	Genre       string
	Catalog     string
	Price       decimal.Decimal
	Metadata    map[string]string
}

type Order struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"userId"`
	Status     OrderStatus     `json:"status"`
	OrderDate  *time.Time      `json:"orderDate,omitempty"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Items      []OrderItem     `json:"items,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// OrderItem holds the price captured when the book first entered the cart.
type OrderItem struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"orderId"`
	BookID       int64           `json:"bookId"`
	Quantity     int             `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"priceAtOrder"`
	Book         *Book           `json:"book,omitempty"`
}

// LineTotal is quantity times the snapshot price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the line totals of the order items.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}
