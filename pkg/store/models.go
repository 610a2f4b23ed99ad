package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TelegramID *int64 `gorm:"uniqueIndex"`
	Role       string `gorm:"not null;default:user"`
	FirstName  string `gorm:"not null"`
	LastName   string `gorm:"not null"`
	Email      string `gorm:"uniqueIndex;not null"`
	Phone      string `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NameKey columns hold the lower-cased name so lookups and uniqueness are
// case-insensitive on every dialect.
type CatalogModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"not null"`
	NameKey     string `gorm:"uniqueIndex;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

type AuthorModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	NameKey   string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

type GenreModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"not null"`
	NameKey   string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

type BookModel struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Title       string          `gorm:"not null"`
	TitleKey    string          `gorm:"not null;index:idx_book_catalog_title"`
	Description string          `gorm:"type:text"`
	AuthorID    int64           `gorm:"not null;index"`
	GenreID     int64           `gorm:"not null;index"`
	CatalogID   int64           `gorm:"not null;index:idx_book_catalog_title"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Metadata    datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt   time.Time       `gorm:"not null"`

	Author  AuthorModel  `gorm:"foreignKey:AuthorID"`
	Genre   GenreModel   `gorm:"foreignKey:GenreID"`
	Catalog CatalogModel `gorm:"foreignKey:CatalogID"`
}

type OrderModel struct {
	ID         int64           `gorm:"primaryKey;autoIncrement"`
	UserID     int64           `gorm:"not null;index"`
	Status     string          `gorm:"not null;default:active"`
	OrderDate  *time.Time
	TotalPrice decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt  time.Time       `gorm:"not null"`
	UpdatedAt  time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

type OrderItemModel struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	OrderID      int64           `gorm:"not null;uniqueIndex:idx_order_item_book"`
	BookID       int64           `gorm:"not null;uniqueIndex:idx_order_item_book"`
	Quantity     int             `gorm:"not null;default:1"`
	PriceAtOrder decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt    time.Time       `gorm:"not null"`

	Book BookModel `gorm:"foreignKey:BookID"`
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
