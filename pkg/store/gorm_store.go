package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookshopbot/pkg/domain"
)

const migrateLockID int64 = 51820417

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	return NewGormStoreWithDialector(postgres.Open(dsn))
}

// NewGormStoreWithDialector opens any GORM dialector and runs auto-migrations.
// The advisory migration lock is only taken on Postgres.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{}, &CatalogModel{}, &AuthorModel{}, &GenreModel{},
			&BookModel{}, &OrderModel{}, &OrderItemModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		// at most one active order per identity
		if err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_one_active
			ON order_models (user_id) WHERE status = 'active'`).Error; err != nil {
			return fmt.Errorf("create active order index: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser registers a new identity.
func (s *GormStore) CreateUser(u domain.NewUser) (domain.User, error) {
	role := u.Role
	if role == "" {
		role = domain.RoleUser
	}
	model := UserModel{
		TelegramID: u.TelegramID,
		Role:       string(role),
		FirstName:  strings.TrimSpace(u.FirstName),
		LastName:   strings.TrimSpace(u.LastName),
		Email:      strings.TrimSpace(u.Email),
		Phone:      strings.TrimSpace(u.Phone),
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.User{}, ErrDuplicate
		}
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// GetUser returns a user by primary key.
func (s *GormStore) GetUser(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByTelegramID looks up a user by chat platform id.
func (s *GormStore) GetUserByTelegramID(telegramID int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("telegram_id = ?", telegramID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// Promote grants the admin role.
func (s *GormStore) Promote(userID int64) (domain.User, error) {
	user, ok, err := s.GetUser(userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	if err := s.db.Model(&UserModel{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"role":       string(domain.RoleAdmin),
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return domain.User{}, err
	}
	user.Role = domain.RoleAdmin
	return user, nil
}

// ListUsers returns all users ordered by id.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// GetOrCreateCatalog returns the catalog with the given name, creating it when missing.
func (s *GormStore) GetOrCreateCatalog(name string) (domain.Catalog, error) {
	m, err := getOrCreateNamed(s.db, name, func(name, key string) *CatalogModel {
		return &CatalogModel{Name: name, NameKey: key, Description: "Catalog for " + name}
	})
	if err != nil {
		return domain.Catalog{}, err
	}
	return catalogFromModel(*m), nil
}

// GetOrCreateAuthor returns the author with the given name, creating it when missing.
func (s *GormStore) GetOrCreateAuthor(name string) (domain.Author, error) {
	m, err := getOrCreateNamed(s.db, name, func(name, key string) *AuthorModel {
		return &AuthorModel{Name: name, NameKey: key}
	})
	if err != nil {
		return domain.Author{}, err
	}
	return domain.Author{ID: m.ID, Name: m.Name}, nil
}

// GetOrCreateGenre returns the genre with the given name, creating it when missing.
func (s *GormStore) GetOrCreateGenre(name string) (domain.Genre, error) {
	m, err := getOrCreateNamed(s.db, name, func(name, key string) *GenreModel {
		return &GenreModel{Name: name, NameKey: key}
	})
	if err != nil {
		return domain.Genre{}, err
	}
	return domain.Genre{ID: m.ID, Name: m.Name}, nil
}

// getOrCreateNamed is safe against a concurrent insert of the same name:
// the insert is a no-op on conflict and the row is read back.
func getOrCreateNamed[T any](db *gorm.DB, name string, build func(name, key string) *T) (*T, error) {
	key := nameKey(name)
	if key == "" {
		return nil, errors.New("name required")
	}
	var existing T
	err := db.Where("name_key = ?", key).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := build(strings.TrimSpace(name), key)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	var created T
	if err := db.Where("name_key = ?", key).First(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

// FindCatalogByName matches a catalog name case-insensitively.
func (s *GormStore) FindCatalogByName(name string) (domain.Catalog, bool, error) {
	key := nameKey(name)
	if key == "" {
		return domain.Catalog{}, false, nil
	}
	var model CatalogModel
	if err := s.db.Where("name_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Catalog{}, false, nil
		}
		return domain.Catalog{}, false, err
	}
	return catalogFromModel(model), true, nil
}

// ListCatalogs returns catalogs ordered by name.
func (s *GormStore) ListCatalogs() ([]domain.Catalog, error) {
	var models []CatalogModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Catalog, 0, len(models))
	for _, m := range models {
		res = append(res, catalogFromModel(m))
	}
	return res, nil
}

func (s *GormStore) books() *gorm.DB {
	return s.db.Preload("Author").Preload("Genre").Preload("Catalog")
}

// FindBook retrieves a book with its names resolved.
func (s *GormStore) FindBook(id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.books().First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// CountAndSlice counts the filtered books and loads one page ordered by id.
func (s *GormStore) CountAndSlice(filter BookFilter, offset, limit int) (int, []domain.Book, error) {
	scope := func(tx *gorm.DB) *gorm.DB {
		if filter.CatalogID > 0 {
			return tx.Where("catalog_id = ?", filter.CatalogID)
		}
		return tx
	}
	var total int64
	if err := s.db.Model(&BookModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return 0, nil, err
	}
	if total == 0 || limit <= 0 {
		return int(total), []domain.Book{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var models []BookModel
	if err := s.books().Scopes(scope).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return 0, nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return int(total), res, nil
}

// CreateBookIfAbsent stores an ingested book unless the catalog already holds
// a book with the same title. The bool reports whether a row was created.
func (s *GormStore) CreateBookIfAbsent(nb domain.NewBook) (domain.Book, bool, error) {
	title := strings.TrimSpace(nb.Title)
	if title == "" {
		return domain.Book{}, false, errors.New("title required")
	}
	var bookID int64
	created := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		catalogName := nb.Catalog
		if strings.TrimSpace(catalogName) == "" {
			catalogName = domain.DefaultCatalogName
		}
		catalog, err := getOrCreateNamed(tx, catalogName, func(name, key string) *CatalogModel {
			return &CatalogModel{Name: name, NameKey: key, Description: "Catalog for " + name}
		})
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		var existing BookModel
		err = tx.Where("catalog_id = ? AND title_key = ?", catalog.ID, nameKey(title)).First(&existing).Error
		if err == nil {
			bookID = existing.ID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		author, err := getOrCreateNamed(tx, nb.Author, func(name, key string) *AuthorModel {
			return &AuthorModel{Name: name, NameKey: key}
		})
		if err != nil {
			return fmt.Errorf("author: %w", err)
		}
		genre, err := getOrCreateNamed(tx, nb.Genre, func(name, key string) *GenreModel {
			return &GenreModel{Name: name, NameKey: key}
		})
		if err != nil {
			return fmt.Errorf("genre: %w", err)
		}
		meta, _ := json.Marshal(nb.Metadata)
		model := BookModel{
			Title:       title,
			TitleKey:    nameKey(title),
			Description: nb.Description,
			AuthorID:    author.ID,
			GenreID:     genre.ID,
			CatalogID:   catalog.ID,
			Price:       nb.Price.Round(2),
			Metadata:    meta,
			CreatedAt:   time.Now().UTC(),
		}
		if err := tx.Omit(clause.Associations).Create(&model).Error; err != nil {
			return err
		}
		bookID = model.ID
		created = true
		return nil
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	book, ok, err := s.FindBook(bookID)
	if err != nil {
		return domain.Book{}, false, err
	}
	if !ok {
		return domain.Book{}, false, ErrNotFound
	}
	return book, created, nil
}

// ListBooks returns the whole catalog ordered by id.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.books().Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// FindActiveOrder returns the user's active order with items in creation order.
func (s *GormStore) FindActiveOrder(userID int64) (domain.Order, bool, error) {
	var model OrderModel
	err := s.db.
		Preload("Items.Book.Author").
		Preload("Items.Book.Genre").
		Preload("Items.Book.Catalog").
		Where("user_id = ? AND status = ?", userID, string(domain.OrderActive)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	return orderFromModel(model), true, nil
}

// UpsertOrderItem adds to the active order, creating it when needed.
func (s *GormStore) UpsertOrderItem(userID, bookID int64, delta int, price decimal.Decimal) (domain.OrderItem, error) {
	if delta < 1 {
		return domain.OrderItem{}, fmt.Errorf("quantity must be >= 1, got %d", delta)
	}
	var item OrderItemModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var order OrderModel
		err := tx.Where("user_id = ? AND status = ?", userID, string(domain.OrderActive)).First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			order = OrderModel{
				UserID:     userID,
				Status:     string(domain.OrderActive),
				TotalPrice: decimal.Zero,
				CreatedAt:  time.Now().UTC(),
			}
			if err := tx.Omit(clause.Associations).Create(&order).Error; err != nil {
				return fmt.Errorf("create order: %w", err)
			}
		} else if err != nil {
			return err
		}

		err = tx.Where("order_id = ? AND book_id = ?", order.ID, bookID).First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			item = OrderItemModel{
				OrderID:      order.ID,
				BookID:       bookID,
				Quantity:     delta,
				PriceAtOrder: price,
				CreatedAt:    time.Now().UTC(),
			}
			return tx.Omit(clause.Associations).Create(&item).Error
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&OrderItemModel{}).
			Where("id = ?", item.ID).
			Update("quantity", gorm.Expr("quantity + ?", delta)).Error; err != nil {
			return err
		}
		item.Quantity += delta
		return nil
	})
	if err != nil {
		return domain.OrderItem{}, err
	}
	return orderItemFromModel(item), nil
}

// CommitCheckout freezes the total and timestamps the order.
func (s *GormStore) CommitCheckout(orderID int64, total decimal.Decimal, at time.Time) error {
	res := s.db.Model(&OrderModel{}).
		Where("id = ? AND status = ?", orderID, string(domain.OrderActive)).
		Updates(map[string]any{
			"status":      string(domain.OrderCompleted),
			"total_price": total,
			"order_date":  at.UTC(),
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrders returns every order without items.
func (s *GormStore) ListOrders() ([]domain.Order, error) {
	var models []OrderModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Order, 0, len(models))
	for _, m := range models {
		res = append(res, orderFromModel(m))
	}
	return res, nil
}

// ListOrderItems returns every order item.
func (s *GormStore) ListOrderItems() ([]domain.OrderItem, error) {
	var models []OrderItemModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.OrderItem, 0, len(models))
	for _, m := range models {
		res = append(res, orderItemFromModel(m))
	}
	return res, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		TelegramID: m.TelegramID,
		Role:       domain.UserRole(m.Role),
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Email:      m.Email,
		Phone:      m.Phone,
	}
}

func catalogFromModel(m CatalogModel) domain.Catalog {
	return domain.Catalog{ID: m.ID, Name: m.Name, Description: m.Description}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		AuthorID:    m.AuthorID,
		Author:      m.Author.Name,
		GenreID:     m.GenreID,
		Genre:       m.Genre.Name,
		CatalogID:   m.CatalogID,
		Catalog:     m.Catalog.Name,
		Price:       m.Price,
	}
}

func orderFromModel(m OrderModel) domain.Order {
	order := domain.Order{
		ID:         m.ID,
		UserID:     m.UserID,
		Status:     domain.OrderStatus(m.Status),
		OrderDate:  m.OrderDate,
		TotalPrice: m.TotalPrice,
		CreatedAt:  m.CreatedAt,
	}
	if len(m.Items) > 0 {
		items := make([]domain.OrderItem, 0, len(m.Items))
		for _, item := range m.Items {
			items = append(items, orderItemFromModel(item))
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		order.Items = items
	}
	return order
}

func orderItemFromModel(m OrderItemModel) domain.OrderItem {
	item := domain.OrderItem{
		ID:           m.ID,
		OrderID:      m.OrderID,
		BookID:       m.BookID,
		Quantity:     m.Quantity,
		PriceAtOrder: m.PriceAtOrder,
	}
	if m.Book.ID != 0 {
		book := bookFromModel(m.Book)
		item.Book = &book
	}
	return item
}
