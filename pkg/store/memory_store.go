package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bookshopbot/pkg/domain"
)

// MemoryStore keeps everything in-process. It is used by tests and by the
// bot when no database DSN is configured.
type MemoryStore struct {
	mu sync.RWMutex

	nextID   int64
	users    map[int64]domain.User
	byTG     map[int64]int64  // telegram id -> user id
	byEmail  map[string]int64 // lower email -> user id
	catalogs map[int64]domain.Catalog
	authors  map[int64]domain.Author
	genres   map[int64]domain.Genre
	names    map[string]int64 // kind + name key -> id
	books    map[int64]domain.Book
	orders   map[int64]domain.Order
	items    map[int64]domain.OrderItem
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]domain.User),
		byTG:     make(map[int64]int64),
		byEmail:  make(map[string]int64),
		catalogs: make(map[int64]domain.Catalog),
		authors:  make(map[int64]domain.Author),
		genres:   make(map[int64]domain.Genre),
		names:    make(map[string]int64),
		books:    make(map[int64]domain.Book),
		orders:   make(map[int64]domain.Order),
		items:    make(map[int64]domain.OrderItem),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser registers a user.
func (m *MemoryStore) CreateUser(u domain.NewUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := m.byEmail[email]; ok {
		return domain.User{}, ErrDuplicate
	}
	if u.TelegramID != nil {
		if _, ok := m.byTG[*u.TelegramID]; ok {
			return domain.User{}, ErrDuplicate
		}
	}
	role := u.Role
	if role == "" {
		role = domain.RoleUser
	}
	user := domain.User{
		ID:        m.id(),
		Role:      role,
		FirstName: strings.TrimSpace(u.FirstName),
		LastName:  strings.TrimSpace(u.LastName),
		Email:     strings.TrimSpace(u.Email),
		Phone:     strings.TrimSpace(u.Phone),
	}
	if u.TelegramID != nil {
		tg := *u.TelegramID
		user.TelegramID = &tg
		m.byTG[tg] = user.ID
	}
	m.users[user.ID] = user
	m.byEmail[email] = user.ID
	return user, nil
}

// GetUser retrieves a user by ID.
func (m *MemoryStore) GetUser(id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByTelegramID retrieves a user by chat platform id.
func (m *MemoryStore) GetUserByTelegramID(telegramID int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTG[telegramID]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

// Promote grants the admin role.
func (m *MemoryStore) Promote(userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	u.Role = domain.RoleAdmin
	m.users[userID] = u
	return u, nil
}

// ListUsers returns users ordered by id.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *MemoryStore) named(kind, name string, create func(id int64, name string)) (int64, error) {
	key := nameKey(name)
	if key == "" {
		return 0, errors.New("name required")
	}
	if id, ok := m.names[kind+":"+key]; ok {
		return id, nil
	}
	id := m.id()
	create(id, strings.TrimSpace(name))
	m.names[kind+":"+key] = id
	return id, nil
}

func (m *MemoryStore) catalogLocked(name string) (domain.Catalog, error) {
	id, err := m.named("catalog", name, func(id int64, name string) {
		m.catalogs[id] = domain.Catalog{ID: id, Name: name, Description: "Catalog for " + name}
	})
	if err != nil {
		return domain.Catalog{}, err
	}
	return m.catalogs[id], nil
}

func (m *MemoryStore) authorLocked(name string) (domain.Author, error) {
	id, err := m.named("author", name, func(id int64, name string) {
		m.authors[id] = domain.Author{ID: id, Name: name}
	})
	if err != nil {
		return domain.Author{}, err
	}
	return m.authors[id], nil
}

func (m *MemoryStore) genreLocked(name string) (domain.Genre, error) {
	id, err := m.named("genre", name, func(id int64, name string) {
		m.genres[id] = domain.Genre{ID: id, Name: name}
	})
	if err != nil {
		return domain.Genre{}, err
	}
	return m.genres[id], nil
}

// GetOrCreateCatalog returns the catalog with the given name, creating it when missing.
func (m *MemoryStore) GetOrCreateCatalog(name string) (domain.Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalogLocked(name)
}

// GetOrCreateAuthor returns the author with the given name, creating it when missing.
func (m *MemoryStore) GetOrCreateAuthor(name string) (domain.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorLocked(name)
}

// GetOrCreateGenre returns the genre with the given name, creating it when missing.
func (m *MemoryStore) GetOrCreateGenre(name string) (domain.Genre, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genreLocked(name)
}

// FindCatalogByName matches a catalog name case-insensitively.
func (m *MemoryStore) FindCatalogByName(name string) (domain.Catalog, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names["catalog:"+nameKey(name)]
	if !ok {
		return domain.Catalog{}, false, nil
	}
	return m.catalogs[id], true, nil
}

// ListCatalogs returns catalogs ordered by name.
func (m *MemoryStore) ListCatalogs() ([]domain.Catalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Catalog, 0, len(m.catalogs))
	for _, c := range m.catalogs {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// FindBook retrieves a book by ID.
func (m *MemoryStore) FindBook(id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

func (m *MemoryStore) sortedBooks(filter BookFilter) []domain.Book {
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if filter.CatalogID > 0 && b.CatalogID != filter.CatalogID {
			continue
		}
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// CountAndSlice counts the filtered books and returns one page ordered by id.
func (m *MemoryStore) CountAndSlice(filter BookFilter, offset, limit int) (int, []domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sortedBooks(filter)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return len(all), []domain.Book{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]domain.Book, end-offset)
	copy(page, all[offset:end])
	return len(all), page, nil
}

// CreateBookIfAbsent stores a book unless its catalog already has the title.
func (m *MemoryStore) CreateBookIfAbsent(nb domain.NewBook) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	title := strings.TrimSpace(nb.Title)
	if title == "" {
		return domain.Book{}, false, errors.New("title required")
	}
	catalogName := nb.Catalog
	if strings.TrimSpace(catalogName) == "" {
		catalogName = domain.DefaultCatalogName
	}
	catalog, err := m.catalogLocked(catalogName)
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("catalog: %w", err)
	}
	for _, b := range m.books {
		if b.CatalogID == catalog.ID && nameKey(b.Title) == nameKey(title) {
			return b, false, nil
		}
	}
	author, err := m.authorLocked(nb.Author)
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("author: %w", err)
	}
	genre, err := m.genreLocked(nb.Genre)
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("genre: %w", err)
	}
	book := domain.Book{
		ID:          m.id(),
		Title:       title,
		Description: nb.Description,
		AuthorID:    author.ID,
		Author:      author.Name,
		GenreID:     genre.ID,
		Genre:       genre.Name,
		CatalogID:   catalog.ID,
		Catalog:     catalog.Name,
		Price:       nb.Price.Round(2),
	}
	m.books[book.ID] = book
	return book, true, nil
}

// ListBooks returns all books ordered by id.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedBooks(BookFilter{}), nil
}

func (m *MemoryStore) activeOrderLocked(userID int64) (domain.Order, bool) {
	for _, o := range m.orders {
		if o.UserID == userID && o.Status == domain.OrderActive {
			return o, true
		}
	}
	return domain.Order{}, false
}

func (m *MemoryStore) itemsLocked(orderID int64) []domain.OrderItem {
	var res []domain.OrderItem
	for _, item := range m.items {
		if item.OrderID != orderID {
			continue
		}
		if b, ok := m.books[item.BookID]; ok {
			book := b
			item.Book = &book
		}
		res = append(res, item)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// FindActiveOrder returns the user's active order with its items.
func (m *MemoryStore) FindActiveOrder(userID int64) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.activeOrderLocked(userID)
	if !ok {
		return domain.Order{}, false, nil
	}
	o.Items = m.itemsLocked(o.ID)
	return o, true, nil
}

// UpsertOrderItem adds to the active order, creating it when needed.
func (m *MemoryStore) UpsertOrderItem(userID, bookID int64, delta int, price decimal.Decimal) (domain.OrderItem, error) {
	if delta < 1 {
		return domain.OrderItem{}, fmt.Errorf("quantity must be >= 1, got %d", delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.activeOrderLocked(userID)
	if !ok {
		order = domain.Order{
			ID:         m.id(),
			UserID:     userID,
			Status:     domain.OrderActive,
			TotalPrice: decimal.Zero,
			CreatedAt:  time.Now().UTC(),
		}
		m.orders[order.ID] = order
	}
	for id, item := range m.items {
		if item.OrderID == order.ID && item.BookID == bookID {
			item.Quantity += delta
			m.items[id] = item
			return item, nil
		}
	}
	item := domain.OrderItem{
		ID:           m.id(),
		OrderID:      order.ID,
		BookID:       bookID,
		Quantity:     delta,
		PriceAtOrder: price,
	}
	m.items[item.ID] = item
	return item, nil
}

// CommitCheckout completes an active order.
func (m *MemoryStore) CommitCheckout(orderID int64, total decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != domain.OrderActive {
		return ErrNotFound
	}
	ts := at.UTC()
	o.Status = domain.OrderCompleted
	o.TotalPrice = total
	o.OrderDate = &ts
	m.orders[orderID] = o
	return nil
}

// ListOrders returns orders ordered by id.
func (m *MemoryStore) ListOrders() ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		res = append(res, o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// ListOrderItems returns order items ordered by id.
func (m *MemoryStore) ListOrderItems() ([]domain.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.OrderItem, 0, len(m.items))
	for _, item := range m.items {
		res = append(res, item)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
