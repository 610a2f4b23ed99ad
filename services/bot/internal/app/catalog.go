package app

import (
	"fmt"
	"slices"
	"strings"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/store"
)

// DefaultPageSize is the number of books per catalog page.
const DefaultPageSize = 6

// Browser serves paginated catalog listings.
type Browser struct {
	store    store.Store
	pageSize int
}

func NewBrowser(s store.Store, pageSize int) *Browser {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Browser{store: s, pageSize: pageSize}
}

// BookCard is one rendered book with its add-to-cart button.
type BookCard struct {
	Book   domain.Book
	Text   string
	Action Button
}

// CatalogView is one page of a listing. CatalogID is zero when unfiltered.
type CatalogView struct {
	CatalogID int64
	Total     int
	Page      Page
	Cards     []BookCard
	Pager     [][]Button
}

func (v CatalogView) Empty() bool { return v.Total == 0 }

// Footer is the "Page X of Y." line sent with the pager.
func (v CatalogView) Footer() string {
	return fmt.Sprintf("Page %d of %d.", v.Page.Number, v.Page.TotalPages)
}

// ListPage returns the requested page, clamped to the available range.
func (b *Browser) ListPage(catalogID int64, requested int) (CatalogView, error) {
	filter := store.BookFilter{CatalogID: catalogID}
	total, _, err := b.store.CountAndSlice(filter, 0, 0)
	if err != nil {
		return CatalogView{}, err
	}
	page := Paginate(total, b.pageSize, requested)
	view := CatalogView{CatalogID: catalogID, Total: total, Page: page}
	if total == 0 {
		return view, nil
	}
	_, books, err := b.store.CountAndSlice(filter, page.Offset, page.Limit)
	if err != nil {
		return CatalogView{}, err
	}
	view.Cards = make([]BookCard, 0, len(books))
	for _, book := range books {
		view.Cards = append(view.Cards, BookCard{
			Book:   book,
			Text:   FormatBook(book),
			Action: Button{Text: "Add to cart", Data: AddToCartToken(book.ID).String()},
		})
	}
	view.Pager = Keyboard(page, catalogID)
	return view, nil
}

// Categories lists catalogs sorted by name.
func (b *Browser) Categories() ([]domain.Catalog, error) {
	catalogs, err := b.store.ListCatalogs()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(catalogs, func(a, c domain.Catalog) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(c.Name))
	})
	return catalogs, nil
}

// FindCategory matches a catalog by exact, case-insensitive name.
func (b *Browser) FindCategory(name string) (domain.Catalog, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Catalog{}, false, nil
	}
	return b.store.FindCatalogByName(name)
}

// FormatBook renders a book summary in Markdown.
func FormatBook(book domain.Book) string {
	return fmt.Sprintf("*%s*\nAuthor: %s\nGenre: %s\nCatalog: %s\nPrice: %s",
		book.Title, book.Author, book.Genre, book.Catalog, book.Price.StringFixed(2))
}
