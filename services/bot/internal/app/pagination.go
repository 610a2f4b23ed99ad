package app

import (
	"errors"
	"strconv"
	"strings"
)

// Page is one clamped window of a listing.
type Page struct {
	Number     int
	TotalPages int
	Offset     int
	Limit      int
}

// Paginate clamps requested into [1, totalPages]. An empty listing has
// zero pages and its Number stays at 1.
func Paginate(total, size, requested int) Page {
	if size < 1 {
		size = 1
	}
	totalPages := max((total+size-1)/size, 0)
	number := min(max(requested, 1), max(totalPages, 1))
	return Page{
		Number:     number,
		TotalPages: totalPages,
		Offset:     (number - 1) * size,
		Limit:      size,
	}
}

func (p Page) HasPrev() bool { return p.Number > 1 }
func (p Page) HasNext() bool { return p.Number < p.TotalPages }

// Action is the kind of an inline-button token.
type Action int

const (
	ActPage Action = iota + 1
	ActCurrent
	ActJump
	ActAddToCart
	ActBackMain
)

const (
	tokenPage      = "page"
	tokenCatalog   = "catalog"
	tokenCurrent   = "current"
	tokenJump      = "jump_page"
	tokenAddToCart = "add_to_cart"
	tokenBackMain  = "back_main"
)

var (
	// ErrInvalidPage marks a page token whose numbers do not parse.
	ErrInvalidPage = errors.New("invalid page token")
	// ErrUnknownToken marks any other undecodable token.
	ErrUnknownToken = errors.New("unknown callback token")
)

// Token is a decoded inline-button payload.
type Token struct {
	Action    Action
	Page      int
	CatalogID int64
	BookID    int64
}

func PageToken(page int, catalogID int64) Token {
	return Token{Action: ActPage, Page: page, CatalogID: catalogID}
}

func AddToCartToken(bookID int64) Token {
	return Token{Action: ActAddToCart, BookID: bookID}
}

// String encodes the token. Grammar:
//
//	page:<n>[:catalog:<id>] | current | jump_page | add_to_cart:<id> | back_main
func (t Token) String() string {
	switch t.Action {
	case ActPage:
		s := tokenPage + ":" + strconv.Itoa(t.Page)
		if t.CatalogID > 0 {
			s += ":" + tokenCatalog + ":" + strconv.FormatInt(t.CatalogID, 10)
		}
		return s
	case ActCurrent:
		return tokenCurrent
	case ActJump:
		return tokenJump
	case ActAddToCart:
		return tokenAddToCart + ":" + strconv.FormatInt(t.BookID, 10)
	case ActBackMain:
		return tokenBackMain
	}
	return ""
}

// ParseToken decodes an inline-button payload.
func ParseToken(s string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch parts[0] {
	case tokenPage:
		return parsePageToken(parts)
	case tokenCurrent, tokenJump, tokenBackMain:
		if len(parts) != 1 {
			return Token{}, ErrUnknownToken
		}
		return Token{Action: map[string]Action{
			tokenCurrent:  ActCurrent,
			tokenJump:     ActJump,
			tokenBackMain: ActBackMain,
		}[parts[0]]}, nil
	case tokenAddToCart:
		if len(parts) != 2 {
			return Token{}, ErrUnknownToken
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id < 1 {
			return Token{}, ErrUnknownToken
		}
		return AddToCartToken(id), nil
	}
	return Token{}, ErrUnknownToken
}

func parsePageToken(parts []string) (Token, error) {
	if len(parts) != 2 && len(parts) != 4 {
		return Token{}, ErrInvalidPage
	}
	page, err := strconv.Atoi(parts[1])
	if err != nil || page < 1 {
		return Token{}, ErrInvalidPage
	}
	var catalogID int64
	if len(parts) == 4 {
		if parts[2] != tokenCatalog {
			return Token{}, ErrInvalidPage
		}
		catalogID, err = strconv.ParseInt(parts[3], 10, 64)
		if err != nil || catalogID < 1 {
			return Token{}, ErrInvalidPage
		}
	}
	return PageToken(page, catalogID), nil
}

// pagerWindow is how many page buttons are shown on each side of the current one.
const pagerWindow = 2

// Keyboard renders the pager for p: a navigation row, then jump and back rows.
func Keyboard(p Page, catalogID int64) [][]Button {
	nav := make([]Button, 0, 2*pagerWindow+3)
	if p.HasPrev() {
		nav = append(nav, Button{Text: "◀️", Data: PageToken(p.Number-1, catalogID).String()})
	}
	for i := max(1, p.Number-pagerWindow); i <= min(p.TotalPages, p.Number+pagerWindow); i++ {
		if i == p.Number {
			nav = append(nav, Button{Text: "📄 " + strconv.Itoa(i), Data: tokenCurrent})
			continue
		}
		nav = append(nav, Button{Text: strconv.Itoa(i), Data: PageToken(i, catalogID).String()})
	}
	if p.HasNext() {
		nav = append(nav, Button{Text: "▶️", Data: PageToken(p.Number+1, catalogID).String()})
	}
	return [][]Button{
		nav,
		{{Text: "Go to page", Data: tokenJump}},
		{{Text: CapBack.Label(), Data: tokenBackMain}},
	}
}
