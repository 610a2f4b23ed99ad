package app

import (
	"strings"

	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/store"
)

// Capability is a menu action. Labels are decoded into capabilities once,
// at the edge; handlers never compare display strings.
type Capability int

const (
	CapUnknown Capability = iota
	CapBrowse
	CapCategories
	CapCart
	CapCheckout
	CapHelp
	CapBack
	CapAddUser
	CapPromoteUser
	CapExportExcel
	CapExportCSV
	CapForceBackup
	CapScrape
)

var capabilityLabels = map[Capability]string{
	CapBrowse:      "Browse books",
	CapCategories:  "Categories",
	CapCart:        "Cart",
	CapCheckout:    "Checkout",
	CapHelp:        "Help",
	CapBack:        "Back",
	CapAddUser:     "Add user",
	CapPromoteUser: "Promote user",
	CapExportExcel: "Export to Excel",
	CapExportCSV:   "Export to CSV",
	CapForceBackup: "Force backup",
	CapScrape:      "Scrape books",
}

var labelCapabilities = func() map[string]Capability {
	out := make(map[string]Capability, len(capabilityLabels))
	for c, label := range capabilityLabels {
		out[strings.ToLower(label)] = c
	}
	return out
}()

// Label is the button text for c.
func (c Capability) Label() string {
	return capabilityLabels[c]
}

// DecodeLabel maps button text to its capability, ignoring case and
// surrounding space. Unknown text yields CapUnknown.
func DecodeLabel(text string) Capability {
	return labelCapabilities[strings.ToLower(strings.TrimSpace(text))]
}

var (
	guestMenu = [][]Capability{{CapHelp}}
	userMenu  = [][]Capability{
		{CapBrowse, CapCategories},
		{CapCart, CapHelp},
	}
	adminMenu = [][]Capability{
		{CapBrowse, CapCategories},
		{CapCart, CapHelp},
		{CapAddUser, CapPromoteUser},
		{CapExportExcel, CapExportCSV},
		{CapForceBackup, CapScrape},
	}
)

// MenuFor returns the menu layout for role.
func MenuFor(role domain.UserRole) [][]Capability {
	switch role {
	case domain.RoleAdmin:
		return adminMenu
	case domain.RoleUser:
		return userMenu
	default:
		return guestMenu
	}
}

// MenuLabels renders the menu for role as keyboard rows.
func MenuLabels(role domain.UserRole) [][]string {
	menu := MenuFor(role)
	rows := make([][]string, 0, len(menu))
	for _, row := range menu {
		labels := make([]string, 0, len(row))
		for _, c := range row {
			labels = append(labels, c.Label())
		}
		rows = append(rows, labels)
	}
	return rows
}

// Allowed reports whether role may invoke c. Checkout is reachable from the
// cart view rather than the main menu, so it is allowed without being listed.
func Allowed(role domain.UserRole, c Capability) bool {
	switch c {
	case CapUnknown:
		return false
	case CapHelp, CapBack:
		return true
	case CapBrowse, CapCategories, CapCart, CapCheckout:
		return role == domain.RoleUser || role == domain.RoleAdmin
	default:
		return role == domain.RoleAdmin
	}
}

// Identity is the resolved sender of an event.
type Identity struct {
	Role domain.UserRole
	// User is nil for guests.
	User *domain.User
}

// Resolve maps an account id to its registered user and role.
func Resolve(s store.Store, telegramID int64) (Identity, error) {
	user, ok, err := s.GetUserByTelegramID(telegramID)
	if err != nil {
		return Identity{}, err
	}
	if !ok {
		return Identity{Role: domain.RoleGuest}, nil
	}
	return Identity{Role: user.Role, User: &user}, nil
}
