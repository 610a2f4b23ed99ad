package app

import (
	"fmt"
	"strings"
	"time"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
)

const (
	msgWelcomeNew      = "Hi! Looks like you're new here. Let's register."
	msgRegistered      = "Registration complete. Welcome, %s!"
	msgWelcomeBack     = "Hi, %s! Welcome back."
	msgUnknownCommand  = "Unknown command. Please use the menu buttons."
	msgChooseAction    = "Choose an action from the menu."
	msgRegisterFirst   = "Please register first with /start."
	msgMainMenu        = "You are back in the main menu."
	msgAdminMenu       = "You are back in the admin menu."
	msgUserNotFound    = "User not found. Please register with /start."
	msgChooseCategory  = "Choose a category:"
	msgNoCategories    = "No categories found."
	msgNoBooks         = "No books found."
	msgNoBooksCategory = "No books found in this category."
	msgCartEmpty       = "Your cart is empty."
	msgCheckoutEmpty   = "Your cart is empty. Add items before checkout."
	msgCheckoutDone    = "Thank you for your order!\nTotal: %s\nWe will contact you about delivery."
	msgAddedToCart     = "Book '%s' added to cart."
	msgBookNotFound    = "Book not found."
	msgAlreadyOnPage   = "You are already on this page."
	msgInvalidPageTok  = "Invalid page number."
	msgUnknownAction   = "Unknown command."
	msgGotoUsage       = "Please use format: /goto <page_number>"
	msgEmailTaken      = "A user with this email or Telegram ID already exists."
	msgUserAdded       = "User %s added with role '%s'."
	msgPromoteNotFound = "User not found."
	msgPromoted        = "User %s is now an administrator."
	msgTaskStarted     = "%s started. Please wait..."
	msgTaskThrottled   = "%s was started recently. Please try again later."
	msgTaskFailed      = "%s failed: %s"
	msgErrorOccurred   = "An error occurred: %s"
	msgSlowDown        = "Too many requests. Please slow down."
)

func helpText(role domain.UserRole) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	b.WriteString("/start - register or show the main menu\n")
	b.WriteString("/goto <page> - jump to a catalog page\n")
	b.WriteString("/help - show this message\n")
	if role == domain.RoleGuest {
		b.WriteString("\nRegister with /start to browse the catalog.")
		return b.String()
	}
	b.WriteString("\nMenu:\n")
	fmt.Fprintf(&b, "%s - list all books\n", CapBrowse.Label())
	fmt.Fprintf(&b, "%s - pick a category\n", CapCategories.Label())
	fmt.Fprintf(&b, "%s - view your cart and check out\n", CapCart.Label())
	if role == domain.RoleAdmin {
		b.WriteString("\nAdministration:\n")
		b.WriteString("/scrape - import books from Open Library\n")
		fmt.Fprintf(&b, "%s / %s - manage users\n", CapAddUser.Label(), CapPromoteUser.Label())
		fmt.Fprintf(&b, "%s / %s - export data\n", CapExportExcel.Label(), CapExportCSV.Label())
		fmt.Fprintf(&b, "%s - back up the database\n", CapForceBackup.Label())
	}
	return b.String()
}

func errorText(err error) string {
	return fmt.Sprintf(msgErrorOccurred, util.Truncate(err.Error(), util.DisplayLimit))
}

// taskNotice is the broadcast sent to admins when a task finishes.
func taskNotice(res TaskResult) string {
	var b strings.Builder
	if res.Err != nil {
		fmt.Fprintf(&b, msgTaskFailed, res.Kind.Title(), util.Truncate(res.Err.Error(), util.DisplayLimit))
	} else {
		fmt.Fprintf(&b, "%s finished.", res.Kind.Title())
		if res.Outcome.Summary != "" {
			b.WriteString("\n" + res.Outcome.Summary)
		}
	}
	switch res.Kind {
	case TaskExportExcel:
		b.WriteString("\nFormat: Excel")
	case TaskExportCSV:
		b.WriteString("\nFormat: CSV")
	}
	who := res.Initiator.Name
	if who == "" {
		who = "ops API"
	}
	if res.Initiator.UserID != 0 {
		fmt.Fprintf(&b, "\nBy: %s (ID: %d)", who, res.Initiator.UserID)
	} else {
		fmt.Fprintf(&b, "\nBy: %s", who)
	}
	fmt.Fprintf(&b, "\nTime: %s UTC", res.FinishedAt.UTC().Format(time.DateTime))
	return b.String()
}

func displayName(ev Event) string {
	name := strings.TrimSpace(ev.FirstName + " " + ev.LastName)
	if name == "" && ev.Username != "" {
		name = "@" + ev.Username
	}
	return name
}
