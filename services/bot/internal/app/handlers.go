package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookshopbot/internal/util"
	"bookshopbot/internal/validate"
	"bookshopbot/pkg/domain"
	"bookshopbot/pkg/store"
)

// handleMessage routes text input. Commands and menu labels abandon any
// pending wizard; other text feeds the wizard, then falls back to category
// names.
func (b *Bot) handleMessage(ctx context.Context, ev Event, id Identity) error {
	text := strings.TrimSpace(ev.Text)
	key := SessionKey{UserID: ev.UserID, ChatID: ev.ChatID}

	if strings.HasPrefix(text, "/") {
		if err := b.convos.Drop(ctx, key); err != nil {
			return err
		}
		return b.handleCommand(ctx, ev, id, text)
	}
	if c := DecodeLabel(text); c != CapUnknown {
		if err := b.convos.Drop(ctx, key); err != nil {
			return err
		}
		return b.handleCapability(ctx, ev, id, c)
	}

	pending, ok, err := b.convos.Take(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return b.continueWizard(ctx, ev, id, pending, text)
	}

	if id.User != nil {
		catalog, found, err := b.browser.FindCategory(text)
		if err != nil {
			return err
		}
		if found {
			return b.showPage(ctx, ev.ChatID, catalog.ID, 1)
		}
	}
	b.sendMenu(ctx, ev.ChatID, id.Role, msgUnknownCommand)
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, ev Event, id Identity, text string) error {
	fields := strings.Fields(text)
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch cmd {
	case "/start":
		if id.User != nil {
			b.sendMenu(ctx, ev.ChatID, id.Role, fmt.Sprintf(msgWelcomeBack, id.User.FirstName))
			return nil
		}
		pending, prompt := StartRegistration()
		if err := b.convos.Register(ctx, SessionKey{UserID: ev.UserID, ChatID: ev.ChatID}, pending); err != nil {
			return err
		}
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgWelcomeNew + "\n" + prompt, RemoveKeyboard: true})
	case "/goto":
		if id.User == nil {
			b.sendMenu(ctx, ev.ChatID, id.Role, msgUserNotFound)
			return nil
		}
		if len(args) != 1 {
			b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgGotoUsage})
			return nil
		}
		page, ok := validate.PageNumber(args[0])
		if !ok {
			b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgInvalidPage})
			return nil
		}
		return b.showPage(ctx, ev.ChatID, 0, page)
	case "/help":
		return b.handleCapability(ctx, ev, id, CapHelp)
	case "/scrape":
		return b.handleCapability(ctx, ev, id, CapScrape)
	default:
		b.sendMenu(ctx, ev.ChatID, id.Role, msgUnknownCommand)
	}
	return nil
}

// handleCapability runs a menu action after checking the role allows it.
// Disallowed actions re-show the caller's own menu.
func (b *Bot) handleCapability(ctx context.Context, ev Event, id Identity, c Capability) error {
	if !Allowed(id.Role, c) {
		util.LoggerFromContext(ctx).Warn("action not permitted", "role", string(id.Role), "action", c.Label())
		text := msgChooseAction
		if id.Role == domain.RoleGuest {
			text = msgRegisterFirst
		}
		b.sendMenu(ctx, ev.ChatID, id.Role, text)
		return nil
	}
	key := SessionKey{UserID: ev.UserID, ChatID: ev.ChatID}

	switch c {
	case CapBrowse:
		return b.showPage(ctx, ev.ChatID, 0, 1)
	case CapCategories:
		return b.showCategories(ctx, ev, id)
	case CapCart:
		return b.showCart(ctx, ev, id)
	case CapCheckout:
		return b.checkout(ctx, ev, id)
	case CapHelp:
		b.sendMenu(ctx, ev.ChatID, id.Role, helpText(id.Role))
	case CapBack:
		text := msgMainMenu
		if id.Role == domain.RoleAdmin {
			text = msgAdminMenu
		}
		b.sendMenu(ctx, ev.ChatID, id.Role, text)
	case CapAddUser, CapPromoteUser:
		start := StartAddUser
		if c == CapPromoteUser {
			start = StartPromote
		}
		pending, prompt := start()
		if err := b.convos.Register(ctx, key, pending); err != nil {
			return err
		}
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: prompt, RemoveKeyboard: true})
	case CapExportExcel:
		return b.launch(ctx, ev, TaskExportExcel)
	case CapExportCSV:
		return b.launch(ctx, ev, TaskExportCSV)
	case CapForceBackup:
		return b.launch(ctx, ev, TaskBackup)
	case CapScrape:
		return b.launch(ctx, ev, TaskScrape)
	}
	return nil
}

func (b *Bot) launch(ctx context.Context, ev Event, kind TaskKind) error {
	job, err := b.launcher.Launch(ctx, kind, Initiator{ChatID: ev.ChatID, UserID: ev.UserID, Name: displayName(ev)})
	if errors.Is(err, ErrThrottled) {
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: fmt.Sprintf(msgTaskThrottled, kind.Title())})
		return nil
	}
	if err != nil {
		return fmt.Errorf("launch %s: %w", kind, err)
	}
	b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: fmt.Sprintf(msgTaskStarted, kind.Title())})
	util.LoggerFromContext(ctx).Info("task launched", "job_id", job.ID, "kind", string(kind))
	return nil
}

func (b *Bot) continueWizard(ctx context.Context, ev Event, id Identity, pending Pending, text string) error {
	key := SessionKey{UserID: ev.UserID, ChatID: ev.ChatID}
	res := Advance(pending, text)
	if res.Next != nil {
		if err := b.convos.Register(ctx, key, *res.Next); err != nil {
			return err
		}
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: res.Reply})
		return nil
	}
	if res.Reply != "" {
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: res.Reply})
	}

	switch res.Effect.Kind {
	case EffectRegister:
		if id.User != nil {
			b.sendMenu(ctx, ev.ChatID, id.Role, fmt.Sprintf(msgWelcomeBack, id.User.FirstName))
			return nil
		}
		nu := res.Effect.User
		telegramID := ev.UserID
		nu.TelegramID = &telegramID
		nu.Role = domain.RoleUser
		if b.isAdmin(ev.UserID) {
			nu.Role = domain.RoleAdmin
		}
		user, err := b.store.CreateUser(nu)
		if errors.Is(err, store.ErrDuplicate) {
			retry := Pending{Flow: FlowRegister, Step: StepEmail, Draft: pending.Draft}
			retry.Draft.Email = ""
			if err := b.convos.Register(ctx, key, retry); err != nil {
				return err
			}
			b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgEmailTaken + "\n" + promptEmail})
			return nil
		}
		if err != nil {
			return fmt.Errorf("register user: %w", err)
		}
		util.LoggerFromContext(ctx).Info("user registered", "id", user.ID, "role", string(user.Role))
		b.sendMenu(ctx, ev.ChatID, user.Role, fmt.Sprintf(msgRegistered, user.FirstName))
	case EffectCreateUser:
		if id.Role != domain.RoleAdmin {
			util.LoggerFromContext(ctx).Warn("admin wizard finished by non-admin", "role", string(id.Role))
			b.sendMenu(ctx, ev.ChatID, id.Role, msgChooseAction)
			return nil
		}
		user, err := b.store.CreateUser(res.Effect.User)
		if errors.Is(err, store.ErrDuplicate) {
			b.sendMenu(ctx, ev.ChatID, id.Role, msgEmailTaken)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		util.LoggerFromContext(ctx).Info("user added", "id", user.ID, "role", string(user.Role))
		b.sendMenu(ctx, ev.ChatID, id.Role, fmt.Sprintf(msgUserAdded, user.FullName(), user.Role))
	case EffectPromote:
		if id.Role != domain.RoleAdmin {
			util.LoggerFromContext(ctx).Warn("admin wizard finished by non-admin", "role", string(id.Role))
			b.sendMenu(ctx, ev.ChatID, id.Role, msgChooseAction)
			return nil
		}
		user, err := b.store.Promote(res.Effect.UserID)
		if errors.Is(err, store.ErrNotFound) {
			util.LoggerFromContext(ctx).Warn("promote target not found", "id", res.Effect.UserID)
			b.sendMenu(ctx, ev.ChatID, id.Role, msgPromoteNotFound)
			return nil
		}
		if err != nil {
			return fmt.Errorf("promote user: %w", err)
		}
		util.LoggerFromContext(ctx).Info("user promoted", "id", user.ID)
		b.sendMenu(ctx, ev.ChatID, id.Role, fmt.Sprintf(msgPromoted, user.FullName()))
	case EffectShowPage:
		if id.User == nil {
			b.sendMenu(ctx, ev.ChatID, id.Role, msgUserNotFound)
			return nil
		}
		return b.showPage(ctx, ev.ChatID, 0, res.Effect.Page)
	}
	return nil
}

// showPage sends one message per book, then the pager.
func (b *Bot) showPage(ctx context.Context, chatID, catalogID int64, page int) error {
	view, err := b.browser.ListPage(catalogID, page)
	if err != nil {
		return fmt.Errorf("list books: %w", err)
	}
	if view.Empty() {
		text := msgNoBooks
		if catalogID > 0 {
			text = msgNoBooksCategory
		}
		b.send(ctx, Outgoing{ChatID: chatID, Text: text})
		return nil
	}
	for _, card := range view.Cards {
		b.send(ctx, Outgoing{ChatID: chatID, Text: card.Text, Markdown: true, Inline: [][]Button{{card.Action}}})
	}
	b.send(ctx, Outgoing{ChatID: chatID, Text: view.Footer(), Inline: view.Pager})
	return nil
}

func (b *Bot) showCategories(ctx context.Context, ev Event, id Identity) error {
	catalogs, err := b.browser.Categories()
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	if len(catalogs) == 0 {
		b.sendMenu(ctx, ev.ChatID, id.Role, msgNoCategories)
		return nil
	}
	rows := make([][]string, 0, len(catalogs)/2+2)
	for i := 0; i < len(catalogs); i += 2 {
		row := []string{catalogs[i].Name}
		if i+1 < len(catalogs) {
			row = append(row, catalogs[i+1].Name)
		}
		rows = append(rows, row)
	}
	rows = append(rows, []string{CapBack.Label()})
	b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: msgChooseCategory, Reply: rows})
	return nil
}

func (b *Bot) showCart(ctx context.Context, ev Event, id Identity) error {
	order, err := b.cart.View(id.User.ID)
	if errors.Is(err, ErrEmptyCart) {
		b.sendMenu(ctx, ev.ChatID, id.Role, msgCartEmpty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("view cart: %w", err)
	}
	for _, item := range order.Items {
		title := fmt.Sprintf("Book #%d", item.BookID)
		if item.Book != nil {
			title = item.Book.Title
		}
		b.send(ctx, Outgoing{
			ChatID:   ev.ChatID,
			Markdown: true,
			Text: fmt.Sprintf("*%s*\nQuantity: %d\nPrice: %s\nSubtotal: %s",
				title, item.Quantity, item.PriceAtOrder.StringFixed(2), item.LineTotal().StringFixed(2)),
		})
	}
	b.send(ctx, Outgoing{
		ChatID: ev.ChatID,
		Text:   "Total: " + order.Total().StringFixed(2),
		Reply:  [][]string{{CapCheckout.Label()}, {CapBack.Label()}},
	})
	return nil
}

func (b *Bot) checkout(ctx context.Context, ev Event, id Identity) error {
	order, err := b.cart.Checkout(ctx, id.User.ID)
	if errors.Is(err, ErrEmptyCart) {
		b.sendMenu(ctx, ev.ChatID, id.Role, msgCheckoutEmpty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	util.LoggerFromContext(ctx).Info("order completed", "order_id", order.ID, "total", order.TotalPrice.StringFixed(2))
	b.sendMenu(ctx, ev.ChatID, id.Role, fmt.Sprintf(msgCheckoutDone, order.TotalPrice.StringFixed(2)))
	return nil
}
