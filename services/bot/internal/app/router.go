package app

import (
	"context"
	"errors"
	"fmt"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/domain"
)

// handleCallback routes an inline-button press. The press is always
// answered, with a toast when there is something to say.
func (b *Bot) handleCallback(ctx context.Context, ev Event, id Identity) error {
	var toast string
	defer func() { b.answer(ctx, ev.CallbackID, toast) }()

	tok, err := ParseToken(ev.Data)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("unrecognized callback token", "data", ev.Data, "err", err)
		toast = msgUnknownAction
		if errors.Is(err, ErrInvalidPage) {
			toast = msgInvalidPageTok
		}
		return nil
	}

	switch tok.Action {
	case ActCurrent:
		toast = msgAlreadyOnPage
	case ActBackMain:
		text := msgMainMenu
		if id.Role == domain.RoleAdmin {
			text = msgAdminMenu
		}
		b.sendMenu(ctx, ev.ChatID, id.Role, text)
	case ActPage, ActJump, ActAddToCart:
		if id.User == nil {
			util.LoggerFromContext(ctx).Warn("callback from unregistered user", "data", ev.Data)
			toast = msgUserNotFound
			return nil
		}
		return b.registeredCallback(ctx, ev, id, tok, &toast)
	}
	return nil
}

func (b *Bot) registeredCallback(ctx context.Context, ev Event, id Identity, tok Token, toast *string) error {
	switch tok.Action {
	case ActPage:
		return b.showPage(ctx, ev.ChatID, tok.CatalogID, tok.Page)
	case ActJump:
		pending, prompt := StartJump()
		if err := b.convos.Register(ctx, SessionKey{UserID: ev.UserID, ChatID: ev.ChatID}, pending); err != nil {
			return err
		}
		b.send(ctx, Outgoing{ChatID: ev.ChatID, Text: prompt})
	case ActAddToCart:
		book, _, err := b.cart.Add(id.User.ID, tok.BookID, 1)
		if errors.Is(err, ErrBookNotFound) {
			util.LoggerFromContext(ctx).Warn("book not found", "book_id", tok.BookID)
			*toast = msgBookNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("add to cart: %w", err)
		}
		*toast = fmt.Sprintf(msgAddedToCart, book.Title)
	}
	return nil
}
