// Package telegram tells the support team's Telegram chat about shoppers
// who are waiting, and answers a few read-only commands there.
package telegram

import (
	"context"
	"fmt"

	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Bot is the subset of *tgbotapi.BotAPI the notifier uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Connect logs in with the bot token.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return bot, nil
}

// Notifier posts to a single admin chat.
type Notifier struct {
	bot       Bot
	chatID    int64
	localizer *localization.Localizer
	lang      string
}

func NewNotifier(bot Bot, chatID int64, localizer *localization.Localizer, lang string) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, localizer: localizer, lang: lang}
}

// RoomWaiting announces a room nobody has claimed yet.
func (n *Notifier) RoomWaiting(ctx context.Context, room models.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := n.localizer.Format(n.lang, "room_waiting", shopperName(room), room.RoomID)
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		return fmt.Errorf("send waiting notice for room %s: %w", room.RoomID, err)
	}
	return nil
}

func shopperName(room models.Room) string {
	if room.Shopper.Name != "" {
		return room.Shopper.Name
	}
	return room.Shopper.ID
}
