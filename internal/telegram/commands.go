package telegram

import (
	"context"
	"strings"

	"supportchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WaitingLister reports rooms nobody has claimed yet.
type WaitingLister interface {
	WaitingRooms() []models.Room
}

// Commands answers admin chat commands. Messages from any other chat are ignored.
type Commands struct {
	*Notifier
	rooms WaitingLister
}

func NewCommands(n *Notifier, rooms WaitingLister) *Commands {
	return &Commands{Notifier: n, rooms: rooms}
}

// Run handles updates until ctx is done or the channel closes.
func (c *Commands) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.Handle(&update)
		}
	}
}

// Handle replies to a single update.
func (c *Commands) Handle(update *tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Chat.ID != c.chatID {
		return
	}

	var text string
	switch msg.Command() {
	case "waiting":
		text = c.waitingText()
	default:
		text = c.localizer.GetString(c.lang, "unknown_command")
	}

	if _, err := c.bot.Send(tgbotapi.NewMessage(c.chatID, text)); err != nil {
		zap.S().Warnw("failed to answer telegram command", "command", msg.Command(), "error", err)
	}
}

func (c *Commands) waitingText() string {
	waiting := c.rooms.WaitingRooms()
	if len(waiting) == 0 {
		return c.localizer.GetString(c.lang, "waiting_rooms_empty")
	}

	var b strings.Builder
	b.WriteString(c.localizer.Format(c.lang, "waiting_rooms_header", len(waiting)))
	for _, room := range waiting {
		b.WriteString("\n")
		b.WriteString(c.localizer.Format(c.lang, "waiting_room_line",
			shopperName(room), room.CreatedAt.Format("15:04"), room.RoomID))
	}
	return b.String()
}
