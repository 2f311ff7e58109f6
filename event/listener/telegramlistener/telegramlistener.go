// Package telegramlistener adapts the event fabric's Listener interface
// to a Telegram chat, mirroring discordlistener for operators who run
// Telegram rather than Discord for notifications. Grounded on the
// teacher's bundled github.com/go-telegram-bot-api/telegram-bot-api/v5
// dependency, likewise present in go.mod without a prior call site.
package telegramlistener

import (
	"encoding/json"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/redpesk-core/go-binder/event"
)

// Adapter forwards event notifications to a single Telegram chat.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New authenticates a Telegram bot with botToken and targets chatID for
// all forwarded notifications.
func New(botToken string, chatID int64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegramlistener: create bot: %w", err)
	}
	return &Adapter{bot: bot, chatID: chatID}, nil
}

// Interface builds an event.Interface that posts every add/remove/push/
// broadcast notification as a Telegram message.
func (a *Adapter) Interface() event.Interface {
	return event.Interface{
		Add:       a.onAdd,
		Remove:    a.onRemove,
		Push:      a.onPush,
		Broadcast: a.onBroadcast,
	}
}

func (a *Adapter) onAdd(fullname string, id uint16) {
	a.send(fmt.Sprintf("watching %s (id %d)", fullname, id))
}

func (a *Adapter) onRemove(fullname string, id uint16) {
	a.send(fmt.Sprintf("stopped watching %s (id %d)", fullname, id))
}

func (a *Adapter) onPush(env event.PushEnvelope) {
	a.send(fmt.Sprintf("%s %s", env.Event, jsonOrString(env.Params)))
}

func (a *Adapter) onBroadcast(env event.BroadcastEnvelope) {
	a.send(fmt.Sprintf("broadcast %s %s (uuid %s, hop %d)", env.Event, jsonOrString(env.Params), env.UUID, env.Hop))
}

func (a *Adapter) send(text string) {
	msg := tgbotapi.NewMessage(a.chatID, text)
	if _, err := a.bot.Send(msg); err != nil {
		slog.Error("telegramlistener: send message", "error", err)
	}
}

func jsonOrString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
