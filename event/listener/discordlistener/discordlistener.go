// Package discordlistener adapts the event fabric's Listener interface
// to a Discord channel: every pushed or broadcast event is forwarded as
// a message, giving operators a live feed of binder activity without a
// dedicated dashboard, using github.com/bwmarrin/discordgo.
package discordlistener

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/redpesk-core/go-binder/event"
)

// Adapter forwards event notifications to a single Discord channel.
type Adapter struct {
	session   *discordgo.Session
	channelID string
}

// New opens a Discord session authenticated with botToken and targets
// channelID for all forwarded notifications.
func New(botToken, channelID string) (*Adapter, error) {
	sess, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discordlistener: create session: %w", err)
	}
	if err := sess.Open(); err != nil {
		return nil, fmt.Errorf("discordlistener: open session: %w", err)
	}
	return &Adapter{session: sess, channelID: channelID}, nil
}

// Close releases the underlying Discord session.
func (a *Adapter) Close() error {
	return a.session.Close()
}

// Interface builds an event.Interface that posts every add/remove/push/
// broadcast notification as a formatted Discord message.
func (a *Adapter) Interface() event.Interface {
	return event.Interface{
		Add:       a.onAdd,
		Remove:    a.onRemove,
		Push:      a.onPush,
		Broadcast: a.onBroadcast,
	}
}

func (a *Adapter) onAdd(fullname string, id uint16) {
	a.send(fmt.Sprintf(":small_blue_diamond: watching `%s` (id %d)", fullname, id))
}

func (a *Adapter) onRemove(fullname string, id uint16) {
	a.send(fmt.Sprintf(":small_orange_diamond: stopped watching `%s` (id %d)", fullname, id))
}

func (a *Adapter) onPush(env event.PushEnvelope) {
	a.send(fmt.Sprintf(":arrow_right: `%s` %s", env.Event, jsonOrString(env.Params)))
}

func (a *Adapter) onBroadcast(env event.BroadcastEnvelope) {
	a.send(fmt.Sprintf(":loudspeaker: `%s` %s (uuid %s, hop %d)", env.Event, jsonOrString(env.Params), env.UUID, env.Hop))
}

func (a *Adapter) send(content string) {
	if _, err := a.session.ChannelMessageSend(a.channelID, content); err != nil {
		slog.Error("discordlistener: send message", "error", err)
	}
}

func jsonOrString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
