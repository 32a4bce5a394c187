// ABOUTME: Routes "!<prefix> <command> <params>" messages to commands
// ABOUTME: Unknown commands and a bare prefix show the help listing

package command

import (
	"context"
	"strings"
	"unicode"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/metrics"
)

// Dispatcher implements matrix.MessageHandler.
type Dispatcher struct {
	bot     *Bot
	byName  map[string]Command
	help    Command
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher over bot.Commands. A nil command list
// is replaced by Defaults.
func NewDispatcher(bot *Bot, m *metrics.Metrics) *Dispatcher {
	if bot.Commands == nil {
		bot.Commands = Defaults()
	}
	bot.Logger = bot.Logger.With("component", "command")

	d := &Dispatcher{
		bot:     bot,
		byName:  make(map[string]Command, len(bot.Commands)),
		help:    HelpCommand{},
		metrics: m,
	}
	for _, cmd := range bot.Commands {
		d.byName[cmd.Name()] = cmd
		if _, ok := cmd.(HelpCommand); ok {
			d.help = cmd
		}
	}
	return d
}

// HandleMessage parses body and runs the matching command.
func (d *Dispatcher) HandleMessage(ctx context.Context, sender id.UserID, roomID id.RoomID, body string) {
	name, params, ok := d.parse(body)
	if !ok {
		return
	}
	if d.bot.IsUser != nil && !d.bot.IsUser(sender) {
		d.bot.Logger.Debug("ignoring command from unauthorized user", "user", sender.String())
		return
	}

	cmd, found := d.byName[name]
	if !found {
		cmd = d.help
	}

	d.bot.Logger.Debug("executing command", "command", cmd.Name(), "room", roomID.String(), "user", sender.String())
	err := cmd.Execute(ctx, d.bot, sender, roomID, params)
	d.metrics.Command(cmd.Name(), err)
	if err != nil {
		d.bot.Logger.Error("command failed", "command", cmd.Name(), "room", roomID.String(), "user", sender.String(), "error", err)
	}
}

// parse splits "!prefix name params". ok is false when body is not
// addressed to the bot.
func (d *Dispatcher) parse(body string) (name, params string, ok bool) {
	trigger := "!" + d.bot.Prefix
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, trigger) {
		return "", "", false
	}

	rest := body[len(trigger):]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return "", "", false
	}

	rest = strings.TrimSpace(rest)
	name, params, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(params), true
}
