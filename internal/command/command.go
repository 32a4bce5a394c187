// ABOUTME: Chat command contract and the shared bot handle commands act on
// ABOUTME: Commands reply in the room they were issued in

package command

import (
	"context"
	"log/slog"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/gateway"
	"github.com/2389/coven-joinlink/internal/matrix"
	"github.com/2389/coven-joinlink/internal/power"
)

// Command is a single chat command such as "!join link Team".
type Command interface {
	// Name is the word following the prefix.
	Name() string
	// Params documents the accepted parameters, or "" if there are none.
	Params() string
	// Help is a one-line description for the help listing.
	Help() string
	// Execute runs the command. Replies are sent by the command itself; a
	// returned error has already been reported to the user and is only
	// logged.
	Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, params string) error
}

// Bot is everything a command may touch.
type Bot struct {
	Client     matrix.Client
	Guard      *power.Guard
	Lifecycle  *gateway.Lifecycle
	Prefix     string
	IsUser     func(id.UserID) bool
	IsBotAdmin func(id.UserID) bool
	// Quit stops the bot, logging out all sessions when logout is set.
	Quit     func(logout bool)
	Commands []Command
	Logger   *slog.Logger
}

// Reply sends a plain text message to roomID. Failures are logged.
func (b *Bot) Reply(ctx context.Context, roomID id.RoomID, text string) {
	if err := b.Client.SendMessage(ctx, roomID, matrix.Text(text)); err != nil {
		b.Logger.Warn("failed to send reply", "room", roomID.String(), "error", err)
	}
}

// ReplyMarkdown sends a markdown-rendered message to roomID.
func (b *Bot) ReplyMarkdown(ctx context.Context, roomID id.RoomID, body string) {
	if err := b.Client.SendMessage(ctx, roomID, matrix.Markdown(body)); err != nil {
		b.Logger.Warn("failed to send reply", "room", roomID.String(), "error", err)
	}
}

func (b *Bot) isBotAdmin(user id.UserID) bool {
	return b.IsBotAdmin != nil && b.IsBotAdmin(user)
}

// Defaults returns the full command set in help order.
func Defaults() []Command {
	return []Command{
		HelpCommand{},
		QuitCommand{},
		LogoutCommand{},
		NameCommand{},
		LinkCommand{},
		UnlinkCommand{},
	}
}
