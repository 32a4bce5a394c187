// ABOUTME: The bot's chat commands: help, quit, logout, name, link and unlink
// ABOUTME: link/unlink accept an optional room id, alias or matrix.to link

package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/gateway"
	"github.com/2389/coven-joinlink/internal/matrix"
)

// HelpCommand lists all commands.
type HelpCommand struct{}

func (HelpCommand) Name() string   { return "help" }
func (HelpCommand) Params() string { return "" }
func (HelpCommand) Help() string   { return "shows this help message" }

func (HelpCommand) Execute(ctx context.Context, bot *Bot, _ id.UserID, roomID id.RoomID, _ string) error {
	var sb strings.Builder
	sb.WriteString("This is the JoinLink Bot. You can use the following commands:\n")
	for _, cmd := range bot.Commands {
		sb.WriteString("\n* `!")
		sb.WriteString(bot.Prefix)
		sb.WriteString(" ")
		sb.WriteString(cmd.Name())
		if p := cmd.Params(); p != "" {
			sb.WriteString(" ")
			sb.WriteString(p)
		}
		sb.WriteString(" - ")
		sb.WriteString(cmd.Help())
		sb.WriteString("`")
	}
	bot.ReplyMarkdown(ctx, roomID, sb.String())
	return nil
}

// QuitCommand stops the bot without logging out.
type QuitCommand struct{}

func (QuitCommand) Name() string   { return "quit" }
func (QuitCommand) Params() string { return "" }
func (QuitCommand) Help() string   { return "quits the bot without logging out" }

func (QuitCommand) Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, _ string) error {
	if !bot.isBotAdmin(sender) {
		bot.Reply(ctx, roomID, "You are not an admin.")
		return nil
	}
	bot.Logger.Info("quit requested", "user", sender.String())
	bot.Quit(false)
	return nil
}

// LogoutCommand stops the bot and logs out every session of its account.
type LogoutCommand struct{}

func (LogoutCommand) Name() string   { return "logout" }
func (LogoutCommand) Params() string { return "" }
func (LogoutCommand) Help() string   { return "quits the bot and logs out all sessions" }

func (LogoutCommand) Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, _ string) error {
	if !bot.isBotAdmin(sender) {
		bot.Reply(ctx, roomID, "You are not an admin.")
		return nil
	}
	bot.Logger.Info("logout requested", "user", sender.String())
	bot.Quit(true)
	return nil
}

// NameCommand sets the bot's display name in one room.
type NameCommand struct{}

func (NameCommand) Name() string   { return "name" }
func (NameCommand) Params() string { return "{NEW_NAME}" }
func (NameCommand) Help() string   { return "sets the display name of the bot for this channel to NEW_NAME" }

func (NameCommand) Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, params string) error {
	moderator, err := bot.Guard.IsModerator(ctx, roomID, sender)
	if err != nil || !moderator {
		bot.Reply(ctx, roomID, "You are not a moderator in this room.")
		return err
	}

	name := strings.TrimSpace(params)
	if name == "" {
		bot.Reply(ctx, roomID, "Please provide a new name for the bot.")
		return nil
	}

	if err := bot.Client.SetRoomDisplayName(ctx, roomID, name); err != nil {
		bot.Reply(ctx, roomID, "I could not change my name in this room.")
		return err
	}
	return nil
}

// LinkCommand creates or returns the join link of a room.
type LinkCommand struct{}

func (LinkCommand) Name() string   { return "link" }
func (LinkCommand) Params() string { return "[Link/ID to TargetRoom] {Readable Name of Link}" }
func (LinkCommand) Help() string {
	return "create a join link for the room (if none provided, the room the message was sent in is used)"
}

func (LinkCommand) Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, params string) error {
	params = strings.TrimSpace(params)
	first, rest, _ := strings.Cut(params, " ")

	target, explicit, ok := resolveTarget(ctx, bot, roomID, first)
	if !ok {
		return nil
	}
	name := params
	if explicit {
		name = rest
	}

	bot.Logger.Info("link requested", "target", target.String(), "user", sender.String())
	res, err := bot.Lifecycle.Create(ctx, sender, target, name)
	if err != nil {
		return replyLifecycleError(ctx, bot, roomID, "create the link", err)
	}

	if !res.Created {
		bot.Reply(ctx, roomID, fmt.Sprintf("Link to share the Room (%s): %s", matrix.MatrixTo(target), matrix.MatrixTo(res.Gateway)))
		return nil
	}
	bot.Reply(ctx, roomID, "Link to share the Room: "+matrix.MatrixTo(res.Gateway))
	return nil
}

// UnlinkCommand removes the join link of a room.
type UnlinkCommand struct{}

func (UnlinkCommand) Name() string   { return "unlink" }
func (UnlinkCommand) Params() string { return "[Link/ID to TargetRoom]" }
func (UnlinkCommand) Help() string   { return "remove all join links for the room" }

func (UnlinkCommand) Execute(ctx context.Context, bot *Bot, sender id.UserID, roomID id.RoomID, params string) error {
	target, _, ok := resolveTarget(ctx, bot, roomID, strings.TrimSpace(params))
	if !ok {
		return nil
	}

	bot.Logger.Info("unlink requested", "target", target.String(), "user", sender.String())
	res, err := bot.Lifecycle.Teardown(ctx, sender, target)
	switch {
	case err == nil:
		bot.Reply(ctx, roomID, "Unlinked the Room")
		return nil
	case res.Gateway != "":
		// teardown ran but some steps failed
		bot.Reply(ctx, roomID, fmt.Sprintf("Unlinked the Room, but some steps failed: %v", err))
		return err
	default:
		return replyLifecycleError(ctx, bot, roomID, "remove the link", err)
	}
}

// resolveTarget picks the room a link command acts on. ref is used when it
// looks like a room reference; otherwise the command's own room is the
// target. ok is false when ref looked like a room but did not resolve, in
// which case the user has been told.
func resolveTarget(ctx context.Context, bot *Bot, roomID id.RoomID, ref string) (target id.RoomID, explicit, ok bool) {
	if !matrix.LooksLikeRoomReference(ref) {
		return roomID, false, true
	}
	target, err := matrix.ResolveRoomReference(ctx, bot.Client, ref)
	if err != nil {
		bot.Logger.Warn("invalid room reference", "ref", ref, "error", err)
		bot.Reply(ctx, roomID, fmt.Sprintf("Provided RoomId (%s) is not valid", ref))
		return "", false, false
	}
	return target, true, true
}

func replyLifecycleError(ctx context.Context, bot *Bot, roomID id.RoomID, action string, err error) error {
	var denied *gateway.DeniedError
	switch {
	case errors.As(err, &denied):
		bot.Logger.Info("request denied", "room", roomID.String(), "reason", denied.Reason)
		bot.Reply(ctx, roomID, denied.Reason)
		return nil
	case errors.Is(err, gateway.ErrNameRequired):
		bot.Reply(ctx, roomID, "Please provide a name for the link")
		return nil
	case errors.Is(err, gateway.ErrNotLinked):
		bot.Logger.Debug("nothing to unlink", "room", roomID.String())
		bot.Reply(ctx, roomID, "No Matrix Join Links available .. nothing to do ..")
		return nil
	default:
		bot.Reply(ctx, roomID, fmt.Sprintf("I could not %s: %v", action, err))
		return err
	}
}
