// ABOUTME: Matrix bot runtime: sync loop, event routing and shutdown
// ABOUTME: Dispatches commands and membership changes to their handlers concurrently

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MessageHandler receives text messages from authorized users.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sender id.UserID, roomID id.RoomID, body string)
}

// MemberHandler receives membership changes in rooms the bot occupies.
type MemberHandler interface {
	HandleMember(ctx context.Context, evt *event.Event)
}

// networkTimeout is the timeout for calls made while shutting down.
const networkTimeout = 10 * time.Second

// Bot owns the sync loop of a logged-in Matrix account.
type Bot struct {
	raw    *mautrix.Client
	client *MautrixClient
	logger *slog.Logger

	isUser    func(id.UserID) bool
	startedAt time.Time

	messages MessageHandler
	members  MemberHandler

	quit     chan struct{}
	quitOnce sync.Once
	logout   atomic.Bool

	// in-flight handler goroutines
	wg sync.WaitGroup
}

// NewBot creates a bot around an authenticated mautrix client. isUser
// decides whose commands and invites the bot follows.
func NewBot(raw *mautrix.Client, requestTimeout time.Duration, isUser func(id.UserID) bool, logger *slog.Logger) *Bot {
	return &Bot{
		raw:       raw,
		client:    NewMautrixClient(raw, requestTimeout),
		logger:    logger.With("component", "bot"),
		isUser:    isUser,
		startedAt: time.Now(),
		quit:      make(chan struct{}),
	}
}

// Client returns the transport used by the bot.
func (b *Bot) Client() Client {
	return b.client
}

// SetHandlers registers the message and membership handlers. It must be
// called before Run.
func (b *Bot) SetHandlers(messages MessageHandler, members MemberHandler) {
	b.messages = messages
	b.members = members
}

// Quit stops the sync loop. With logout set, all sessions of the bot
// account are logged out once the loop has stopped. Only the first call
// has an effect.
func (b *Bot) Quit(logout bool) {
	b.quitOnce.Do(func() {
		b.logout.Store(logout)
		close(b.quit)
	})
}

// Run syncs until ctx is cancelled, Quit is called, or sync fails. It
// waits for the sync loop to stop and for in-flight handlers before
// returning.
func (b *Bot) Run(ctx context.Context) error {
	syncer, ok := b.raw.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.raw.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.logger.Info("starting sync", "user_id", b.raw.UserID.String())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.raw.SyncWithContext(runCtx)
	}()

	var err error
	syncStopped := false
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down")
	case <-b.quit:
		b.logger.Info("quit requested")
	case err = <-syncErr:
		syncStopped = true
		if err != nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		}
	}

	cancel()
	b.raw.StopSync()
	if !syncStopped {
		// the syncer may still be dispatching a batch, which spawns handlers
		if serr := <-syncErr; serr != nil && !errors.Is(serr, context.Canceled) {
			b.logger.Warn("sync stopped with error", "error", serr)
		}
	}
	b.wg.Wait()

	if b.logout.Load() {
		logoutCtx, logoutCancel := context.WithTimeout(context.Background(), networkTimeout)
		defer logoutCancel()
		if _, lerr := b.raw.LogoutAll(logoutCtx); lerr != nil {
			b.logger.Error("failed to log out sessions", "error", lerr)
		} else {
			b.logger.Info("logged out all sessions")
		}
	}

	return err
}

// fresh reports whether the event happened after the bot started, so
// history delivered by the initial sync is not acted upon.
func (b *Bot) fresh(evt *event.Event) bool {
	if evt.Timestamp == 0 {
		return false
	}
	return !time.UnixMilli(evt.Timestamp).Before(b.startedAt)
}

func (b *Bot) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.raw.UserID || !b.fresh(evt) {
		return
	}
	if !b.isUser(evt.Sender) {
		b.logger.Debug("ignoring message from unauthorized user", "user", evt.Sender.String())
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText || b.messages == nil {
		return
	}

	sender, roomID, body := evt.Sender, evt.RoomID, content.Body
	b.spawn(ctx, func(ctx context.Context) {
		b.messages.HandleMessage(ctx, sender, roomID, body)
	})
}

func (b *Bot) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.raw.UserID || !b.fresh(evt) {
		return
	}

	member, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return
	}

	if member.Membership == event.MembershipInvite && evt.StateKey != nil && id.UserID(*evt.StateKey) == b.raw.UserID {
		b.acceptInvite(ctx, evt)
		return
	}

	if b.members == nil {
		return
	}
	b.spawn(ctx, func(ctx context.Context) {
		b.members.HandleMember(ctx, evt)
	})
}

func (b *Bot) acceptInvite(ctx context.Context, evt *event.Event) {
	if !b.isUser(evt.Sender) {
		b.logger.Debug("ignoring invite from unauthorized user", "room", evt.RoomID.String(), "user", evt.Sender.String())
		return
	}

	b.logger.Info("joining room", "room", evt.RoomID.String(), "invited_by", evt.Sender.String())
	if err := b.client.JoinRoom(ctx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
	}
}

// spawn runs fn on its own goroutine so a slow handler never blocks sync.
func (b *Bot) spawn(ctx context.Context, fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}
