// ABOUTME: Tests for the bot runtime against an in-process homeserver
// ABOUTME: Covers event filtering, invite handling, quit semantics and shutdown ordering

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	botUser   = id.UserID("@bot:localhost")
	aliceUser = id.UserID("@alice:localhost")
	gwRoom    = id.RoomID("!gw:localhost")
)

// testHomeserver answers the few endpoints the bot uses. The first /sync
// returns firstSync; later ones block until the client gives up.
type testHomeserver struct {
	*httptest.Server

	firstSync []byte

	mu     sync.Mutex
	syncs  int
	joins  []string
	logout int
}

func newTestHomeserver(t *testing.T, firstSync any) *testHomeserver {
	t.Helper()

	hs := &testHomeserver{firstSync: []byte(`{"next_batch":"s1"}`)}
	if firstSync != nil {
		raw, err := json.Marshal(firstSync)
		require.NoError(t, err)
		hs.firstSync = raw
	}

	hs.Server = httptest.NewServer(http.HandlerFunc(hs.serve))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *testHomeserver) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(path, "/filter"):
		_, _ = io.WriteString(w, `{"filter_id":"1"}`)
	case strings.HasSuffix(path, "/sync"):
		hs.mu.Lock()
		hs.syncs++
		first := hs.syncs == 1
		hs.mu.Unlock()
		if first {
			_, _ = w.Write(hs.firstSync)
			return
		}
		<-r.Context().Done()
	case strings.HasSuffix(path, "/join"):
		hs.mu.Lock()
		hs.joins = append(hs.joins, path)
		hs.mu.Unlock()
		_, _ = io.WriteString(w, `{"room_id":"!joined:localhost"}`)
	case strings.HasSuffix(path, "/logout/all"):
		hs.mu.Lock()
		hs.logout++
		hs.mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errcode":"M_UNRECOGNIZED","error":"unknown endpoint"}`)
	}
}

func (hs *testHomeserver) joinCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return len(hs.joins)
}

func (hs *testHomeserver) logoutCount() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.logout
}

// recorder collects handler calls.
type recorder struct {
	mu       sync.Mutex
	messages []string
	members  []id.UserID
}

func (r *recorder) HandleMessage(_ context.Context, _ id.UserID, _ id.RoomID, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, body)
}

func (r *recorder) HandleMember(_ context.Context, evt *event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, id.UserID(evt.GetStateKey()))
}

func (r *recorder) memberCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *recorder) messageCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestBot(t *testing.T, hs *testHomeserver, isUser func(id.UserID) bool) (*Bot, *recorder) {
	t.Helper()

	raw, err := mautrix.NewClient(hs.URL, botUser, "token")
	require.NoError(t, err)

	if isUser == nil {
		isUser = func(id.UserID) bool { return true }
	}
	bot := NewBot(raw, 5*time.Second, isUser, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recorder{}
	bot.SetHandlers(rec, rec)
	return bot, rec
}

func memberEvent(sender, target id.UserID, membership event.Membership, ts time.Time) *event.Event {
	stateKey := target.String()
	evt := &event.Event{
		ID:        id.EventID(fmt.Sprintf("$%s-%s", target, membership)),
		Type:      event.StateMember,
		Sender:    sender,
		StateKey:  &stateKey,
		RoomID:    gwRoom,
		Timestamp: ts.UnixMilli(),
	}
	evt.Content.Parsed = &event.MemberEventContent{Membership: membership}
	return evt
}

func textEvent(sender id.UserID, body string, ts time.Time) *event.Event {
	evt := &event.Event{
		ID:        "$msg",
		Type:      event.EventMessage,
		Sender:    sender,
		RoomID:    gwRoom,
		Timestamp: ts.UnixMilli(),
	}
	evt.Content.Parsed = &event.MessageEventContent{MsgType: event.MsgText, Body: body}
	return evt
}

func TestBot_Fresh(t *testing.T) {
	hs := newTestHomeserver(t, nil)
	bot, _ := newTestBot(t, hs, nil)

	assert.True(t, bot.fresh(&event.Event{Timestamp: bot.startedAt.UnixMilli() + 1}))
	assert.False(t, bot.fresh(&event.Event{Timestamp: bot.startedAt.Add(-time.Minute).UnixMilli()}))
	assert.False(t, bot.fresh(&event.Event{Timestamp: 0}))
}

func TestBot_MemberEvents(t *testing.T) {
	future := time.Now().Add(time.Hour)

	t.Run("dispatches fresh joins", func(t *testing.T) {
		hs := newTestHomeserver(t, nil)
		bot, rec := newTestBot(t, hs, nil)

		bot.handleMemberEvent(context.Background(), memberEvent(aliceUser, aliceUser, event.MembershipJoin, future))
		bot.wg.Wait()

		assert.Equal(t, []id.UserID{aliceUser}, rec.members)
	})

	t.Run("ignores history", func(t *testing.T) {
		hs := newTestHomeserver(t, nil)
		bot, rec := newTestBot(t, hs, nil)

		bot.handleMemberEvent(context.Background(), memberEvent(aliceUser, aliceUser, event.MembershipJoin, time.Now().Add(-time.Hour)))
		bot.wg.Wait()

		assert.Zero(t, rec.memberCalls())
	})

	t.Run("ignores own events", func(t *testing.T) {
		hs := newTestHomeserver(t, nil)
		bot, rec := newTestBot(t, hs, nil)

		bot.handleMemberEvent(context.Background(), memberEvent(botUser, aliceUser, event.MembershipBan, future))
		bot.wg.Wait()

		assert.Zero(t, rec.memberCalls())
	})
}

func TestBot_AcceptInvite(t *testing.T) {
	future := time.Now().Add(time.Hour)
	onlyAlice := func(u id.UserID) bool { return u == aliceUser }

	t.Run("joins when invited by a user", func(t *testing.T) {
		hs := newTestHomeserver(t, nil)
		bot, rec := newTestBot(t, hs, onlyAlice)

		bot.handleMemberEvent(context.Background(), memberEvent(aliceUser, botUser, event.MembershipInvite, future))
		bot.wg.Wait()

		assert.Equal(t, 1, hs.joinCount())
		assert.Zero(t, rec.memberCalls(), "own invite is not a member notification")
	})

	t.Run("ignores invites from others", func(t *testing.T) {
		hs := newTestHomeserver(t, nil)
		bot, _ := newTestBot(t, hs, onlyAlice)

		bot.handleMemberEvent(context.Background(), memberEvent("@mallory:localhost", botUser, event.MembershipInvite, future))

		assert.Zero(t, hs.joinCount())
	})
}

func TestBot_MessageEvents(t *testing.T) {
	future := time.Now().Add(time.Hour)
	onlyAlice := func(u id.UserID) bool { return u == aliceUser }

	hs := newTestHomeserver(t, nil)
	bot, rec := newTestBot(t, hs, onlyAlice)

	bot.handleMessageEvent(context.Background(), textEvent(aliceUser, "!join help", future))
	bot.handleMessageEvent(context.Background(), textEvent("@mallory:localhost", "!join quit", future))
	bot.handleMessageEvent(context.Background(), textEvent(botUser, "!join help", future))
	bot.handleMessageEvent(context.Background(), textEvent(aliceUser, "!join link", time.Now().Add(-time.Hour)))
	bot.wg.Wait()

	assert.Equal(t, 1, rec.messageCalls())
	assert.Equal(t, []string{"!join help"}, rec.messages)
}

func TestBot_QuitOnce(t *testing.T) {
	hs := newTestHomeserver(t, nil)
	bot, _ := newTestBot(t, hs, nil)

	bot.Quit(true)
	bot.Quit(false)

	assert.True(t, bot.logout.Load())
	select {
	case <-bot.quit:
	default:
		t.Fatal("quit channel not closed")
	}
}

func TestBot_RunLogout(t *testing.T) {
	hs := newTestHomeserver(t, nil)
	bot, _ := newTestBot(t, hs, nil)

	done := make(chan error, 1)
	go func() { done <- bot.Run(context.Background()) }()

	bot.Quit(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	assert.Equal(t, 1, hs.logoutCount())
}

func TestBot_RunStopsOnContextCancel(t *testing.T) {
	hs := newTestHomeserver(t, nil)
	bot, _ := newTestBot(t, hs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, hs.logoutCount())
}

// A batch still being dispatched when Quit arrives must be handled before
// Run returns.
func TestBot_RunWaitsForBatchInFlight(t *testing.T) {
	join := map[string]any{
		"type":             "m.room.member",
		"state_key":        aliceUser.String(),
		"sender":           aliceUser.String(),
		"event_id":         "$join",
		"origin_server_ts": time.Now().Add(time.Hour).UnixMilli(),
		"content":          map[string]any{"membership": "join"},
	}
	hs := newTestHomeserver(t, map[string]any{
		"next_batch": "s1",
		"rooms": map[string]any{
			"join": map[string]any{
				gwRoom.String(): map[string]any{
					"timeline": map[string]any{"events": []any{join}},
				},
			},
		},
	})
	bot, rec := newTestBot(t, hs, nil)

	// registered before Run's own listener, so it holds up dispatch
	entered := make(chan struct{})
	release := make(chan struct{})
	syncer := bot.raw.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.StateMember, func(context.Context, *event.Event) {
		close(entered)
		<-release
	})

	var returned atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := bot.Run(context.Background())
		returned.Store(true)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sync batch was never dispatched")
	}

	bot.Quit(false)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, returned.Load(), "Run returned while a batch was still dispatching")

	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []id.UserID{aliceUser}, rec.members)
}
