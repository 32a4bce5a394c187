// ABOUTME: In-memory fake of the Matrix transport for tests
// ABOUTME: Records every side effect and allows per-method error injection

package matrixtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Call records an invite or ban.
type Call struct {
	Room   id.RoomID
	User   id.UserID
	Reason string
}

// SentMessage records a message sent by the bot.
type SentMessage struct {
	Room    id.RoomID
	Content *event.MessageEventContent
}

type fakeRoom struct {
	state   map[string]json.RawMessage
	members map[id.UserID]event.Membership
}

// FakeClient is an in-memory matrix.Client.
type FakeClient struct {
	mu       sync.Mutex
	self     id.UserID
	rooms    map[id.RoomID]*fakeRoom
	aliases  map[id.RoomAlias]id.RoomID
	nextRoom int
	errs     map[string]error
	banErrs  map[id.UserID]error

	created      []*mautrix.ReqCreateRoom
	invites      []Call
	bans         []Call
	leaves       []id.RoomID
	joins        []id.RoomID
	messages     []SentMessage
	displayNames map[id.RoomID]string

	// OnInvite, if set, runs before an invite is recorded. Tests use it to
	// widen race windows.
	OnInvite func()
}

// NewFakeClient creates a fake for the bot user self.
func NewFakeClient(self id.UserID) *FakeClient {
	return &FakeClient{
		self:         self,
		rooms:        make(map[id.RoomID]*fakeRoom),
		aliases:      make(map[id.RoomAlias]id.RoomID),
		errs:         make(map[string]error),
		banErrs:      make(map[id.UserID]error),
		displayNames: make(map[id.RoomID]string),
	}
}

// SetError makes every call of the named method fail with err. A nil err
// clears the failure.
func (f *FakeClient) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// SetBanError makes banning user fail with err.
func (f *FakeClient) SetBanError(user id.UserID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banErrs[user] = err
}

// AddRoom creates a room in which the bot and the given users are joined.
func (f *FakeClient) AddRoom(roomID id.RoomID, members ...id.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.roomLocked(roomID)
	room.members[f.self] = event.MembershipJoin
	for _, m := range members {
		room.members[m] = event.MembershipJoin
	}
}

// AddAlias maps alias to roomID for ResolveAlias.
func (f *FakeClient) AddAlias(alias id.RoomAlias, roomID id.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias] = roomID
}

// SetMembership sets a user's membership in a room.
func (f *FakeClient) SetMembership(roomID id.RoomID, user id.UserID, membership event.Membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomLocked(roomID).members[user] = membership
}

// Membership returns a user's membership in a room, or "" if unknown.
func (f *FakeClient) Membership(roomID id.RoomID, user id.UserID) event.Membership {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return ""
	}
	return room.members[user]
}

// SetPowerLevels stores the power levels of a room.
func (f *FakeClient) SetPowerLevels(roomID id.RoomID, levels *event.PowerLevelsEventContent) {
	f.SetState(roomID, event.StatePowerLevels, "", levels)
}

// SetState stores arbitrary state content.
func (f *FakeClient) SetState(roomID id.RoomID, eventType event.Type, stateKey string, content any) {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomLocked(roomID).state[stateSlot(eventType, stateKey)] = raw
}

// RawState returns the stored JSON of a state event, or nil.
func (f *FakeClient) RawState(roomID id.RoomID, eventType event.Type, stateKey string) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil
	}
	return room.state[stateSlot(eventType, stateKey)]
}

// Created returns every create-room request.
func (f *FakeClient) Created() []*mautrix.ReqCreateRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mautrix.ReqCreateRoom(nil), f.created...)
}

// Invites returns every successful invite.
func (f *FakeClient) Invites() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.invites...)
}

// Bans returns every successful ban.
func (f *FakeClient) Bans() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.bans...)
}

// Leaves returns the rooms the bot left.
func (f *FakeClient) Leaves() []id.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.RoomID(nil), f.leaves...)
}

// Joins returns the rooms the bot joined via JoinRoom.
func (f *FakeClient) Joins() []id.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]id.RoomID(nil), f.joins...)
}

// Messages returns every message sent to roomID, or all messages when
// roomID is empty.
func (f *FakeClient) Messages(roomID id.RoomID) []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SentMessage
	for _, m := range f.messages {
		if roomID == "" || m.Room == roomID {
			out = append(out, m)
		}
	}
	return out
}

// DisplayName returns the per-room display name set by the bot.
func (f *FakeClient) DisplayName(roomID id.RoomID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.displayNames[roomID]
}

func (f *FakeClient) UserID() id.UserID {
	return f.self
}

func (f *FakeClient) CreateRoom(_ context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["CreateRoom"]; err != nil {
		return "", err
	}

	f.nextRoom++
	roomID := id.RoomID(fmt.Sprintf("!gateway%d:localhost", f.nextRoom))
	room := f.roomLocked(roomID)
	room.members[f.self] = event.MembershipJoin

	levels := req.PowerLevelOverride
	if levels == nil {
		levels = &event.PowerLevelsEventContent{Users: map[id.UserID]int{f.self: 100}}
	}
	raw, err := json.Marshal(levels)
	if err != nil {
		return "", err
	}
	room.state[stateSlot(event.StatePowerLevels, "")] = raw

	f.created = append(f.created, req)
	return roomID, nil
}

func (f *FakeClient) StateEvent(_ context.Context, roomID id.RoomID, eventType event.Type, stateKey string, out any) error {
	f.mu.Lock()
	if err := f.errs["StateEvent"]; err != nil {
		f.mu.Unlock()
		return err
	}
	var raw json.RawMessage
	if room, ok := f.rooms[roomID]; ok {
		raw = room.state[stateSlot(eventType, stateKey)]
	}
	f.mu.Unlock()

	if raw == nil {
		return fmt.Errorf("reading %s in %s: %w", eventType.Type, roomID, mautrix.MNotFound)
	}
	return json.Unmarshal(raw, out)
}

func (f *FakeClient) SendStateEvent(_ context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["SendStateEvent"]; err != nil {
		return err
	}
	if err := f.errs["SendStateEvent:"+eventType.Type]; err != nil {
		return err
	}
	f.roomLocked(roomID).state[stateSlot(eventType, stateKey)] = raw
	return nil
}

func (f *FakeClient) JoinedMembers(_ context.Context, roomID id.RoomID) ([]id.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["JoinedMembers"]; err != nil {
		return nil, err
	}
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, mautrix.MForbidden)
	}
	var joined []id.UserID
	for user, membership := range room.members {
		if membership == event.MembershipJoin {
			joined = append(joined, user)
		}
	}
	sort.Slice(joined, func(i, j int) bool { return joined[i] < joined[j] })
	return joined, nil
}

func (f *FakeClient) InviteUser(_ context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	if f.OnInvite != nil {
		f.OnInvite()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["InviteUser"]; err != nil {
		return err
	}
	f.roomLocked(roomID).members[userID] = event.MembershipInvite
	f.invites = append(f.invites, Call{Room: roomID, User: userID, Reason: reason})
	return nil
}

func (f *FakeClient) BanUser(_ context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["BanUser"]; err != nil {
		return err
	}
	if err := f.banErrs[userID]; err != nil {
		return err
	}
	f.roomLocked(roomID).members[userID] = event.MembershipBan
	f.bans = append(f.bans, Call{Room: roomID, User: userID, Reason: reason})
	return nil
}

func (f *FakeClient) LeaveRoom(_ context.Context, roomID id.RoomID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["LeaveRoom"]; err != nil {
		return err
	}
	f.roomLocked(roomID).members[f.self] = event.MembershipLeave
	f.leaves = append(f.leaves, roomID)
	return nil
}

func (f *FakeClient) JoinRoom(_ context.Context, roomID id.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["JoinRoom"]; err != nil {
		return err
	}
	f.roomLocked(roomID).members[f.self] = event.MembershipJoin
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *FakeClient) SendMessage(_ context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["SendMessage"]; err != nil {
		return err
	}
	f.messages = append(f.messages, SentMessage{Room: roomID, Content: content})
	return nil
}

func (f *FakeClient) ResolveAlias(_ context.Context, alias id.RoomAlias) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roomID, ok := f.aliases[alias]
	if !ok {
		return "", fmt.Errorf("alias %s: %w", alias, mautrix.MNotFound)
	}
	return roomID, nil
}

func (f *FakeClient) SetRoomDisplayName(_ context.Context, roomID id.RoomID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["SetRoomDisplayName"]; err != nil {
		return err
	}
	f.displayNames[roomID] = name
	return nil
}

func (f *FakeClient) roomLocked(roomID id.RoomID) *fakeRoom {
	room, ok := f.rooms[roomID]
	if !ok {
		room = &fakeRoom{
			state:   make(map[string]json.RawMessage),
			members: make(map[id.UserID]event.Membership),
		}
		f.rooms[roomID] = room
	}
	return room
}

func stateSlot(eventType event.Type, stateKey string) string {
	return eventType.Type + "\x00" + stateKey
}
