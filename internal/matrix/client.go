// ABOUTME: Transport contract consumed by the join-link core
// ABOUTME: mautrix-backed implementation with per-call timeouts

package matrix

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Client is the subset of the Matrix client-server API the bot needs.
type Client interface {
	UserID() id.UserID
	CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error)
	StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, out any) error
	SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) error
	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error)
	InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error
	LeaveRoom(ctx context.Context, roomID id.RoomID, reason string) error
	JoinRoom(ctx context.Context, roomID id.RoomID) error
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error
	ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error)
	SetRoomDisplayName(ctx context.Context, roomID id.RoomID, name string) error
}

// DefaultRequestTimeout bounds a single Matrix API call.
const DefaultRequestTimeout = 30 * time.Second

// MautrixClient adapts *mautrix.Client to Client.
type MautrixClient struct {
	client  *mautrix.Client
	timeout time.Duration
}

// NewMautrixClient wraps an authenticated mautrix client. A zero timeout
// falls back to DefaultRequestTimeout.
func NewMautrixClient(client *mautrix.Client, timeout time.Duration) *MautrixClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &MautrixClient{client: client, timeout: timeout}
}

// Raw returns the underlying mautrix client.
func (c *MautrixClient) Raw() *mautrix.Client {
	return c.client
}

func (c *MautrixClient) UserID() id.UserID {
	return c.client.UserID
}

func (c *MautrixClient) CreateRoom(ctx context.Context, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateRoom(ctx, req)
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return resp.RoomID, nil
}

func (c *MautrixClient) StateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.StateEvent(ctx, roomID, eventType, stateKey, out); err != nil {
		return fmt.Errorf("reading %s in %s: %w", eventType.Type, roomID, err)
	}
	return nil
}

func (c *MautrixClient) SendStateEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, stateKey string, content any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.SendStateEvent(ctx, roomID, eventType, stateKey, content); err != nil {
		return fmt.Errorf("writing %s in %s: %w", eventType.Type, roomID, err)
	}
	return nil
}

func (c *MautrixClient) JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing joined members of %s: %w", roomID, err)
	}

	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	return members, nil
}

func (c *MautrixClient) InviteUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("inviting %s to %s: %w", userID, roomID, err)
	}
	return nil
}

func (c *MautrixClient) BanUser(ctx context.Context, roomID id.RoomID, userID id.UserID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.client.BanUser(ctx, roomID, &mautrix.ReqBanUser{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("banning %s from %s: %w", userID, roomID, err)
	}
	return nil
}

func (c *MautrixClient) LeaveRoom(ctx context.Context, roomID id.RoomID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.LeaveRoom(ctx, roomID, &mautrix.ReqLeave{Reason: reason}); err != nil {
		return fmt.Errorf("leaving %s: %w", roomID, err)
	}
	return nil
}

func (c *MautrixClient) JoinRoom(ctx context.Context, roomID id.RoomID) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		return fmt.Errorf("joining %s: %w", roomID, err)
	}
	return nil
}

func (c *MautrixClient) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending message to %s: %w", roomID, err)
	}
	return nil
}

func (c *MautrixClient) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.ResolveAlias(ctx, alias)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", alias, err)
	}
	return resp.RoomID, nil
}

// SetRoomDisplayName overrides the bot's display name in a single room by
// rewriting its own member event.
func (c *MautrixClient) SetRoomDisplayName(ctx context.Context, roomID id.RoomID, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var member event.MemberEventContent
	if err := c.client.StateEvent(ctx, roomID, event.StateMember, c.client.UserID.String(), &member); err != nil {
		return fmt.Errorf("reading own member event in %s: %w", roomID, err)
	}
	member.Displayname = name

	if _, err := c.client.SendStateEvent(ctx, roomID, event.StateMember, c.client.UserID.String(), &member); err != nil {
		return fmt.Errorf("updating display name in %s: %w", roomID, err)
	}
	return nil
}
