// ABOUTME: Reads and writes the encrypted pointer state events of a join link
// ABOUTME: Gateway pointer lives on the target, target pointer on the gateway

package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/matrix"
	"github.com/2389/coven-joinlink/internal/pointer"
)

// Pointer state event types. The names are shared with earlier deployments
// so existing links keep resolving.
var (
	GatewayPointerType = event.Type{Type: "org.fuchss.matrix.joinlink", Class: event.StateEventType}
	TargetPointerType  = event.Type{Type: "org.fuchss.matrix.room_to_join", Class: event.StateEventType}
)

// GatewayPointerContent is stored in the target room.
type GatewayPointerContent struct {
	Gateway *string `json:"joinlink_room,omitempty"`
}

// TargetPointerContent is stored in the gateway room.
type TargetPointerContent struct {
	Target *string `json:"room_to_join,omitempty"`
}

// State describes what a pointer read found.
type State int

const (
	// Unset means the slot is missing, empty, or unreadable.
	Unset State = iota
	// Set means the pointer decrypted to a room id.
	Set
	// Corrupted means a blob is present but does not decrypt.
	Corrupted
)

func (s State) String() string {
	switch s {
	case Set:
		return "set"
	case Corrupted:
		return "corrupted"
	default:
		return "unset"
	}
}

// Registry gives access to both pointers of a link.
type Registry struct {
	client matrix.Client
	cipher *pointer.Cipher
	logger *slog.Logger
}

// NewRegistry creates a registry that encrypts pointers with cipher.
func NewRegistry(client matrix.Client, cipher *pointer.Cipher, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		cipher: cipher,
		logger: logger.With("component", "link"),
	}
}

// GatewayPointer returns the gateway a target room links to.
func (r *Registry) GatewayPointer(ctx context.Context, target id.RoomID) (id.RoomID, State) {
	var content GatewayPointerContent
	if !r.read(ctx, target, GatewayPointerType, &content) {
		return "", Unset
	}
	return r.decode(target, GatewayPointerType, content.Gateway)
}

// TargetPointer returns the target room a gateway admits into.
func (r *Registry) TargetPointer(ctx context.Context, gateway id.RoomID) (id.RoomID, State) {
	var content TargetPointerContent
	if !r.read(ctx, gateway, TargetPointerType, &content) {
		return "", Unset
	}
	return r.decode(gateway, TargetPointerType, content.Target)
}

// SetGatewayPointer stores gateway, encrypted, in the target room.
func (r *Registry) SetGatewayPointer(ctx context.Context, target, gateway id.RoomID) error {
	blob, err := r.cipher.Encrypt(gateway)
	if err != nil {
		return fmt.Errorf("encrypting gateway pointer: %w", err)
	}
	return r.write(ctx, target, GatewayPointerType, &GatewayPointerContent{Gateway: &blob})
}

// SetTargetPointer stores target, encrypted, in the gateway room.
func (r *Registry) SetTargetPointer(ctx context.Context, gateway, target id.RoomID) error {
	blob, err := r.cipher.Encrypt(target)
	if err != nil {
		return fmt.Errorf("encrypting target pointer: %w", err)
	}
	return r.write(ctx, gateway, TargetPointerType, &TargetPointerContent{Target: &blob})
}

// ClearGatewayPointer empties the gateway pointer of a target room. The
// state slot stays.
func (r *Registry) ClearGatewayPointer(ctx context.Context, target id.RoomID) error {
	return r.write(ctx, target, GatewayPointerType, &GatewayPointerContent{})
}

// ClearTargetPointer empties the target pointer of a gateway room.
func (r *Registry) ClearTargetPointer(ctx context.Context, gateway id.RoomID) error {
	return r.write(ctx, gateway, TargetPointerType, &TargetPointerContent{})
}

func (r *Registry) read(ctx context.Context, roomID id.RoomID, eventType event.Type, out any) bool {
	err := r.client.StateEvent(ctx, roomID, eventType, "", out)
	if err == nil {
		return true
	}
	if !errors.Is(err, mautrix.MNotFound) {
		r.logger.Warn("failed to read pointer", "room", roomID.String(), "type", eventType.Type, "error", err)
	}
	return false
}

func (r *Registry) write(ctx context.Context, roomID id.RoomID, eventType event.Type, content any) error {
	if err := r.client.SendStateEvent(ctx, roomID, eventType, "", content); err != nil {
		return fmt.Errorf("writing %s in %s: %w", eventType.Type, roomID, err)
	}
	return nil
}

func (r *Registry) decode(roomID id.RoomID, eventType event.Type, blob *string) (id.RoomID, State) {
	if blob == nil || *blob == "" {
		return "", Unset
	}
	decoded, err := r.cipher.Decrypt(*blob)
	if err != nil {
		r.logger.Error("pointer does not decrypt", "room", roomID.String(), "type", eventType.Type, "error", err)
		return "", Corrupted
	}
	return decoded, Set
}
