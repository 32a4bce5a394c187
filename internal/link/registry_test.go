// ABOUTME: Tests for the pointer registry
// ABOUTME: Round-trips, clearing, corruption and transport failures

package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/matrix/matrixtest"
	"github.com/2389/coven-joinlink/internal/pointer"
)

const (
	bot     = id.UserID("@bot:example.org")
	target  = id.RoomID("!target:example.org")
	gateway = id.RoomID("!gateway:example.org")
)

func newRegistry(t *testing.T, secret string) (*Registry, *matrixtest.FakeClient) {
	t.Helper()
	fake := matrixtest.NewFakeClient(bot)
	fake.AddRoom(target)
	fake.AddRoom(gateway)
	return NewRegistry(fake, pointer.New(secret), slog.New(slog.NewTextHandler(io.Discard, nil))), fake
}

func TestRegistry_UnsetByDefault(t *testing.T) {
	r, _ := newRegistry(t, "secret-key")
	ctx := context.Background()

	roomID, state := r.GatewayPointer(ctx, target)
	assert.Equal(t, Unset, state)
	assert.Empty(t, roomID)

	roomID, state = r.TargetPointer(ctx, gateway)
	assert.Equal(t, Unset, state)
	assert.Empty(t, roomID)
}

func TestRegistry_SetAndGet(t *testing.T) {
	r, fake := newRegistry(t, "secret-key")
	ctx := context.Background()

	require.NoError(t, r.SetGatewayPointer(ctx, target, gateway))
	require.NoError(t, r.SetTargetPointer(ctx, gateway, target))

	roomID, state := r.GatewayPointer(ctx, target)
	assert.Equal(t, Set, state)
	assert.Equal(t, gateway, roomID)

	roomID, state = r.TargetPointer(ctx, gateway)
	assert.Equal(t, Set, state)
	assert.Equal(t, target, roomID)

	// the stored blob never contains the plain room id
	raw := string(fake.RawState(target, GatewayPointerType, ""))
	assert.Contains(t, raw, `"joinlink_room"`)
	assert.NotContains(t, raw, gateway.String())
}

func TestRegistry_Clear(t *testing.T) {
	r, fake := newRegistry(t, "secret-key")
	ctx := context.Background()

	require.NoError(t, r.SetGatewayPointer(ctx, target, gateway))
	require.NoError(t, r.SetTargetPointer(ctx, gateway, target))
	require.NoError(t, r.ClearGatewayPointer(ctx, target))
	require.NoError(t, r.ClearTargetPointer(ctx, gateway))

	_, state := r.GatewayPointer(ctx, target)
	assert.Equal(t, Unset, state)
	_, state = r.TargetPointer(ctx, gateway)
	assert.Equal(t, Unset, state)

	// cleared, not deleted
	assert.JSONEq(t, `{}`, string(fake.RawState(target, GatewayPointerType, "")))
	assert.JSONEq(t, `{}`, string(fake.RawState(gateway, TargetPointerType, "")))
}

func TestRegistry_WrongKeyIsCorrupted(t *testing.T) {
	writer, fake := newRegistry(t, "first-key")
	ctx := context.Background()
	require.NoError(t, writer.SetTargetPointer(ctx, gateway, target))

	reader := NewRegistry(fake, pointer.New("second-key"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	roomID, state := reader.TargetPointer(ctx, gateway)
	assert.Equal(t, Corrupted, state)
	assert.Empty(t, roomID)
}

func TestRegistry_GarbageIsCorrupted(t *testing.T) {
	r, fake := newRegistry(t, "secret-key")
	garbage := "not|a|blob"
	fake.SetState(target, GatewayPointerType, "", &GatewayPointerContent{Gateway: &garbage})

	_, state := r.GatewayPointer(context.Background(), target)
	assert.Equal(t, Corrupted, state)
}

func TestRegistry_ReadFailureIsUnset(t *testing.T) {
	r, fake := newRegistry(t, "secret-key")
	ctx := context.Background()
	require.NoError(t, r.SetGatewayPointer(ctx, target, gateway))

	fake.SetError("StateEvent", errors.New("timeout"))
	_, state := r.GatewayPointer(ctx, target)
	assert.Equal(t, Unset, state)
}

func TestRegistry_WriteFailure(t *testing.T) {
	r, fake := newRegistry(t, "secret-key")
	boom := errors.New("forbidden")
	fake.SetError("SendStateEvent", boom)

	err := r.SetGatewayPointer(context.Background(), target, gateway)
	assert.ErrorIs(t, err, boom)
	err = r.ClearTargetPointer(context.Background(), gateway)
	assert.ErrorIs(t, err, boom)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unset", Unset.String())
	assert.Equal(t, "set", Set.String())
	assert.Equal(t, "corrupted", Corrupted.String())
}
