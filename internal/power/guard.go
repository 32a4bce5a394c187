// ABOUTME: Read-only power level queries against a room
// ABOUTME: Every query fails loudly when the power levels cannot be read

package power

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/matrix"
)

// Power level thresholds for the bot's permission tiers.
const (
	AdminLevel     = 100
	ModeratorLevel = 50
)

// Guard answers permission questions for rooms. It never writes.
type Guard struct {
	client matrix.Client
}

// NewGuard creates a guard reading through client.
func NewGuard(client matrix.Client) *Guard {
	return &Guard{client: client}
}

// PowerLevels reads the m.room.power_levels state of a room.
func (g *Guard) PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var levels event.PowerLevelsEventContent
	if err := g.client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &levels); err != nil {
		return nil, fmt.Errorf("reading power levels of %s: %w", roomID, err)
	}
	return &levels, nil
}

// UserLevel returns the power level of user in a room.
func (g *Guard) UserLevel(ctx context.Context, roomID id.RoomID, user id.UserID) (int, error) {
	levels, err := g.PowerLevels(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return levels.GetUserLevel(user), nil
}

// CanInvite reports whether user may invite others into the room.
func (g *Guard) CanInvite(ctx context.Context, roomID id.RoomID, user id.UserID) (bool, error) {
	levels, err := g.PowerLevels(ctx, roomID)
	if err != nil {
		return false, err
	}
	return levels.GetUserLevel(user) >= levels.Invite(), nil
}

// CanSendState reports whether user may send state events of evtType.
func (g *Guard) CanSendState(ctx context.Context, roomID id.RoomID, user id.UserID, evtType event.Type) (bool, error) {
	levels, err := g.PowerLevels(ctx, roomID)
	if err != nil {
		return false, err
	}
	return levels.GetUserLevel(user) >= stateLevel(levels, evtType), nil
}

// IsAdmin reports whether user holds admin level in the room.
func (g *Guard) IsAdmin(ctx context.Context, roomID id.RoomID, user id.UserID) (bool, error) {
	level, err := g.UserLevel(ctx, roomID, user)
	if err != nil {
		return false, err
	}
	return level >= AdminLevel, nil
}

// IsModerator reports whether user holds at least moderator level.
func (g *Guard) IsModerator(ctx context.Context, roomID id.RoomID, user id.UserID) (bool, error) {
	level, err := g.UserLevel(ctx, roomID, user)
	if err != nil {
		return false, err
	}
	return level >= ModeratorLevel, nil
}

// stateLevel is the level needed to send a state event. An explicit entry
// in the events map wins over state_default.
func stateLevel(levels *event.PowerLevelsEventContent, evtType event.Type) int {
	if level, ok := levels.Events[evtType.String()]; ok {
		return level
	}
	return levels.StateDefault()
}
