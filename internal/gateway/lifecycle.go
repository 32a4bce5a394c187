// ABOUTME: Creates and tears down join link gateway rooms
// ABOUTME: Permission checks, locked-down room creation, pointer writes and member revocation

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/link"
	"github.com/2389/coven-joinlink/internal/matrix"
	"github.com/2389/coven-joinlink/internal/metrics"
	"github.com/2389/coven-joinlink/internal/power"
)

// RevokeReason is used for bans and the bot's leave during teardown.
const RevokeReason = "Matrix Join Link invalidated"

var (
	// ErrNotLinked is returned by Teardown when the target has no gateway.
	ErrNotLinked = errors.New("no join link for room")
	// ErrNameRequired is returned by Create when a new gateway needs a name.
	ErrNameRequired = errors.New("link name required")
)

// DeniedError reports a failed precondition. Reason is meant for the user.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return e.Reason
}

func denied(format string, args ...any) error {
	return &DeniedError{Reason: fmt.Sprintf(format, args...)}
}

// CreateResult describes the gateway a Create call ended up with.
type CreateResult struct {
	Gateway id.RoomID
	// Created is false when an existing gateway was returned.
	Created bool
}

// TeardownResult describes what a Teardown call removed.
type TeardownResult struct {
	Gateway id.RoomID
	Banned  []id.UserID
}

// Lifecycle moves target rooms between unlinked and linked.
type Lifecycle struct {
	client     matrix.Client
	guard      *power.Guard
	registry   *link.Registry
	isBotAdmin func(id.UserID) bool
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewLifecycle creates a Lifecycle. isBotAdmin decides who may tear down
// any link regardless of room power.
func NewLifecycle(client matrix.Client, guard *power.Guard, registry *link.Registry, isBotAdmin func(id.UserID) bool, m *metrics.Metrics, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		client:     client,
		guard:      guard,
		registry:   registry,
		isBotAdmin: isBotAdmin,
		metrics:    m,
		logger:     logger.With("component", "gateway"),
	}
}

// Create returns the gateway of target, creating one named name when none
// exists yet.
func (l *Lifecycle) Create(ctx context.Context, requester id.UserID, target id.RoomID, name string) (CreateResult, error) {
	log := l.logger.With("target", target.String(), "user", requester.String())

	if err := l.checkCreate(ctx, requester, target); err != nil {
		return CreateResult{}, err
	}

	if existing, state := l.registry.GatewayPointer(ctx, target); state == link.Set {
		log.Debug("link already exists", "gateway", existing.String())
		return CreateResult{Gateway: existing}, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return CreateResult{}, ErrNameRequired
	}

	gw, err := l.client.CreateRoom(ctx, gatewayRoomRequest(l.client.UserID(), name))
	if err != nil {
		return CreateResult{}, fmt.Errorf("creating gateway room: %w", err)
	}
	log = log.With("gateway", gw.String())
	log.Info("created gateway room")

	err = l.client.SendStateEvent(ctx, gw, event.StateHistoryVisibility, "", &event.HistoryVisibilityEventContent{
		HistoryVisibility: event.HistoryVisibilityJoined,
	})
	if err != nil {
		return CreateResult{}, orphaned(gw, "restricting history", err)
	}
	if err := l.registry.SetTargetPointer(ctx, gw, target); err != nil {
		return CreateResult{}, orphaned(gw, "writing target pointer", err)
	}
	if err := l.registry.SetGatewayPointer(ctx, target, gw); err != nil {
		return CreateResult{}, orphaned(gw, "writing gateway pointer", err)
	}

	l.metrics.LinkCreated()
	return CreateResult{Gateway: gw, Created: true}, nil
}

// Teardown unlinks target from its gateway: both pointers are cleared, all
// gateway members except the bot are banned and the bot leaves. Every step
// is attempted; failures are combined into the returned error.
func (l *Lifecycle) Teardown(ctx context.Context, requester id.UserID, target id.RoomID) (TeardownResult, error) {
	if err := l.checkTeardown(ctx, requester, target); err != nil {
		return TeardownResult{}, err
	}

	gw, state := l.registry.GatewayPointer(ctx, target)
	if state != link.Set {
		return TeardownResult{}, ErrNotLinked
	}

	log := l.logger.With("target", target.String(), "gateway", gw.String(), "user", requester.String())
	log.Info("tearing down link")

	result := TeardownResult{Gateway: gw}
	var errs error
	errs = multierr.Append(errs, l.registry.ClearGatewayPointer(ctx, target))
	errs = multierr.Append(errs, l.registry.ClearTargetPointer(ctx, gw))

	members, err := l.client.JoinedMembers(ctx, gw)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("listing gateway members: %w", err))
	}
	self := l.client.UserID()
	for _, member := range members {
		if member == self {
			continue
		}
		err := l.client.BanUser(ctx, gw, member, RevokeReason)
		l.metrics.Ban(err)
		if err != nil {
			log.Warn("failed to ban gateway member", "member", member.String(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("banning %s: %w", member, err))
			continue
		}
		result.Banned = append(result.Banned, member)
	}

	if err := l.client.LeaveRoom(ctx, gw, RevokeReason); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("leaving gateway: %w", err))
	}

	l.metrics.LinkRemoved()
	return result, errs
}

func (l *Lifecycle) checkCreate(ctx context.Context, requester id.UserID, target id.RoomID) error {
	if err := l.checkRequester(ctx, requester, target, ""); err != nil {
		return err
	}

	self := l.client.UserID()
	canInvite, err := l.guard.CanInvite(ctx, target, self)
	if err != nil {
		return err
	}
	if !canInvite {
		return denied("I am not allowed to invite users to this room (%s)", matrix.MatrixTo(target))
	}

	canSend, err := l.guard.CanSendState(ctx, target, self, link.GatewayPointerType)
	if err != nil {
		return err
	}
	if !canSend {
		return denied("I am not allowed to send state events to this room (%s)", matrix.MatrixTo(target))
	}
	return nil
}

func (l *Lifecycle) checkTeardown(ctx context.Context, requester id.UserID, target id.RoomID) error {
	if l.isBotAdmin != nil && l.isBotAdmin(requester) {
		return nil
	}
	return l.checkRequester(ctx, requester, target, ". Therefore, you cannot remove a join link.")
}

// checkRequester requires requester to be joined in target and allowed to
// invite there. suffix is appended to the invite denial.
func (l *Lifecycle) checkRequester(ctx context.Context, requester id.UserID, target id.RoomID, suffix string) error {
	joined, err := l.client.JoinedMembers(ctx, target)
	if err != nil {
		return fmt.Errorf("listing members of %s: %w", target, err)
	}
	if !slices.Contains(joined, requester) {
		return denied("You are not in the room (%s)", matrix.MatrixTo(target))
	}

	canInvite, err := l.guard.CanInvite(ctx, target, requester)
	if err != nil {
		return err
	}
	if !canInvite {
		return denied("You are not allowed to invite users to this room (%s)%s", matrix.MatrixTo(target), suffix)
	}
	return nil
}

// gatewayRoomRequest builds a publicly joinable room in which only the bot
// can change anything.
func gatewayRoomRequest(bot id.UserID, name string) *mautrix.ReqCreateRoom {
	admin := power.AdminLevel
	return &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "public_chat",
		Name:       fmt.Sprintf("Matrix Join Link '%s'", name),
		Topic:      fmt.Sprintf("This is the Matrix Join Link Room called '%s'. You can leave the room :)", name),
		PowerLevelOverride: &event.PowerLevelsEventContent{
			Users: map[id.UserID]int{bot: admin},
			Events: map[string]int{
				link.GatewayPointerType.Type: admin,
				link.TargetPointerType.Type:  admin,
			},
			EventsDefault:   admin,
			StateDefaultPtr: &admin,
			InvitePtr:       &admin,
			KickPtr:         &admin,
			BanPtr:          &admin,
		},
	}
}

func orphaned(gw id.RoomID, step string, err error) error {
	return fmt.Errorf("%s (gateway room %s left orphaned): %w", step, gw, err)
}
