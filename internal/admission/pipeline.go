// ABOUTME: Turns "someone joined a gateway" into at most one invite to the target room
// ABOUTME: Dedupes notifications, serializes per user, and verifies the pointer loop

package admission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-joinlink/internal/dedupe"
	"github.com/2389/coven-joinlink/internal/link"
	"github.com/2389/coven-joinlink/internal/matrix"
	"github.com/2389/coven-joinlink/internal/metrics"
	"github.com/2389/coven-joinlink/internal/power"
)

// Outcome is the result of handling one notification.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeNotGateway    Outcome = "not_gateway"
	OutcomeNotLinked     Outcome = "not_linked"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeBrokenLink    Outcome = "broken_link"
	OutcomeMismatch      Outcome = "mismatch"
	OutcomeAlreadyMember Outcome = "already_member"
	OutcomeInvited       Outcome = "invited"
	OutcomeInviteFailed  Outcome = "invite_failed"
)

// User-facing texts.
const (
	WelcomeMessage = "You've reached a MatrixJoinRoom. I'll invite you to the rooms ..\nYou can leave the room now :)"
	InviteReason   = "Join via MatrixJoinLink"

	inviteFailedTarget  = "**I could not invite %s to the room. Please invite them manually.**"
	inviteFailedGateway = "**I could not invite you to the room. Please ask the person who gave you the link that they can invite you manually.**"
)

// Notification is a membership change in a room the bot occupies.
type Notification struct {
	EventID    id.EventID
	Timestamp  time.Time // zero when unknown
	RoomID     id.RoomID
	UserID     id.UserID
	Membership event.Membership
}

// NotificationFromEvent extracts a Notification from an m.room.member
// event. The affected user is the state key, or the sender when the state
// key is missing.
func NotificationFromEvent(evt *event.Event) (Notification, bool) {
	member, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok {
		return Notification{}, false
	}

	n := Notification{
		EventID:    evt.ID,
		RoomID:     evt.RoomID,
		UserID:     evt.Sender,
		Membership: member.Membership,
	}
	if evt.StateKey != nil && *evt.StateKey != "" {
		n.UserID = id.UserID(*evt.StateKey)
	}
	if evt.Timestamp > 0 {
		n.Timestamp = time.UnixMilli(evt.Timestamp)
	}
	return n, true
}

// Options tune a Pipeline. Zero values pick defaults.
type Options struct {
	Clock         clock.Clock
	TTL           time.Duration
	LockCacheSize int
	Metrics       *metrics.Metrics
}

// Pipeline owns the dedupe record and user locks of the admission flow.
type Pipeline struct {
	client   matrix.Client
	guard    *power.Guard
	registry *link.Registry
	seen     *dedupe.Cache
	locks    *lockSet
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(client matrix.Client, guard *power.Guard, registry *link.Registry, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TTL <= 0 {
		opts.TTL = dedupe.DefaultTTL
	}

	locks, err := newLockSet(opts.LockCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating lock cache: %w", err)
	}

	return &Pipeline{
		client:   client,
		guard:    guard,
		registry: registry,
		seen:     dedupe.New(opts.TTL, dedupe.DefaultMaxSize, opts.Clock),
		locks:    locks,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "admission"),
	}, nil
}

// HandleMember implements matrix.MemberHandler.
func (p *Pipeline) HandleMember(ctx context.Context, evt *event.Event) {
	n, ok := NotificationFromEvent(evt)
	if !ok {
		return
	}
	p.Handle(ctx, n)
}

// Handle runs the admission procedure for one notification.
func (p *Pipeline) Handle(ctx context.Context, n Notification) Outcome {
	start := p.clock.Now()
	outcome := p.handle(ctx, n)
	p.metrics.ObserveAdmission(string(outcome), p.clock.Since(start))
	return outcome
}

func (p *Pipeline) handle(ctx context.Context, n Notification) Outcome {
	if n.Membership != event.MembershipJoin || n.UserID == p.client.UserID() {
		return OutcomeIgnored
	}

	log := p.logger.With("room", n.RoomID.String(), "user", n.UserID.String())

	admin, err := p.guard.IsAdmin(ctx, n.RoomID, p.client.UserID())
	if err != nil {
		log.Debug("skipping member event, cannot read power levels", "error", err)
		return OutcomeNotGateway
	}
	if !admin {
		log.Debug("skipping member event, not a bot room")
		return OutcomeNotGateway
	}

	p.seen.Sweep()

	key := string(n.EventID)
	if key == "" {
		key = n.RoomID.String() + "-" + n.UserID.String()
	}
	at := n.Timestamp
	if at.IsZero() {
		at = p.clock.Now()
	}

	release := p.locks.acquire(n.UserID)
	defer release()

	return p.admit(ctx, log, n, key, at)
}

// admit must run under the user's lock.
func (p *Pipeline) admit(ctx context.Context, log *slog.Logger, n Notification, key string, at time.Time) Outcome {
	target, state := p.registry.TargetPointer(ctx, n.RoomID)
	if state == link.Unset {
		return OutcomeNotLinked
	}

	if p.seen.CheckAndMark(key, at) {
		log.Debug("skipping member event, already handled", "event_id", key)
		return OutcomeDuplicate
	}

	log.Info("inviting user because of join to gateway")
	if err := p.client.SendMessage(ctx, n.RoomID, matrix.Text(WelcomeMessage)); err != nil {
		log.Warn("failed to send welcome message", "error", err)
	}

	if state == link.Corrupted {
		log.Debug("skipping member event, link is broken")
		return OutcomeBrokenLink
	}
	log = log.With("target", target.String())

	back, backState := p.registry.GatewayPointer(ctx, target)
	if backState != link.Set || back != n.RoomID {
		log.Error("refusing to invite, link is broken", "gateway_pointer", back.String(), "pointer_state", backState.String())
		return OutcomeMismatch
	}

	joined, err := p.client.JoinedMembers(ctx, target)
	if err != nil {
		log.Warn("cannot list members of target room", "error", err)
		return OutcomeNotLinked
	}
	if slices.Contains(joined, n.UserID) {
		log.Debug("skipping member event, user already in target room")
		return OutcomeAlreadyMember
	}

	if err := p.client.InviteUser(ctx, target, n.UserID, InviteReason); err != nil {
		log.Error("failed to invite user", "error", err)
		if serr := p.client.SendMessage(ctx, target, matrix.Markdown(fmt.Sprintf(inviteFailedTarget, n.UserID))); serr != nil {
			log.Warn("failed to notify target room", "error", serr)
		}
		if serr := p.client.SendMessage(ctx, n.RoomID, matrix.Markdown(inviteFailedGateway)); serr != nil {
			log.Warn("failed to notify gateway room", "error", serr)
		}
		return OutcomeInviteFailed
	}

	return OutcomeInvited
}
