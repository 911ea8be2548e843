package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"go.uber.org/zap"
)

var errMissingBackend = errors.New("session: backend dependency required")

// ControllerConfig describes the collaborators of a Controller.
type ControllerConfig struct {
	Backend  Backend
	Flags    FlagStore
	Notifier Notifier
	Listener Listener
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Controller owns one session. Every state change is serialized by its
// mutex; backend calls run outside the lock and their results are applied
// only while the session is still on the same room and join epoch.
type Controller struct {
	mu           sync.Mutex
	state        State
	backend      Backend
	resolver     *rooms.Resolver
	flags        FlagStore
	notifier     Notifier
	listener     Listener
	clock        func() time.Time
	logger       *zap.Logger
	subscription Subscription
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		backend:  cfg.Backend,
		resolver: rooms.NewResolver(cfg.Backend, logger),
		flags:    cfg.Flags,
		notifier: cfg.Notifier,
		listener: listener,
		clock:    clock,
		logger:   logger,
	}, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start evaluates the onboarding flag once and enters onboarding or join.
// An unreadable flag is treated as not completed.
func (c *Controller) Start() error {
	onboarded := false
	if c.flags != nil {
		completed, err := c.flags.OnboardingCompleted()
		if err != nil {
			c.logger.Warn("onboarding flag unreadable", zap.Error(err))
		}
		onboarded = completed && err == nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.Start(onboarded)
	if err != nil {
		return err
	}
	c.setStateLocked(next)
	return nil
}

// CompleteOnboarding persists the flag and moves to the join view. The
// transition happens even when the flag cannot be written.
func (c *Controller) CompleteOnboarding() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.CompleteOnboarding()
	if err != nil {
		return err
	}
	if c.flags != nil {
		if err := c.flags.MarkOnboardingCompleted(); err != nil {
			c.logger.Warn("failed to persist onboarding flag", zap.Error(err))
		}
	}
	c.setStateLocked(next)
	return nil
}

// Join resolves rawRoomID and moves to role selection. Resolution failures
// leave the session on the join view and match rooms.ErrConnectionFailed.
func (c *Controller) Join(ctx context.Context, rawRoomID string) error {
	c.mu.Lock()
	if c.state.View() != ViewJoin {
		err := c.state.invalid("join")
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	room, err := c.resolver.Resolve(ctx, rawRoomID)
	if err != nil {
		c.logger.Warn("room resolution failed", zap.String("room_input", rawRoomID), zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.Joined(room)
	if err != nil {
		return err
	}
	c.setStateLocked(next)
	c.logger.Info("joined room", zap.String("room_id", room.RoomID.String()))
	return nil
}

// SelectRole activates the session and subscribes to the room's feed. A
// failed subscription is logged and the session stays active without live
// partner updates.
func (c *Controller) SelectRole(ctx context.Context, role rooms.Role) error {
	c.mu.Lock()
	next, err := c.state.SelectRole(role)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(next)
	stale := c.detachSubscriptionLocked()
	roomID, epoch := next.RoomID(), next.Epoch()
	c.mu.Unlock()
	closeSubscription(stale)

	subscription, err := c.backend.Subscribe(ctx, roomID)
	if err != nil {
		c.logger.Warn("room subscription failed", zap.String("room_id", roomID.String()), zap.Error(err))
		return nil
	}

	c.mu.Lock()
	if !c.state.Current(roomID, epoch) || c.state.View() != ViewActive || c.subscription != nil {
		c.mu.Unlock()
		closeSubscription(subscription)
		return nil
	}
	c.subscription = subscription
	c.mu.Unlock()

	go c.pump(subscription, roomID, epoch)
	return nil
}

// Hydrate records one drink for the session's role. The owned counter is
// incremented locally before the write is issued; a failed write restores
// the pre-mutation snapshot and returns an error matching ErrSyncFailed.
// Without a role or snapshot Hydrate does nothing.
func (c *Controller) Hydrate(ctx context.Context) error {
	c.mu.Lock()
	previous, hasSnapshot := c.state.Snapshot()
	role := c.state.Role()
	if c.state.View() != ViewActive || !role.Valid() || !hasSnapshot {
		c.mu.Unlock()
		return nil
	}
	count := previous.Water(role) + 1
	wateredAt := c.clock().UTC()
	optimistic := previous.WithWater(role, count, wateredAt)
	next, _ := c.state.ApplySnapshot(optimistic)
	c.setStateLocked(next)
	roomID, epoch := next.RoomID(), next.Epoch()
	c.mu.Unlock()

	err := c.backend.UpdateWater(ctx, roomID, role, count, wateredAt)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Current(roomID, epoch) {
		c.logger.Debug("discarding rollback for a room no longer active",
			zap.String("room_id", roomID.String()), zap.Error(err))
		return nil
	}
	c.setStateLocked(c.state.Rollback(previous))
	c.logger.Warn("hydration write failed, rolled back",
		zap.String("room_id", roomID.String()),
		zap.String("role", role.String()),
		zap.Int64("count", count),
		zap.Error(err))
	return fmt.Errorf("%w: %v", ErrSyncFailed, err)
}

// Leave cancels the live subscription and returns to the join view.
func (c *Controller) Leave() error {
	c.mu.Lock()
	next, err := c.state.Leave()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.setStateLocked(next)
	subscription := c.detachSubscriptionLocked()
	c.mu.Unlock()
	closeSubscription(subscription)
	return nil
}

// Close releases the live subscription without changing the view.
func (c *Controller) Close() error {
	c.mu.Lock()
	subscription := c.detachSubscriptionLocked()
	c.mu.Unlock()
	if subscription == nil {
		return nil
	}
	return subscription.Close()
}

func (c *Controller) pump(subscription Subscription, roomID rooms.RoomID, epoch uint64) {
	for room := range subscription.Updates() {
		c.mu.Lock()
		if c.subscription != subscription || !c.state.Current(roomID, epoch) {
			c.mu.Unlock()
			return
		}
		next, partnerHydrated := c.state.ApplySnapshot(room)
		c.setStateLocked(next)
		if partnerHydrated {
			c.signalPartnerLocked(room)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	current := c.subscription == subscription
	if current {
		c.subscription = nil
	}
	c.mu.Unlock()
	if current {
		c.logger.Warn("room subscription dropped", zap.String("room_id", roomID.String()))
		closeSubscription(subscription)
	}
}

func (c *Controller) signalPartnerLocked(room rooms.Room) {
	c.listener.PartnerHydrated(room)
	if c.notifier == nil || c.notifier.Permission() != PermissionGranted {
		return
	}
	if err := c.notifier.Notify(partnerNotificationTitle, partnerNotificationBody); err != nil {
		c.logger.Warn("partner notification failed", zap.Error(err))
	}
}

func (c *Controller) setStateLocked(next State) {
	c.state = next
	c.listener.StateChanged(next)
}

func (c *Controller) detachSubscriptionLocked() Subscription {
	subscription := c.subscription
	c.subscription = nil
	return subscription
}

func closeSubscription(subscription Subscription) {
	if subscription != nil {
		_ = subscription.Close()
	}
}
