// Package session holds the client-side synchronization core: the session
// state machine, the hydration mutator and partner-increment detection.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
)

var (
	// ErrInvalidTransition indicates an operation not permitted from the current view.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrSyncFailed is returned by Hydrate after a failed write has been rolled back.
	ErrSyncFailed = errors.New("sync failed, checking connection")
	// ErrInvalidPermission indicates an unrecognized notification permission value.
	ErrInvalidPermission = errors.New("session: invalid notification permission")
)

const (
	partnerNotificationTitle = "Partner Activity"
	partnerNotificationBody  = "Your partner just hydrated."
)

// View enumerates the screens of a session.
type View int

const (
	ViewUninitialized View = iota
	ViewOnboarding
	ViewJoin
	ViewRoleSelect
	ViewActive
)

func (v View) String() string {
	switch v {
	case ViewOnboarding:
		return "onboarding"
	case ViewJoin:
		return "join"
	case ViewRoleSelect:
		return "role-select"
	case ViewActive:
		return "active"
	default:
		return "uninitialized"
	}
}

// Permission is the platform's system notification permission.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

// ParsePermission maps "default", "granted" and "denied" to a Permission.
func ParsePermission(value string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "default":
		return PermissionDefault, nil
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	default:
		return PermissionDefault, fmt.Errorf("%w: %q", ErrInvalidPermission, value)
	}
}

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// Subscription is a live handle on a room's change feed. Updates closes when
// the feed drops or Close is called.
type Subscription interface {
	Updates() <-chan rooms.Room
	Close() error
}

// Backend is everything the controller needs from the Room Store and the
// Change Feed.
type Backend interface {
	rooms.Store
	UpdateWater(ctx context.Context, roomID rooms.RoomID, role rooms.Role, count int64, wateredAt time.Time) error
	Subscribe(ctx context.Context, roomID rooms.RoomID) (Subscription, error)
}

// FlagStore persists the onboarding-completed flag across restarts.
type FlagStore interface {
	OnboardingCompleted() (bool, error)
	MarkOnboardingCompleted() error
}

// Notifier delivers system notifications.
type Notifier interface {
	Permission() Permission
	Notify(title, body string) error
}

// Listener observes the session. Methods run while the controller lock is
// held and must not call back into the Controller.
type Listener interface {
	StateChanged(state State)
	PartnerHydrated(room rooms.Room)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) StateChanged(State)         {}
func (NopListener) PartnerHydrated(rooms.Room) {}
