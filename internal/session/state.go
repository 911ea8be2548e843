package session

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
)

// State is an immutable snapshot of a session. Transitions return the next
// State and leave the receiver unchanged.
type State struct {
	view                 View
	roomID               rooms.RoomID
	role                 rooms.Role
	snapshot             rooms.Room
	hasSnapshot          bool
	previousPartnerCount int64
	hasBaseline          bool
	epoch                uint64
}

func (s State) View() View           { return s.view }
func (s State) RoomID() rooms.RoomID { return s.roomID }
func (s State) Role() rooms.Role     { return s.role }
func (s State) Epoch() uint64        { return s.epoch }

// Snapshot returns the last known room record, if any.
func (s State) Snapshot() (rooms.Room, bool) {
	return s.snapshot, s.hasSnapshot
}

// PreviousPartnerCount returns the partner counter baseline used for
// increment detection. The baseline is absent until a role is selected.
func (s State) PreviousPartnerCount() (int64, bool) {
	return s.previousPartnerCount, s.hasBaseline
}

func (s State) invalid(operation string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, operation, s.view)
}

// Start leaves the uninitialized view for onboarding or join.
func (s State) Start(onboarded bool) (State, error) {
	if s.view != ViewUninitialized {
		return s, s.invalid("start")
	}
	next := s
	next.view = ViewOnboarding
	if onboarded {
		next.view = ViewJoin
	}
	return next, nil
}

func (s State) CompleteOnboarding() (State, error) {
	if s.view != ViewOnboarding {
		return s, s.invalid("complete onboarding")
	}
	next := s
	next.view = ViewJoin
	return next, nil
}

// Joined records the resolved room and opens a new join epoch.
func (s State) Joined(room rooms.Room) (State, error) {
	if s.view != ViewJoin {
		return s, s.invalid("join")
	}
	if room.RoomID == "" {
		return s, fmt.Errorf("%w: empty", rooms.ErrInvalidRoomID)
	}
	return State{
		view:        ViewRoleSelect,
		roomID:      room.RoomID,
		snapshot:    room,
		hasSnapshot: true,
		epoch:       s.epoch + 1,
	}, nil
}

// SelectRole activates the session and takes the current partner counter as
// the detection baseline, so the snapshot seen at join never signals.
func (s State) SelectRole(role rooms.Role) (State, error) {
	if s.view != ViewRoleSelect {
		return s, s.invalid("select role")
	}
	if !role.Valid() {
		return s, fmt.Errorf("%w: unassigned", rooms.ErrInvalidRole)
	}
	next := s
	next.view = ViewActive
	next.role = role
	next.previousPartnerCount = s.snapshot.Water(role.Partner())
	next.hasBaseline = true
	return next, nil
}

// Leave returns to the join view and clears everything tied to the room.
func (s State) Leave() (State, error) {
	if s.view != ViewRoleSelect && s.view != ViewActive {
		return s, s.invalid("leave")
	}
	return State{view: ViewJoin, epoch: s.epoch}, nil
}

// ApplySnapshot replaces the snapshot with room and reports whether the
// partner's counter strictly increased against the established baseline.
// Records for another room, or outside a joined view, are ignored.
func (s State) ApplySnapshot(room rooms.Room) (State, bool) {
	if !s.accepts(room) {
		return s, false
	}
	next := s
	next.snapshot = room
	next.hasSnapshot = true
	if !s.hasBaseline {
		return next, false
	}
	partnerCount := room.Water(s.role.Partner())
	next.previousPartnerCount = partnerCount
	return next, partnerCount > s.previousPartnerCount
}

// Rollback restores a pre-mutation snapshot. The partner baseline is kept so
// a later delivery of an already-signalled value does not signal again.
func (s State) Rollback(previous rooms.Room) State {
	if !s.accepts(previous) {
		return s
	}
	next := s
	next.snapshot = previous
	next.hasSnapshot = true
	return next
}

// Current reports whether the state is still on roomID in the given epoch.
func (s State) Current(roomID rooms.RoomID, epoch uint64) bool {
	return (s.view == ViewRoleSelect || s.view == ViewActive) && s.roomID == roomID && s.epoch == epoch
}

func (s State) accepts(room rooms.Room) bool {
	if s.view != ViewRoleSelect && s.view != ViewActive {
		return false
	}
	return room.RoomID == s.roomID
}
