package rooms

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("rooms: invalid room id")
	// ErrInvalidRole indicates that a role value is neither p1 nor p2.
	ErrInvalidRole = errors.New("rooms: invalid role")
	// ErrInvalidCount indicates that a water counter value is negative.
	ErrInvalidCount = errors.New("rooms: invalid water count")
	// ErrRoomNotFound is the distinguished "no rows" outcome of a read by key.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrRoomExists indicates that an insert lost to an existing record with the same key.
	ErrRoomExists = errors.New("rooms: room already exists")
	// ErrConnectionFailed is the user-facing resolution failure.
	ErrConnectionFailed = errors.New("connection failed, retry")
)

// RoomID is a normalized room identifier: trimmed and lower-cased.
type RoomID string

// NewRoomID normalizes raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(normalized) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(normalized), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// Role selects one of the two participant slots of a room.
type Role int

const (
	// RoleUnassigned is the zero value; no counter is owned.
	RoleUnassigned Role = iota
	// RoleOne owns p1_water.
	RoleOne
	// RoleTwo owns p2_water.
	RoleTwo
)

const (
	roleOneName = "p1"
	roleTwoName = "p2"
)

// ParseRole maps the wire names "p1" and "p2" to a Role.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case roleOneName:
		return RoleOne, nil
	case roleTwoName:
		return RoleTwo, nil
	default:
		return RoleUnassigned, fmt.Errorf("%w: %q", ErrInvalidRole, value)
	}
}

// Valid reports whether the role owns a counter.
func (r Role) Valid() bool {
	return r == RoleOne || r == RoleTwo
}

// Partner returns the other participant slot.
func (r Role) Partner() Role {
	switch r {
	case RoleOne:
		return RoleTwo
	case RoleTwo:
		return RoleOne
	default:
		return RoleUnassigned
	}
}

func (r Role) String() string {
	switch r {
	case RoleOne:
		return roleOneName
	case RoleTwo:
		return roleTwoName
	default:
		return ""
	}
}

// MarshalText encodes the role using its wire name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unassigned", ErrInvalidRole)
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a wire name into the role.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Role) column() (string, error) {
	switch r {
	case RoleOne:
		return columnP1Water, nil
	case RoleTwo:
		return columnP2Water, nil
	default:
		return "", fmt.Errorf("%w: unassigned", ErrInvalidRole)
	}
}

// Room is the shared record of two counters, as exchanged with clients.
type Room struct {
	RoomID      RoomID     `json:"room_id"`
	P1Water     int64      `json:"p1_water"`
	P2Water     int64      `json:"p2_water"`
	LastWatered *time.Time `json:"last_watered"`
}

// NewRoom returns a fresh record with both counters at zero.
func NewRoom(roomID RoomID) Room {
	return Room{RoomID: roomID}
}

// Water returns the counter owned by role.
func (room Room) Water(role Role) int64 {
	switch role {
	case RoleOne:
		return room.P1Water
	case RoleTwo:
		return room.P2Water
	default:
		return 0
	}
}

// WithWater returns a copy of the record with only role's counter and the
// shared last-watered timestamp replaced.
func (room Room) WithWater(role Role, count int64, wateredAt time.Time) Room {
	updated := room
	switch role {
	case RoleOne:
		updated.P1Water = count
	case RoleTwo:
		updated.P2Water = count
	default:
		return room
	}
	at := wateredAt.UTC()
	updated.LastWatered = &at
	return updated
}

// WaterChange describes a field-scoped counter write for one role.
type WaterChange struct {
	RoomID    RoomID
	Role      Role
	Count     int64
	WateredAt time.Time
}

func (change WaterChange) validate() error {
	if change.RoomID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if !change.Role.Valid() {
		return fmt.Errorf("%w: unassigned", ErrInvalidRole)
	}
	if change.Count < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCount, change.Count)
	}
	return nil
}
