package rooms

import "time"

const (
	columnRoomID      = "room_id"
	columnP1Water     = "p1_water"
	columnP2Water     = "p2_water"
	columnLastWatered = "last_watered"
	queryRoomID       = columnRoomID + " = ?"
)

// RoomModel stores the single persisted record per room.
type RoomModel struct {
	RoomID      string     `gorm:"column:room_id;primaryKey;size:190;not null"`
	P1Water     int64      `gorm:"column:p1_water;not null;default:0"`
	P2Water     int64      `gorm:"column:p2_water;not null;default:0"`
	LastWatered *time.Time `gorm:"column:last_watered"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoomModel) TableName() string {
	return "rooms"
}

func (model RoomModel) toRoom() Room {
	room := Room{
		RoomID:  RoomID(model.RoomID),
		P1Water: model.P1Water,
		P2Water: model.P2Water,
	}
	if model.LastWatered != nil {
		at := model.LastWatered.UTC()
		room.LastWatered = &at
	}
	return room
}
