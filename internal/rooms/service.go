package rooms

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "rooms.service.new"
	opGet         = "rooms.get"
	opInsert      = "rooms.insert"
	opApplyWater  = "rooms.apply_water"
	fieldRoomID   = "room_id"
	fieldRole     = "role"
	fieldCount    = "count"
	reasonMissing = "missing_database"
)

const roomLockStripes = 64

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Publisher receives every committed room record, in commit order per room.
type Publisher interface {
	PublishRoom(ctx context.Context, room Room) error
}

// ServiceConfig describes the dependencies of the room store.
type ServiceConfig struct {
	Database  *gorm.DB
	Clock     func() time.Time
	Publisher Publisher
	Logger    *zap.Logger
}

// Service is the gorm-backed Room Store.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	publisher Publisher
	logger    *zap.Logger
	locks     [roomLockStripes]sync.Mutex
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissing, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:        cfg.Database,
		clock:     clock,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// Get reads a room by key. A missing row yields an error matching
// ErrRoomNotFound. Reads share the room's write lock, so a returned record
// has already been handed to the publisher.
func (s *Service) Get(ctx context.Context, roomID RoomID) (Room, error) {
	if s.db == nil {
		s.logError(opGet, reasonMissing, errMissingDatabase)
		return Room{}, newServiceError(opGet, reasonMissing, errMissingDatabase)
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	var model RoomModel
	err := s.db.WithContext(ctx).Where(queryRoomID, roomID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, newServiceError(opGet, "not_found", ErrRoomNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String(fieldRoomID, roomID.String()))
		return Room{}, newServiceError(opGet, "query_failed", err)
	}
	return model.toRoom(), nil
}

// Insert creates the record with both counters at zero. When another writer
// created the key first the error matches ErrRoomExists and nothing is written.
func (s *Service) Insert(ctx context.Context, roomID RoomID) (Room, error) {
	if s.db == nil {
		s.logError(opInsert, reasonMissing, errMissingDatabase)
		return Room{}, newServiceError(opInsert, reasonMissing, errMissingDatabase)
	}
	if roomID == "" {
		return Room{}, newServiceError(opInsert, "invalid_room_id", ErrInvalidRoomID)
	}

	model := RoomModel{
		RoomID:    roomID.String(),
		CreatedAt: s.clock().UTC(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if result.Error != nil {
		s.logError(opInsert, "insert_failed", result.Error, zap.String(fieldRoomID, roomID.String()))
		return Room{}, newServiceError(opInsert, "insert_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Room{}, newServiceError(opInsert, "already_exists", ErrRoomExists)
	}

	s.loggerOrDefault().Info("room created", zap.String(fieldRoomID, roomID.String()))
	return model.toRoom(), nil
}

// ApplyWater persists a field-scoped counter write and publishes the committed
// record. Counters only move forward: the stored value becomes
// MAX(stored, requested). Writes to the same room are serialized so the
// publisher observes records in commit order.
func (s *Service) ApplyWater(ctx context.Context, change WaterChange) (Room, error) {
	if s.db == nil {
		s.logError(opApplyWater, reasonMissing, errMissingDatabase)
		return Room{}, newServiceError(opApplyWater, reasonMissing, errMissingDatabase)
	}
	if err := change.validate(); err != nil {
		return Room{}, newServiceError(opApplyWater, "invalid_change", err)
	}
	column, err := change.Role.column()
	if err != nil {
		return Room{}, newServiceError(opApplyWater, "invalid_change", err)
	}

	unlock := s.lockRoom(change.RoomID)
	defer unlock()

	wateredAt := change.WateredAt.UTC()
	if change.WateredAt.IsZero() {
		wateredAt = s.clock().UTC()
	}

	var stored RoomModel
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.Model(&RoomModel{}).
			Where(queryRoomID, change.RoomID.String()).
			Updates(map[string]interface{}{
				column:            gorm.Expr("MAX("+column+", ?)", change.Count),
				columnLastWatered: wateredAt,
			})
		if result.Error != nil {
			return newServiceError(opApplyWater, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opApplyWater, "not_found", ErrRoomNotFound)
		}
		if err := transaction.Where(queryRoomID, change.RoomID.String()).Take(&stored).Error; err != nil {
			return newServiceError(opApplyWater, "reload_failed", err)
		}
		return nil
	})
	if transactionError != nil {
		if !errors.Is(transactionError, ErrRoomNotFound) {
			s.logError(opApplyWater, "transaction_failed", transactionError,
				zap.String(fieldRoomID, change.RoomID.String()),
				zap.String(fieldRole, change.Role.String()))
		}
		return Room{}, transactionError
	}

	room := stored.toRoom()
	s.loggerOrDefault().Debug("room watered",
		zap.String(fieldRoomID, room.RoomID.String()),
		zap.String(fieldRole, change.Role.String()),
		zap.Int64(fieldCount, room.Water(change.Role)))

	if s.publisher != nil {
		if err := s.publisher.PublishRoom(context.WithoutCancel(ctx), room); err != nil {
			s.logError(opApplyWater, "publish_failed", err, zap.String(fieldRoomID, room.RoomID.String()))
		}
	}
	return room, nil
}

func (s *Service) lockRoom(roomID RoomID) func() {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(roomID))
	mutex := &s.locks[hash.Sum32()%roomLockStripes]
	mutex.Lock()
	return mutex.Unlock
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("rooms service error", attrs...)
}
