package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRoomNotFound is returned when a room was never created.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when creating a room whose ID is taken.
	ErrRoomExists = errors.New("room already exists")
)

// Repository provides access to message and room storage.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new chat repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateMessage saves a message.
func (r *Repository) CreateMessage(ctx context.Context, msg *StoredMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListRecent returns the latest limit messages of a room, oldest first.
func (r *Repository) ListRecent(ctx context.Context, roomID string, limit int) ([]*StoredMessage, error) {
	var msgs []*StoredMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CreateRoom saves a new room.
func (r *Repository) CreateRoom(ctx context.Context, room *RoomRecord) error {
	if _, err := r.FindRoom(ctx, room.ID); err == nil {
		return ErrRoomExists
	} else if !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

// FindRoom retrieves a room by its ID.
func (r *Repository) FindRoom(ctx context.Context, id string) (*RoomRecord, error) {
	var room RoomRecord
	if err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	return &room, nil
}

// AddMember grants userID access to roomID. Adding an existing member is a
// no-op.
func (r *Repository) AddMember(ctx context.Context, roomID, userID string) error {
	member := &RoomMember{RoomID: roomID, UserID: userID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(member).Error
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// IsMember reports whether userID was added to roomID.
func (r *Repository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// CanJoin reports whether userID may join roomID. Unknown and public rooms are
// open to everyone; private rooms require membership.
func (r *Repository) CanJoin(ctx context.Context, userID, roomID string) (bool, error) {
	room, err := r.FindRoom(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !room.Private {
		return true, nil
	}
	return r.IsMember(ctx, roomID, userID)
}
