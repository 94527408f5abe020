package chat

import (
	"time"

	domain "github.com/bestorange88/IM/domain/chat"
)

// StoredMessage is the persisted form of a chat message.
type StoredMessage struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	RoomID    string    `gorm:"size:64;not null;index:idx_messages_room_created,priority:1" json:"room_id"`
	SenderID  string    `gorm:"size:64;not null" json:"sender_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2" json:"created_at"`
}

// TableName returns the table name for StoredMessage model.
func (StoredMessage) TableName() string {
	return "messages"
}

// RoomRecord is a room known to the store. Rooms that were never created are
// implicitly public.
type RoomRecord struct {
	ID        string    `gorm:"primarykey;size:64" json:"id"`
	Name      string    `gorm:"size:100" json:"name"`
	Private   bool      `gorm:"not null;default:false" json:"private"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for RoomRecord model.
func (RoomRecord) TableName() string {
	return "rooms"
}

// RoomMember grants an identity access to a private room.
type RoomMember struct {
	RoomID    string    `gorm:"primarykey;size:64" json:"room_id"`
	UserID    string    `gorm:"primarykey;size:64" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for RoomMember model.
func (RoomMember) TableName() string {
	return "room_members"
}

func toStoredMessage(msg domain.Message) *StoredMessage {
	return &StoredMessage{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func (s *StoredMessage) toDomain() domain.Message {
	return domain.Message{
		ID:        s.ID,
		SenderID:  s.SenderID,
		RoomID:    s.RoomID,
		Content:   s.Content,
		CreatedAt: s.CreatedAt.UTC(),
	}
}

func (r *RoomRecord) toDomain() domain.Room {
	return domain.Room{
		ID:        r.ID,
		Name:      r.Name,
		Private:   r.Private,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
