package chat

import "time"

// Message is a chat message as it travels through the realtime layer.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room represents a chat room known to the message store.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Private   bool      `json:"private"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member is a live participant of a room.
type Member struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}
