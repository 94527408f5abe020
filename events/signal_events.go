package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// PeerOnlineEvent is emitted when an identity registers for call signaling.
type PeerOnlineEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PeerOfflineEvent is emitted when a signaling connection goes away.
type PeerOfflineEvent struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the signaling domain.
var (
	PeerOnlineV1 = helper.EventDefinition[PeerOnlineEvent](
		"signaling",
		"PeerOnline",
		"v1",
	)

	PeerOfflineV1 = helper.EventDefinition[PeerOfflineEvent](
		"signaling",
		"PeerOffline",
		"v1",
	)
)
