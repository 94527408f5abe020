package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// PresencePort defines the interface for presence lookups.
type PresencePort interface {
	Get(ctx context.Context, userID string) (Presence, error)
}

// PresenceAdapter wraps the presence module's services for consumers.
type PresenceAdapter struct {
	container mono.ServiceContainer
}

// NewPresenceAdapter creates a new adapter for presence services.
func NewPresenceAdapter(container mono.ServiceContainer) PresencePort {
	return &PresenceAdapter{container: container}
}

// Get returns the presence of userID.
func (a *PresenceAdapter) Get(ctx context.Context, userID string) (Presence, error) {
	req := GetPresenceRequest{UserID: userID}
	var resp Presence
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"get-presence",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return Presence{}, fmt.Errorf("get-presence failed: %w", err)
	}
	return resp, nil
}
