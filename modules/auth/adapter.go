package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// AuthPort defines the interface for authentication operations.
// This is the port that other modules use to access auth functionality.
type AuthPort interface {
	Verify(ctx context.Context, token string) (string, error)
	Authenticate(ctx context.Context, token string) (*Identity, error)
	Issue(ctx context.Context, userID, username, nickname string) (*IssueTokenResponse, error)
}

// AuthAdapter implements AuthPort using the service container.
type AuthAdapter struct {
	container mono.ServiceContainer
}

var _ AuthPort = (*AuthAdapter)(nil)

// NewAuthAdapter creates a new AuthAdapter.
func NewAuthAdapter(container mono.ServiceContainer) *AuthAdapter {
	return &AuthAdapter{
		container: container,
	}
}

// Verify returns the user id of a valid token.
func (a *AuthAdapter) Verify(ctx context.Context, token string) (string, error) {
	id, err := a.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

// Authenticate verifies token and returns the full identity.
func (a *AuthAdapter) Authenticate(ctx context.Context, token string) (*Identity, error) {
	req := VerifyTokenRequest{Token: token}
	var resp VerifyTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"verify-token",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("verify-token request failed: %w", err)
	}

	if !resp.Valid {
		return nil, fmt.Errorf("token validation failed: %s", resp.Error)
	}

	return &Identity{
		UserID:   resp.UserID,
		Username: resp.Username,
		Nickname: resp.Nickname,
	}, nil
}

// Issue signs a token for userID.
func (a *AuthAdapter) Issue(ctx context.Context, userID, username, nickname string) (*IssueTokenResponse, error) {
	req := IssueTokenRequest{UserID: userID, Username: username, Nickname: nickname}
	var resp IssueTokenResponse

	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		"issue-token",
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("issue-token request failed: %w", err)
	}
	return &resp, nil
}
