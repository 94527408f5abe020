package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bestorange88/IM/config"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// AuthModule verifies session tokens for the realtime endpoints. Accounts
// live elsewhere; this module only checks signatures and expiry.
type AuthModule struct {
	cfg    config.JWTConfig
	jwt    *JWTManager
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule.
func NewModule(cfg config.JWTConfig, logger types.Logger) *AuthModule {
	return &AuthModule{
		cfg:    cfg,
		jwt:    NewJWTManager(cfg),
		logger: logger.WithModule("auth"),
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Start initializes the auth module.
func (m *AuthModule) Start(_ context.Context) error {
	if m.cfg.SecretKey == "" {
		return fmt.Errorf("jwt secret key is required")
	}
	m.logger.Info("Module started", "issuer", m.cfg.Issuer, "tokenTTL", m.cfg.TokenTTL)
	return nil
}

// Stop shuts down the module.
func (m *AuthModule) Stop(_ context.Context) error {
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.cfg.SecretKey != "",
		Message: "operational",
		Details: map[string]any{
			"issuer": m.cfg.Issuer,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		"verify-token",
		json.Unmarshal,
		json.Marshal,
		m.handleVerifyToken,
	); err != nil {
		return fmt.Errorf("failed to register verify-token service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		"issue-token",
		json.Unmarshal,
		json.Marshal,
		m.handleIssueToken,
	); err != nil {
		return fmt.Errorf("failed to register issue-token service: %w", err)
	}

	m.logger.Info("Registered services", "services", []string{"verify-token", "issue-token"})
	return nil
}

// handleVerifyToken handles token verification.
func (m *AuthModule) handleVerifyToken(_ context.Context, req VerifyTokenRequest, _ *mono.Msg) (VerifyTokenResponse, error) {
	claims, err := m.jwt.ValidateToken(req.Token)
	if err != nil {
		errMsg := "invalid token"
		if errors.Is(err, ErrExpiredToken) {
			errMsg = "token expired"
		}
		return VerifyTokenResponse{
			Valid: false,
			Error: errMsg,
		}, nil // Return response, not error, for validation failures
	}

	return VerifyTokenResponse{
		Valid:    true,
		UserID:   claims.Identity(),
		Username: claims.Username,
		Nickname: claims.Nickname,
	}, nil
}

// handleIssueToken handles token issuance.
func (m *AuthModule) handleIssueToken(_ context.Context, req IssueTokenRequest, _ *mono.Msg) (IssueTokenResponse, error) {
	if req.UserID == "" {
		return IssueTokenResponse{}, fmt.Errorf("user_id is required")
	}
	token, expiresAt, err := m.jwt.GenerateToken(req.UserID, req.Username, req.Nickname)
	if err != nil {
		return IssueTokenResponse{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return IssueTokenResponse{Token: token, ExpiresAt: expiresAt}, nil
}
