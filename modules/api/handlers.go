package api

import (
	"errors"

	"github.com/bestorange88/IM/config"
	domain "github.com/bestorange88/IM/domain/chat"
	"github.com/bestorange88/IM/modules/broadcast"
	"github.com/bestorange88/IM/modules/chat"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	deps   Deps
	cfg    config.Config
	logger types.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg config.Config, deps Deps, logger types.Logger) *Handlers {
	return &Handlers{deps: deps, cfg: cfg, logger: logger}
}

// Health reports liveness and connection counts.
func (h *Handlers) Health(c *fiber.Ctx) error {
	details := fiber.Map{"status": "healthy", "module": "api"}
	if h.deps.Broadcaster != nil {
		hub := h.deps.Broadcaster.Hub()
		details["chat_rooms"] = hub.RoomCount()
		details["chat_clients"] = hub.ClientCount()
	}
	if h.deps.Signaling != nil {
		details["signaling_peers"] = h.deps.Signaling.Relay().Registry().Count()
	}
	return c.JSON(details)
}

// IssueToken signs a token for any user id. It only exists with dev tokens
// enabled.
func (h *Handlers) IssueToken(c *fiber.Ctx) error {
	if !h.cfg.DevTokens {
		return fiber.ErrNotFound
	}

	var req IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		return badRequest(c, "userId is required")
	}
	if req.Username == "" {
		req.Username = req.UserID
	}

	resp, err := h.deps.Auth.Issue(c.UserContext(), req.UserID, req.Username, req.Nickname)
	if err != nil {
		h.logger.Error("Failed to issue token", "userID", req.UserID, "error", err)
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(TokenResponse{
		Token:     resp.Token,
		TokenType: "Bearer",
		ExpiresAt: resp.ExpiresAt,
	})
}

// History returns the latest messages of a room.
func (h *Handlers) History(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	roomID := c.Params("id")
	if err := h.requireRoomAccess(c, user.UserID, roomID); err != nil {
		return err
	}

	limit := c.QueryInt("limit", h.cfg.HistoryLimit)
	messages, err := h.deps.Chat.History(c.UserContext(), roomID, limit)
	if err != nil {
		h.logger.Error("Failed to load history", "roomID", roomID, "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "history unavailable")
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(HistoryResponse{RoomID: roomID, Messages: messages})
}

// PostMessage persists a message and broadcasts it to the room.
func (h *Handlers) PostMessage(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	roomID := c.Params("id")

	var req PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.requireRoomAccess(c, user.UserID, roomID); err != nil {
		return err
	}

	msg, err := h.deps.Broadcast.PostMessage(c.UserContext(), user.UserID, roomID, req.Content)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(msg)
	case errors.Is(err, broadcast.ErrContentRejected):
		return badRequest(c, err.Error())
	case errors.Is(err, broadcast.ErrPersistenceFailure):
		h.logger.Warn("REST message not persisted", "roomID", roomID, "userID", user.UserID, "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "message could not be stored")
	default:
		h.logger.Error("Failed to post message", "roomID", roomID, "error", err)
		return fiber.ErrInternalServerError
	}
}

// CreateRoom creates a room owned by the caller.
func (h *Handlers) CreateRoom(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	room, err := h.deps.Chat.CreateRoom(c.UserContext(), domain.Room{
		ID:      req.ID,
		Name:    req.Name,
		Private: req.Private,
	}, user.UserID)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(room)
	case errors.Is(err, chat.ErrRoomExists):
		return fiber.NewError(fiber.StatusConflict, "room already exists")
	default:
		h.logger.Error("Failed to create room", "roomID", req.ID, "error", err)
		return fiber.ErrInternalServerError
	}
}

// AddMember grants another user access to a room the caller can join.
func (h *Handlers) AddMember(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	roomID := c.Params("id")

	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.UserID == "" {
		return badRequest(c, "userId is required")
	}
	if err := h.requireRoomAccess(c, user.UserID, roomID); err != nil {
		return err
	}

	err := h.deps.Chat.AddMember(c.UserContext(), roomID, req.UserID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"roomId": roomID, "userId": req.UserID})
	case errors.Is(err, chat.ErrRoomNotFound):
		return fiber.NewError(fiber.StatusNotFound, "room not found")
	default:
		h.logger.Error("Failed to add member", "roomID", roomID, "error", err)
		return fiber.ErrInternalServerError
	}
}

// Members lists identities currently connected to a room.
func (h *Handlers) Members(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	roomID := c.Params("id")
	if err := h.requireRoomAccess(c, user.UserID, roomID); err != nil {
		return err
	}

	members, err := h.deps.Broadcast.RoomMembers(c.UserContext(), roomID)
	if err != nil {
		h.logger.Error("Failed to list members", "roomID", roomID, "error", err)
		return fiber.ErrInternalServerError
	}
	if members == nil {
		members = []string{}
	}
	return c.JSON(MembersResponse{RoomID: roomID, Members: members})
}

// Presence returns what is known about a user.
func (h *Handlers) Presence(c *fiber.Ctx) error {
	p, err := h.deps.Presence.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		h.logger.Error("Failed to load presence", "userID", c.Params("id"), "error", err)
		return fiber.ErrInternalServerError
	}
	return c.JSON(p)
}

func (h *Handlers) requireRoomAccess(c *fiber.Ctx, userID, roomID string) error {
	allowed, err := h.deps.Chat.CanJoin(c.UserContext(), userID, roomID)
	if err != nil {
		h.logger.Error("Room membership check failed", "roomID", roomID, "userID", userID, "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable, "room membership unavailable")
	}
	if !allowed {
		return fiber.NewError(fiber.StatusForbidden, "not a member of this room")
	}
	return nil
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}
