package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"chatserver/internal/auth"
	"chatserver/internal/models"
	"chatserver/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc  *service.UserService
	convSvc  *service.ConversationService
	notifSvc *service.NotificationService
}

func NewHandler(userSvc *service.UserService, convSvc *service.ConversationService, notifSvc *service.NotificationService) *Handler {
	return &Handler{userSvc: userSvc, convSvc: convSvc, notifSvc: notifSvc}
}

// respondError 把业务错误映射到 HTTP 状态码，未识别的错误记日志并回 500。
func respondError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username, "role": result.User.Role},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// CreateRoom 处理创建房间请求。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Visibility  string `json:"visibility"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.convSvc.CreateRoom(req.Name, req.Description, req.Visibility, auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to create room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListRooms 处理获取房间列表请求。
func (h *Handler) ListRooms(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rooms, err := h.convSvc.ListRooms(auth.GetUser(c), limit)
	if err != nil {
		respondError(c, err, "failed to list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// JoinRoom 处理加入/拉人进房间请求。
func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		UserID uint `json:"user_id"`
	}
	// body 可省略，省略即自己加入。
	_ = c.ShouldBindJSON(&req)
	if err := h.convSvc.JoinRoom(c.Param("id"), auth.GetUser(c), req.UserID); err != nil {
		respondError(c, err, "failed to join room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRoomMembers 处理获取房间成员列表请求。
func (h *Handler) ListRoomMembers(c *gin.Context) {
	members, err := h.convSvc.ListRoomMembers(c.Param("id"), auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to list room members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// ListPins 处理获取房间置顶列表请求。
func (h *Handler) ListPins(c *gin.Context) {
	pins, err := h.convSvc.ListPins(c.Param("id"), auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to list pins")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pins": pins})
}

// CreateDM 处理发起私聊会话请求，幂等：重复请求返回同一会话。
func (h *Handler) CreateDM(c *gin.Context) {
	otherID, ok := uintParam(c, "userID")
	if !ok {
		return
	}
	conv, err := h.convSvc.GetOrCreateDirectConversation(auth.GetUser(c), otherID)
	if err != nil {
		respondError(c, err, "failed to open conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// ListDMs 处理获取私聊会话列表请求。
func (h *Handler) ListDMs(c *gin.Context) {
	convs, err := h.convSvc.ListDirectConversations(auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to list conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// ListMessages 处理获取频道历史请求，软删除的消息不出现。
func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.Atoi(bid); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.convSvc.ListMessages(c.Param("id"), auth.GetUser(c), limit, beforeID)
	if err != nil {
		respondError(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage 处理发消息请求。
func (h *Handler) PostMessage(c *gin.Context) {
	var req struct {
		Body        string              `json:"body"`
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.convSvc.PostMessage(c.Param("id"), auth.GetUser(c), req.Body, req.Attachments)
	if err != nil {
		respondError(c, err, "failed to post message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// EditMessage 处理编辑消息请求。
func (h *Handler) EditMessage(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.convSvc.EditMessage(id, auth.GetUser(c), req.Body)
	if err != nil {
		respondError(c, err, "failed to edit message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage 处理删除消息请求（软删除，管理员可删任何人的）。
func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.convSvc.DeleteMessage(id, auth.GetUser(c)); err != nil {
		respondError(c, err, "failed to delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ToggleReaction 处理反应开关请求。
func (h *Handler) ToggleReaction(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	added, err := h.convSvc.ToggleReaction(id, auth.GetUser(c), req.Emoji)
	if err != nil {
		respondError(c, err, "failed to toggle reaction")
		return
	}
	action := "removed"
	if added {
		action = "added"
	}
	c.JSON(http.StatusOK, gin.H{"action": action})
}

// PinMessage 处理置顶请求。
func (h *Handler) PinMessage(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	pin, err := h.convSvc.PinMessage(id, req.RoomID, auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to pin message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pin": pin})
}

// UnpinMessage 处理取消置顶请求。
func (h *Handler) UnpinMessage(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.convSvc.UnpinMessage(id, auth.GetUser(c)); err != nil {
		respondError(c, err, "failed to unpin message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unpinned"})
}

// RecordRead 处理已读回执请求，幂等。
func (h *Handler) RecordRead(c *gin.Context) {
	var req struct {
		MessageID uint `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MessageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.convSvc.RecordReadReceipt(req.MessageID, c.Param("id"), auth.GetUser(c)); err != nil {
		respondError(c, err, "failed to record read receipt")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UnreadCount 处理未读数查询请求。
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.convSvc.UnreadCount(c.Param("id"), auth.GetUser(c))
	if err != nil {
		respondError(c, err, "failed to count unread")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MuteUser 处理禁言请求，管理员专用。
func (h *Handler) MuteUser(c *gin.Context) {
	var req struct {
		UserID        uint `json:"user_id"`
		DurationHours *int `json:"duration_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.convSvc.MuteUser(req.UserID, auth.GetUser(c), req.DurationHours); err != nil {
		respondError(c, err, "failed to mute user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "muted"})
}

// UnmuteUser 处理解除禁言请求。
func (h *Handler) UnmuteUser(c *gin.Context) {
	id, ok := uintParam(c, "userID")
	if !ok {
		return
	}
	if err := h.convSvc.UnmuteUser(id, auth.GetUser(c)); err != nil {
		respondError(c, err, "failed to unmute user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unmuted"})
}

// ListNotifications 处理获取通知列表请求。
func (h *Handler) ListNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ns, err := h.notifSvc.List(auth.GetUserID(c), limit)
	if err != nil {
		respondError(c, err, "failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

// MarkNotificationRead 处理通知已读请求。
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.notifSvc.MarkRead(id, auth.GetUserID(c)); err != nil {
		respondError(c, err, "failed to mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
