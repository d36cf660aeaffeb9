package api

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
)

// ChatController handles the assistant chat endpoints
type ChatController struct {
	assistant *assistant.Service
}

// NewChatController creates a new chat controller
func NewChatController(svc *assistant.Service) *ChatController {
	return &ChatController{assistant: svc}
}

// RegisterRoutes registers the chat routes on the given group
func (c *ChatController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/coro", c.Coro)
	rg.POST("/chat", c.LegacyChat)
}

// Coro answers one turn of the primary assistant endpoint
func (c *ChatController) Coro(ctx *gin.Context) {
	defer recoverTurn(ctx, func() {
		ctx.JSON(http.StatusOK, assistant.ErrorResponse())
	})

	var req assistant.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid request body").Wrap(err))
		return
	}

	resp, err := c.assistant.Chat(ctx.Request.Context(), middleware.Identity(ctx), req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// LegacyChat answers one turn of the legacy chat endpoint
func (c *ChatController) LegacyChat(ctx *gin.Context) {
	defer recoverTurn(ctx, func() {
		ctx.JSON(http.StatusOK, assistant.LegacyResponse{
			Role:    models.RoleAssistant,
			Content: assistant.ErrorMessage,
		})
	})

	var req assistant.LegacyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, "Invalid request body").Wrap(err))
		return
	}

	resp, err := c.assistant.LegacyChat(ctx.Request.Context(), middleware.Identity(ctx), req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// recoverTurn converts a panic inside a chat turn into a normal reply
func recoverTurn(ctx *gin.Context, reply func()) {
	r := recover()
	if r == nil {
		return
	}
	logger.FromContext(ctx).Error("Chat turn panicked",
		"error", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
		"path", ctx.Request.URL.Path,
	)
	if !ctx.Writer.Written() {
		reply()
	}
	ctx.Abort()
}
