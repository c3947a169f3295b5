package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ChatInput defines the structure of the JSON request body.
type ChatInput struct {
	Message string `json:"message" binding:"required,max=2000"`
}

// ChatAI is the handler for POST /v1/admin/ai/chat
// The assistant answers from a read-only connection; each exchange is kept
// in ai_chat_history.
func (h *Handlers) ChatAI(c *gin.Context) {
	// 1. Assistant configured?
	if h.AIService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI assistant is not configured"})
		return
	}

	// 2. Parse Input
	var input ChatInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := currentUserID(c)
	ctx := c.Request.Context()

	// 3. Ask
	answer, tokens, err := h.AIService.GenerateResponse(ctx, input.Message, currentRole(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI service unavailable"})
		return
	}

	// 4. Save to History
	_, dbErr := h.DB.ExecContext(ctx, `
		INSERT INTO ai_chat_history (user_id, user_message, ai_response, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, input.Message, answer, tokens, h.now())
	if dbErr != nil {
		// The user already has the answer.
		h.Log.Warn().Err(dbErr).Int64("userID", userID).Msg("failed to save chat history")
	}

	c.JSON(http.StatusOK, gin.H{
		"response":   answer,
		"tokensUsed": tokens,
	})
}
