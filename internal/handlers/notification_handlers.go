package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/zyra-golang/internal/events"
	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/realtime"
)

//
// --- Notification Handlers ---
//

// AddNotification stores a notification and pushes it to the user's
// notifications topic.
func (h *Handlers) AddNotification(ctx context.Context, userID int64, message string, link string) error {
	var nullLink *string
	if link != "" {
		nullLink = &link
	}

	query := `
		INSERT INTO notifications
		(user_id, message, link, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)`

	now := h.now()
	res, err := h.DB.ExecContext(ctx, query, userID, message, nullLink, now)
	if err != nil {
		return fmt.Errorf("failed to add notification: %w", err)
	}
	id, _ := res.LastInsertId()

	h.broadcast(ctx, realtime.NotificationsTopic(userID), "notification.created", models.Notification{
		ID:        id,
		UserID:    userID,
		Message:   message,
		Link:      nullLink,
		CreatedAt: now,
	})
	return nil
}

// notify is AddNotification for post-commit side effects: failures are
// logged, never returned.
func (h *Handlers) notify(ctx context.Context, userID int64, message, link string) {
	if err := h.AddNotification(ctx, userID, message, link); err != nil {
		h.Log.Warn().Err(err).Int64("userID", userID).Msg("notification not delivered")
	}
}

func (h *Handlers) broadcast(ctx context.Context, topic, event string, payload any) {
	if h.Realtime == nil {
		return
	}
	if err := h.Realtime.Publish(ctx, topic, event, payload); err != nil {
		h.Log.Warn().Err(err).Str("topic", topic).Str("event", event).Msg("realtime publish failed")
	}
}

func (h *Handlers) publishOrderEvents(ctx context.Context, evs ...events.OrderEvent) {
	if h.Events == nil || len(evs) == 0 {
		return
	}
	if err := h.Events.PublishOrder(ctx, evs...); err != nil {
		h.Log.Warn().Err(err).Int("count", len(evs)).Msg("order events not published")
	}
}

// GetMyNotifications is the handler for GET /v1/notifications
// It retrieves the latest notifications for the logged-in user, unread first.
func (h *Handlers) GetMyNotifications(c *gin.Context) {
	// 1. --- Get User ID ---
	userID := currentUserID(c)

	// 2. --- Query Database ---
	query := `
		SELECT id, user_id, message, link, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY is_read ASC, created_at DESC
		LIMIT 50`

	notifications := []models.Notification{}
	if err := h.DB.SelectContext(c.Request.Context(), &notifications, query, userID); err != nil {
		internalError(c, err, "Database query failed")
		return
	}

	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread":        unread,
	})
}

// MarkNotificationAsRead is the handler for PATCH /v1/notifications/:id/read
func (h *Handlers) MarkNotificationAsRead(c *gin.Context) {
	// 1. --- Get IDs ---
	userID := currentUserID(c)
	notificationID, ok := paramID(c, "id")
	if !ok {
		return
	}

	// 2. --- Execute Update ---
	// Scoped to the caller so nobody can mark another user's notifications.
	query := `
		UPDATE notifications
		SET is_read = 1
		WHERE id = ? AND user_id = ?`

	result, err := h.DB.ExecContext(c.Request.Context(), query, notificationID, userID)
	if err != nil {
		internalError(c, err, "Failed to update notification")
		return
	}

	// 3. --- Check Rows Affected ---
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		internalError(c, err, "Failed to check affected rows")
		return
	}
	if rowsAffected == 0 {
		// MySQL reports 0 for an already-read row too, so check existence.
		var exists bool
		err := h.DB.GetContext(c.Request.Context(), &exists,
			"SELECT EXISTS(SELECT 1 FROM notifications WHERE id = ? AND user_id = ?)", notificationID, userID)
		if err != nil {
			internalError(c, err, "Failed to check notification")
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found or you do not have permission to update it"})
			return
		}
	}

	// 4. --- Send Success Response ---
	c.JSON(http.StatusOK, gin.H{
		"message": "Notification marked as read",
	})
}
