package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Ownership answers the realtime hub's topic checks from the database.
type Ownership struct {
	DB *sqlx.DB
}

// NewOwnership returns the database-backed topic ownership lookup.
func NewOwnership(db *sqlx.DB) *Ownership {
	return &Ownership{DB: db}
}

// ShopOwner returns the owner of a shop.
func (o *Ownership) ShopOwner(ctx context.Context, shopID int64) (int64, error) {
	var owner int64
	err := o.DB.GetContext(ctx, &owner, "SELECT owner_id FROM shops WHERE id = ?", shopID)
	return owner, err
}

// OrderParties returns the customer of an order and the owner of its shop.
func (o *Ownership) OrderParties(ctx context.Context, orderID int64) (int64, int64, error) {
	var row struct {
		CustomerID  int64 `db:"user_id"`
		ShopOwnerID int64 `db:"owner_id"`
	}
	err := o.DB.GetContext(ctx, &row,
		"SELECT o.user_id, s.owner_id FROM orders o JOIN shops s ON s.id = o.shop_id WHERE o.id = ?", orderID)
	return row.CustomerID, row.ShopOwnerID, err
}

// RealtimeConnect is the handler for GET /v1/realtime?token=<jwt>
// It upgrades the connection; topic subscriptions then happen over the
// websocket.
func (h *Handlers) RealtimeConnect(c *gin.Context) {
	if h.Realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Realtime is not available"})
		return
	}
	if err := h.Realtime.ServeWS(c.Writer, c.Request, currentUserID(c), currentRole(c)); err != nil {
		// The upgrader has already answered the client.
		h.Log.Debug().Err(err).Int64("userID", currentUserID(c)).Msg("websocket upgrade failed")
	}
}
