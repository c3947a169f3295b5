package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
)

//
// --- Shop Revenue Dashboard ---
//

// ShopRevenue is the body of GET /v1/shop/revenue.
type ShopRevenue struct {
	TotalRevenue float64        `json:"totalRevenue"`
	MonthRevenue float64        `json:"monthRevenue"`
	TotalOrders  int            `json:"totalOrders"`
	Transactions []models.Order `json:"transactions"`
}

// monthStart is midnight UTC on the first day of now's month.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// GetShopRevenue is the handler for GET /v1/shop/revenue
// Cancelled orders never count as revenue.
func (h *Handlers) GetShopRevenue(c *gin.Context) {
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stats := ShopRevenue{Transactions: []models.Order{}}

	// 1. Revenue and order count
	var totals struct {
		Total  float64 `db:"total"`
		Month  float64 `db:"month"`
		Orders int     `db:"orders"`
	}
	err := h.DB.GetContext(ctx, &totals, `
		SELECT
			COALESCE(SUM(CASE WHEN status <> ? THEN total_amount END), 0) AS total,
			COALESCE(SUM(CASE WHEN status <> ? AND created_at >= ? THEN total_amount END), 0) AS month,
			COUNT(*) AS orders
		FROM orders
		WHERE shop_id = ?`,
		string(orders.StatusCancelled), string(orders.StatusCancelled), monthStart(h.now()), shop.ID)
	if err != nil {
		internalError(c, err, "Failed to calculate revenue")
		return
	}
	stats.TotalRevenue = orders.RoundMoney(totals.Total)
	stats.MonthRevenue = orders.RoundMoney(totals.Month)
	stats.TotalOrders = totals.Orders

	// 2. Latest transactions
	err = h.DB.SelectContext(ctx, &stats.Transactions,
		orderSelect+" WHERE o.shop_id = ? ORDER BY o.created_at DESC, o.id DESC LIMIT 50", shop.ID)
	if err != nil {
		internalError(c, err, "Failed to load transactions")
		return
	}

	c.JSON(http.StatusOK, stats)
}
