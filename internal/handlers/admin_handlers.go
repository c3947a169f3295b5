package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
)

//
// --- Admin: Platform Stats ---
//

// AdminStats is the body of GET /v1/admin/stats.
type AdminStats struct {
	UsersByRole    map[string]int `json:"usersByRole"`
	ActiveShops    int            `json:"activeShops"`
	PendingShops   int            `json:"pendingShops"`
	OrdersByStatus map[string]int `json:"ordersByStatus"`
	GrossRevenue   float64        `json:"grossRevenue"`
}

type countRow struct {
	Key string `db:"k"`
	N   int    `db:"n"`
}

// GetAdminStats is the handler for GET /v1/admin/stats
func (h *Handlers) GetAdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := AdminStats{
		UsersByRole:    map[string]int{models.RoleCustomer: 0, models.RoleShopOwner: 0, models.RoleAdmin: 0},
		OrdersByStatus: map[string]int{},
	}
	for _, s := range orders.AllStatuses() {
		stats.OrdersByStatus[string(s)] = 0
	}

	// 1. Users per role
	var roles []countRow
	err := h.DB.SelectContext(ctx, &roles, `
		SELECT COALESCE(r.role, 'customer') AS k, COUNT(*) AS n
		FROM users u
		LEFT JOIN user_roles r ON r.user_id = u.id
		GROUP BY k`)
	if err != nil {
		internalError(c, err, "Failed to count users")
		return
	}
	for _, r := range roles {
		stats.UsersByRole[r.Key] = r.N
	}

	// 2. Shops
	var shops struct {
		Active  int `db:"active"`
		Pending int `db:"pending"`
	}
	err = h.DB.GetContext(ctx, &shops, `
		SELECT COALESCE(SUM(is_active = 1), 0) AS active, COALESCE(SUM(is_active = 0), 0) AS pending
		FROM shops`)
	if err != nil {
		internalError(c, err, "Failed to count shops")
		return
	}
	stats.ActiveShops, stats.PendingShops = shops.Active, shops.Pending

	// 3. Orders per status
	var statuses []countRow
	if err := h.DB.SelectContext(ctx, &statuses, "SELECT status AS k, COUNT(*) AS n FROM orders GROUP BY status"); err != nil {
		internalError(c, err, "Failed to count orders")
		return
	}
	for _, s := range statuses {
		stats.OrdersByStatus[s.Key] = s.N
	}

	// 4. Gross revenue
	var gross float64
	if err := h.DB.GetContext(ctx, &gross,
		"SELECT COALESCE(SUM(total_amount), 0) FROM orders WHERE status <> ?", string(orders.StatusCancelled)); err != nil {
		internalError(c, err, "Failed to sum revenue")
		return
	}
	stats.GrossRevenue = orders.RoundMoney(gross)

	c.JSON(http.StatusOK, stats)
}

//
// --- Admin: Shop Approval ---
//

// GetAdminShops is the handler for GET /v1/admin/shops?status=pending|active
func (h *Handlers) GetAdminShops(c *gin.Context) {
	query := "SELECT " + shopColumns + " FROM shops s"
	var args []interface{}
	switch c.Query("status") {
	case "":
	case "pending":
		query += " WHERE s.is_active = ?"
		args = append(args, false)
	case "active":
		query += " WHERE s.is_active = ?"
		args = append(args, true)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending or active"})
		return
	}
	query += " ORDER BY s.created_at ASC"

	shops := []models.Shop{}
	if err := h.DB.SelectContext(c.Request.Context(), &shops, query, args...); err != nil {
		internalError(c, err, "Database query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"shops": shops})
}

// ApproveShop is the handler for PATCH /v1/admin/shops/:id/approve
func (h *Handlers) ApproveShop(c *gin.Context) {
	h.setShopActive(c, true)
}

// DeactivateShop is the handler for PATCH /v1/admin/shops/:id/deactivate
func (h *Handlers) DeactivateShop(c *gin.Context) {
	h.setShopActive(c, false)
}

func (h *Handlers) setShopActive(c *gin.Context, active bool) {
	shopID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// 1. --- Find the shop ---
	var shop models.Shop
	err := h.DB.GetContext(ctx, &shop, "SELECT "+shopColumns+" FROM shops s WHERE s.id = ?", shopID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load shop")
		return
	}

	// 2. --- Update ---
	now := h.now()
	if _, err := h.DB.ExecContext(ctx, "UPDATE shops SET is_active = ?, updated_at = ? WHERE id = ?", active, now, shopID); err != nil {
		internalError(c, err, "Failed to update shop")
		return
	}
	changed := shop.IsActive != active
	shop.IsActive, shop.UpdatedAt = active, now

	// 3. --- Tell the owner ---
	if changed {
		msg := fmt.Sprintf("Your shop %q has been approved and is now live", shop.Name)
		if !active {
			msg = fmt.Sprintf("Your shop %q has been deactivated by an administrator", shop.Name)
		}
		h.notify(ctx, shop.OwnerID, msg, "/shop")
	}

	c.JSON(http.StatusOK, gin.H{"shop": shop})
}

//
// --- Admin: Orders & Users ---
//

// GetAdminOrders is the handler for GET /v1/admin/orders?status&limit&offset
func (h *Handlers) GetAdminOrders(c *gin.Context) {
	query := orderSelect
	var args []interface{}
	if raw := c.Query("status"); raw != "" {
		status, err := orders.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		query += " WHERE o.status = ?"
		args = append(args, string(status))
	}
	limit, offset := pagination(c, 50, 200)
	query += " ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	list := []models.Order{}
	if err := h.DB.SelectContext(c.Request.Context(), &list, query, args...); err != nil {
		internalError(c, err, "Database query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "limit": limit, "offset": offset})
}

// UpdateUserRoleInput is the body of PUT /v1/admin/users/:id/role.
type UpdateUserRoleInput struct {
	Role string `json:"role" binding:"required"`
}

// UpdateUserRole is the handler for PUT /v1/admin/users/:id/role
func (h *Handlers) UpdateUserRole(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input UpdateUserRoleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidRole(input.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
		return
	}
	if userID == currentUserID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot change your own role"})
		return
	}
	ctx := c.Request.Context()

	var exists bool
	if err := h.DB.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", userID); err != nil {
		internalError(c, err, "Failed to check user")
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	_, err := h.DB.ExecContext(ctx,
		"INSERT INTO user_roles (user_id, role) VALUES (?, ?) ON DUPLICATE KEY UPDATE role = VALUES(role)",
		userID, input.Role)
	if err != nil {
		internalError(c, err, "Failed to update role")
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "role": input.Role})
}
