package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/01moynul/zyra-golang/internal/events"
	"github.com/01moynul/zyra-golang/internal/geo"
	"github.com/01moynul/zyra-golang/internal/metrics"
	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
	"github.com/01moynul/zyra-golang/internal/realtime"
)

//
// --- Order Handlers (Customer) ---
//

const orderColumns = `o.id, o.order_number, o.user_id, o.shop_id, o.customer_name, o.customer_phone,
	o.delivery_address, o.delivery_latitude, o.delivery_longitude, o.payment_method, o.upi_id,
	o.total_amount, o.status, o.checkout_ref, o.created_at, o.updated_at, s.name AS shop_name`

const orderSelect = "SELECT " + orderColumns + " FROM orders o JOIN shops s ON s.id = o.shop_id"

var (
	errOrderNotFound = errors.New("order not found")
	errNotOrderParty = errors.New("not allowed to change this order")
)

// Who changed an order's status. Decides who gets notified.
const (
	actorCustomer = "customer"
	actorShop     = "shop"
	actorSystem   = "system"
)

// partiedOrder is an order row with the owner of its shop.
type partiedOrder struct {
	models.Order
	ShopOwnerID int64 `db:"shop_owner_id"`
}

// shopContact is what a customer sees about the shop on an order.
type shopContact struct {
	Name      string  `json:"name" db:"name"`
	Phone     string  `json:"phone" db:"phone"`
	Email     string  `json:"email" db:"email"`
	Address   string  `json:"address" db:"address"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// attachItems loads the items of every order in one query.
func (h *Handlers) attachItems(ctx context.Context, list []models.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	for i, o := range list {
		ids[i] = o.ID
	}

	query, args, err := sqlx.In(`
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price, oi.size, oi.color, oi.created_at,
		       p.name AS product_name, p.image_url
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.id ASC`, ids)
	if err != nil {
		return fmt.Errorf("build item query: %w", err)
	}
	var items []models.OrderItem
	if err := h.DB.SelectContext(ctx, &items, h.DB.Rebind(query), args...); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}

	byOrder := make(map[int64][]models.OrderItem, len(list))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range list {
		list[i].Items = byOrder[list[i].ID]
		if list[i].Items == nil {
			list[i].Items = []models.OrderItem{}
		}
	}
	return nil
}

// loadPartiedOrder reads one order with its shop owner.
func (h *Handlers) loadPartiedOrder(ctx context.Context, orderID int64) (partiedOrder, error) {
	var o partiedOrder
	err := h.DB.GetContext(ctx, &o, "SELECT "+orderColumns+", s.owner_id AS shop_owner_id FROM orders o JOIN shops s ON s.id = o.shop_id WHERE o.id = ?", orderID)
	if isNotFound(err) {
		return o, errOrderNotFound
	}
	return o, err
}

// etaFields adds the delivery countdown while the order is still open.
func etaFields(body gin.H, status orders.Status, createdAt, now time.Time) {
	if !status.ShowsETA() {
		return
	}
	eta := geo.DeliveryETA(createdAt)
	body["eta"] = eta
	body["timeLeft"] = geo.TimeLeft(now, eta)
}

// GetMyOrders is the handler for GET /v1/orders
func (h *Handlers) GetMyOrders(c *gin.Context) {
	ctx := c.Request.Context()
	limit, offset := pagination(c, 50, 200)

	list := []models.Order{}
	err := h.DB.SelectContext(ctx, &list,
		orderSelect+" WHERE o.user_id = ? ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?",
		currentUserID(c), limit, offset)
	if err != nil {
		internalError(c, err, "Failed to retrieve orders")
		return
	}
	if err := h.attachItems(ctx, list); err != nil {
		internalError(c, err, "Failed to retrieve order items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// GetOrder is the handler for GET /v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// 1. --- Load own order ---
	var order models.Order
	err := h.DB.GetContext(ctx, &order, orderSelect+" WHERE o.id = ? AND o.user_id = ?", orderID, currentUserID(c))
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to retrieve order")
		return
	}

	// 2. --- Items & shop ---
	list := []models.Order{order}
	if err := h.attachItems(ctx, list); err != nil {
		internalError(c, err, "Failed to retrieve order items")
		return
	}
	var shop shopContact
	if err := h.DB.GetContext(ctx, &shop,
		"SELECT name, phone, email, address, latitude, longitude FROM shops WHERE id = ?", order.ShopID); err != nil {
		internalError(c, err, "Failed to retrieve shop")
		return
	}

	body := gin.H{"order": list[0], "shop": shop}
	etaFields(body, orders.Status(order.Status), order.CreatedAt, h.now())
	c.JSON(http.StatusOK, body)
}

// CancelOrder is the handler for POST /v1/orders/:id/cancel
// Customers may cancel only while the shop has not started packing.
func (h *Handlers) CancelOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)

	order, from, err := h.transitionOrder(c.Request.Context(), orderID, orders.StatusCancelled, func(o partiedOrder) error {
		if o.UserID != userID {
			return errOrderNotFound
		}
		if orders.Status(o.Status) != orders.StatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled", orders.ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		respondTransitionError(c, err)
		return
	}

	sctx, cancel := detached(c.Request.Context())
	defer cancel()
	h.afterStatusChange(sctx, order, from, actorCustomer)
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "order": order.Order})
}

// GetOrderVerification is the handler for GET /v1/orders/:id/verify
// It backs the page the shop's QR code points at.
func (h *Handlers) GetOrderVerification(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)
	ctx := c.Request.Context()

	order, err := h.loadPartiedOrder(ctx, orderID)
	if errors.Is(err, errOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to retrieve order")
		return
	}
	if order.UserID != userID && order.ShopOwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not part of this order"})
		return
	}

	list := []models.Order{order.Order}
	if err := h.attachItems(ctx, list); err != nil {
		internalError(c, err, "Failed to retrieve order items")
		return
	}

	status := orders.Status(order.Status)
	c.JSON(http.StatusOK, gin.H{
		"order":     list[0],
		"verified":  status == orders.StatusDelivered,
		"canVerify": order.UserID == userID && status == orders.StatusShipped,
	})
}

// VerifyOrder is the handler for POST /v1/orders/:id/verify
// The customer confirms the hand-off, which completes the order.
func (h *Handlers) VerifyOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	userID := currentUserID(c)

	order, from, err := h.transitionOrder(c.Request.Context(), orderID, orders.StatusDelivered, func(o partiedOrder) error {
		if o.UserID != userID {
			if o.ShopOwnerID == userID {
				return errNotOrderParty
			}
			return errOrderNotFound
		}
		return nil
	})
	if err != nil {
		respondTransitionError(c, err)
		return
	}

	sctx, cancel := detached(c.Request.Context())
	defer cancel()
	h.afterStatusChange(sctx, order, from, actorCustomer)
	c.JSON(http.StatusOK, gin.H{"message": "Order delivered", "order": order.Order})
}

func respondTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, errNotOrderParty):
		c.JSON(http.StatusForbidden, gin.H{"error": "You cannot change this order"})
	case errors.Is(err, orders.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case isRetryable(err):
		c.JSON(http.StatusConflict, gin.H{"error": "The order changed meanwhile, please retry"})
	default:
		internalError(c, err, "Failed to update order")
	}
}

// transitionOrder moves an order to status `to` inside a serializable
// transaction. allow may reject the change for the locked row. Cancelling
// gives the ordered quantities back to the products.
func (h *Handlers) transitionOrder(ctx context.Context, orderID int64, to orders.Status, allow func(partiedOrder) error) (partiedOrder, orders.Status, error) {
	// 1. --- Begin Transaction ---
	tx, err := h.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return partiedOrder{}, "", fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	// 2. --- Lock the order ---
	var o partiedOrder
	err = tx.GetContext(ctx, &o,
		"SELECT "+orderColumns+", s.owner_id AS shop_owner_id FROM orders o JOIN shops s ON s.id = o.shop_id WHERE o.id = ? FOR UPDATE",
		orderID)
	if isNotFound(err) {
		return partiedOrder{}, "", errOrderNotFound
	}
	if err != nil {
		return partiedOrder{}, "", fmt.Errorf("lock order: %w", err)
	}
	if allow != nil {
		if err := allow(o); err != nil {
			return partiedOrder{}, "", err
		}
	}

	// 3. --- Validate the transition ---
	from := orders.Status(o.Status)
	if err := orders.Transition(from, to); err != nil {
		return partiedOrder{}, "", err
	}

	// 4. --- Update ---
	now := h.now()
	if _, err := tx.ExecContext(ctx, "UPDATE orders SET status = ?, updated_at = ? WHERE id = ?", string(to), now, orderID); err != nil {
		return partiedOrder{}, "", fmt.Errorf("update order status: %w", err)
	}
	if orders.Restocks(to) {
		if err := restockOrder(ctx, tx, orderID, now); err != nil {
			return partiedOrder{}, "", err
		}
	}

	// 5. --- Commit ---
	if err := tx.Commit(); err != nil {
		return partiedOrder{}, "", fmt.Errorf("commit transition: %w", err)
	}

	o.Status = string(to)
	o.UpdatedAt = now
	return o, from, nil
}

// restockOrder gives every ordered quantity back to its product. Lines of
// the same product in different sizes or colours are summed first.
func restockOrder(ctx context.Context, tx *sqlx.Tx, orderID int64, now time.Time) error {
	var lines []orders.Line
	if err := tx.SelectContext(ctx, &lines,
		"SELECT product_id, quantity FROM order_items WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	usage := orders.StockUsage(lines)
	for _, productID := range orders.ProductIDs(usage) {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?",
			usage[productID], now, productID); err != nil {
			return fmt.Errorf("restock product %d: %w", productID, err)
		}
	}
	return nil
}

// afterStatusChange notifies the other party and pushes the new state to
// every view of the order.
func (h *Handlers) afterStatusChange(ctx context.Context, o partiedOrder, from orders.Status, actor string) {
	to := orders.Status(o.Status)
	metrics.RecordTransition(string(from), string(to))

	if actor != actorCustomer {
		msg := fmt.Sprintf("Your order %s is now %s", o.OrderNumber, to)
		if actor == actorSystem {
			msg = fmt.Sprintf("Your order %s was cancelled because the shop did not accept it in time", o.OrderNumber)
		}
		h.notify(ctx, o.UserID, msg, fmt.Sprintf("/orders/%d", o.ID))
	}
	if actor != actorShop {
		h.notify(ctx, o.ShopOwnerID,
			fmt.Sprintf("Order %s was marked %s", o.OrderNumber, to),
			fmt.Sprintf("/shop/orders/%d", o.ID))
	}

	payload := gin.H{"id": o.ID, "orderNumber": o.OrderNumber, "shopId": o.ShopID, "status": to, "previousStatus": from}
	h.broadcast(ctx, realtime.OrderTopic(o.ID), "order.updated", payload)
	h.broadcast(ctx, realtime.UserOrdersTopic(o.UserID), "order.updated", payload)
	h.broadcast(ctx, realtime.ShopOrdersTopic(o.ShopID), "order.updated", payload)

	event := events.OrderStatusChanged
	if to == orders.StatusCancelled {
		event = events.OrderCancelled
	}
	h.publishOrderEvents(ctx, events.OrderEvent{
		Event:       event,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		ShopID:      o.ShopID,
		UserID:      o.UserID,
		Status:      string(to),
		TotalAmount: o.TotalAmount,
		At:          o.UpdatedAt,
	})
}

// ExpireStaleOrders cancels pending orders older than olderThan and restocks
// them. It returns how many orders were cancelled.
func (h *Handlers) ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := h.now().Add(-olderThan)

	var ids []int64
	if err := h.DB.SelectContext(ctx, &ids,
		"SELECT id FROM orders WHERE status = ? AND created_at < ? ORDER BY id ASC LIMIT 500",
		string(orders.StatusPending), cutoff); err != nil {
		return 0, fmt.Errorf("find stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		order, from, err := h.transitionOrder(ctx, id, orders.StatusCancelled, func(o partiedOrder) error {
			if orders.Status(o.Status) != orders.StatusPending {
				return orders.ErrInvalidTransition
			}
			return nil
		})
		if errors.Is(err, orders.ErrInvalidTransition) || errors.Is(err, errOrderNotFound) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire order %d: %w", id, err)
		}
		expired++
		sctx, cancel := detached(ctx)
		h.afterStatusChange(sctx, order, from, actorSystem)
		cancel()
	}
	return expired, nil
}
