package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"

	"github.com/01moynul/zyra-golang/internal/events"
	"github.com/01moynul/zyra-golang/internal/idempotency"
	"github.com/01moynul/zyra-golang/internal/metrics"
	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
	"github.com/01moynul/zyra-golang/internal/realtime"
)

//
// --- Checkout Handlers ---
//

// IdempotencyHeader carries the client's retry key for POST /v1/checkout.
const IdempotencyHeader = "Idempotency-Key"

// checkoutLinesQuery locks the caller's cart together with the product rows
// it points at.
const checkoutLinesQuery = `
	SELECT ci.id AS cart_item_id, ci.product_id, p.name AS product_name, p.shop_id,
	       s.name AS shop_name, s.owner_id AS shop_owner_id, ci.quantity, p.price, p.stock,
	       ci.size, ci.color, p.is_active AS product_active, s.is_active AS shop_active
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	JOIN shops s ON s.id = p.shop_id
	WHERE ci.user_id = ?
	ORDER BY p.shop_id ASC, ci.id ASC
	FOR UPDATE`

// isRetryable reports MySQL deadlock / lock wait failures that a
// serializable checkout can hit under contention.
func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205)
}

// shopGroup is one shop's part of the checkout summary.
type shopGroup struct {
	ShopID   int64             `json:"shopId"`
	ShopName string            `json:"shopName"`
	Items    []models.CartLine `json:"items"`
	Subtotal float64           `json:"subtotal"`
}

// groupByShop keeps the cart order of first appearance per shop.
func groupByShop(lines []models.CartLine) []shopGroup {
	index := map[int64]int{}
	var groups []shopGroup
	for _, l := range lines {
		i, ok := index[l.ShopID]
		if !ok {
			i = len(groups)
			index[l.ShopID] = i
			groups = append(groups, shopGroup{ShopID: l.ShopID, ShopName: l.ShopName})
		}
		groups[i].Items = append(groups[i].Items, l)
		groups[i].Subtotal = orders.RoundMoney(groups[i].Subtotal + l.LineTotal)
	}
	return groups
}

// GetCheckoutSummary is the handler for GET /v1/checkout/summary?addressId
func (h *Handlers) GetCheckoutSummary(c *gin.Context) {
	userID := currentUserID(c)
	ctx := c.Request.Context()

	// 1. --- Load cart ---
	cart, err := h.loadCart(ctx, h.DB, userID)
	if err != nil {
		internalError(c, err, "Failed to load cart")
		return
	}
	if len(cart.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Your cart is empty"})
		return
	}

	// 2. --- Pick address ---
	var addressID *int64
	if raw := c.Query("addressId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid addressId"})
			return
		}
		addressID = &id
	}
	var address *models.Address
	a, err := checkoutAddress(ctx, h.DB, userID, addressID)
	switch {
	case err == nil:
		address = &a
	case isNotFound(err) && addressID != nil:
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
		return
	case !isNotFound(err):
		internalError(c, err, "Failed to load address")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shops":    groupByShop(cart.Items),
		"subtotal": cart.Subtotal,
		"delivery": 0,
		"total":    cart.Subtotal,
		"address":  address,
	})
}

// CheckoutInput is the body of POST /v1/checkout.
type CheckoutInput struct {
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	UPIID         string `json:"upiId"`
	AddressID     *int64 `json:"addressId"`
}

// CheckoutOrder is the summary of one created order.
type CheckoutOrder struct {
	ID          int64   `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	ShopID      int64   `json:"shopId"`
	TotalAmount float64 `json:"totalAmount"`
	Status      string  `json:"status"`
}

// CheckoutResult is the response body of a successful checkout. It is also
// what an idempotent replay returns.
type CheckoutResult struct {
	CheckoutRef string          `json:"checkoutRef"`
	Orders      []CheckoutOrder `json:"orders"`
	GrandTotal  float64         `json:"grandTotal"`
}

// checkoutError is a failure with the status code it should be answered with.
type checkoutError struct {
	status int
	msg    string
	err    error
}

func (e *checkoutError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *checkoutError) Unwrap() error { return e.err }

func checkoutFail(status int, msg string, err error) *checkoutError {
	return &checkoutError{status: status, msg: msg, err: err}
}

// createdOrder carries what the post-commit side effects need.
type createdOrder struct {
	CheckoutOrder
	OwnerID int64
}

// Checkout is the handler for POST /v1/checkout
// The whole cart becomes one order per shop inside a single serializable
// transaction. Retrying with the same Idempotency-Key returns the first result.
func (h *Handlers) Checkout(c *gin.Context) {
	start := time.Now()
	userID := currentUserID(c)
	ctx := c.Request.Context()

	// 1. --- Bind & Validate ---
	var input CheckoutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	method := orders.PaymentMethod(strings.ToLower(strings.TrimSpace(input.PaymentMethod)))
	upiID := strings.TrimSpace(input.UPIID)
	if err := orders.ValidatePayment(method, upiID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 2. --- Idempotency ---
	var key string
	if raw := strings.TrimSpace(c.GetHeader(IdempotencyHeader)); raw != "" && h.Idempotency != nil {
		key = idempotency.Scoped(userID, raw)
		previous, found, err := h.Idempotency.Begin(ctx, key)
		if errors.Is(err, idempotency.ErrInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "This checkout is already being processed"})
			return
		}
		if err != nil {
			internalError(c, err, "Failed to check idempotency key")
			return
		}
		if found {
			c.Data(http.StatusOK, "application/json; charset=utf-8", previous)
			return
		}
	}

	// 3. --- Place orders ---
	result, created, err := h.placeOrders(ctx, userID, method, upiID, input.AddressID)
	if err != nil {
		if key != "" {
			if rerr := h.Idempotency.Release(context.WithoutCancel(ctx), key); rerr != nil {
				h.Log.Warn().Err(rerr).Str("key", key).Msg("idempotency key not released")
			}
		}
		metrics.ObserveCheckout("failed", time.Since(start))

		var ce *checkoutError
		if errors.As(err, &ce) && ce.status != http.StatusInternalServerError {
			c.JSON(ce.status, gin.H{"error": ce.msg})
			return
		}
		internalError(c, err, "Checkout failed")
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		internalError(c, err, "Failed to encode checkout result")
		return
	}
	if key != "" {
		if err := h.Idempotency.Complete(context.WithoutCancel(ctx), key, body); err != nil {
			h.Log.Warn().Err(err).Str("key", key).Msg("idempotency result not stored")
		}
	}
	metrics.ObserveCheckout("ok", time.Since(start))
	metrics.RecordOrdersCreated(string(method), len(created))

	// 4. --- Post-commit side effects ---
	sctx, cancel := detached(ctx)
	defer cancel()
	h.afterCheckout(sctx, userID, created)

	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// placeOrders runs the checkout transaction.
func (h *Handlers) placeOrders(ctx context.Context, userID int64, method orders.PaymentMethod, upiID string, addressID *int64) (CheckoutResult, []createdOrder, error) {
	// 1. --- Delivery address ---
	address, err := checkoutAddress(ctx, h.DB, userID, addressID)
	if isNotFound(err) {
		if addressID != nil {
			return CheckoutResult{}, nil, checkoutFail(http.StatusNotFound, "Address not found", err)
		}
		return CheckoutResult{}, nil, checkoutFail(http.StatusBadRequest, "Please add a delivery address", err)
	}
	if err != nil {
		return CheckoutResult{}, nil, fmt.Errorf("load address: %w", err)
	}
	delivery := address.Delivery()

	// 2. --- Begin Transaction ---
	tx, err := h.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return CheckoutResult{}, nil, fmt.Errorf("begin checkout: %w", err)
	}
	defer tx.Rollback()

	// 3. --- Lock cart & products ---
	var lines []orders.Line
	if err := tx.SelectContext(ctx, &lines, checkoutLinesQuery, userID); err != nil {
		return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("load cart: %w", err))
	}

	// 4. --- Split per shop ---
	split, err := orders.Split(lines)
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		return CheckoutResult{}, nil, checkoutFail(http.StatusBadRequest, "Your cart is empty", err)
	case errors.Is(err, orders.ErrInsufficientStock), errors.Is(err, orders.ErrUnavailable):
		return CheckoutResult{}, nil, checkoutFail(http.StatusConflict, err.Error(), err)
	case err != nil:
		return CheckoutResult{}, nil, checkoutFail(http.StatusBadRequest, err.Error(), err)
	}

	// 5. --- Insert orders & items ---
	now := h.now()
	ref := orders.NewCheckoutRef()
	var upi *string
	if method == orders.PaymentUPI {
		upi = &upiID
	}

	orderQuery := `
		INSERT INTO orders (order_number, user_id, shop_id, customer_name, customer_phone, delivery_address,
			delivery_latitude, delivery_longitude, payment_method, upi_id, total_amount, status, checkout_ref,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	itemQuery := `
		INSERT INTO order_items (order_id, product_id, quantity, price, size, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	created := make([]createdOrder, 0, len(split))
	for _, so := range split {
		number := orders.NewOrderNumber(now)
		res, err := tx.ExecContext(ctx, orderQuery,
			number, userID, so.ShopID, delivery.FullName, delivery.Phone, delivery.Format(),
			address.Latitude, address.Longitude, string(method), upi, so.Total, string(orders.StatusPending), ref,
			now, now)
		if err != nil {
			return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("insert order for shop %d: %w", so.ShopID, err))
		}
		orderID, err := res.LastInsertId()
		if err != nil {
			return CheckoutResult{}, nil, fmt.Errorf("order id: %w", err)
		}

		for _, l := range so.Lines {
			if _, err := tx.ExecContext(ctx, itemQuery, orderID, l.ProductID, l.Quantity, l.Price, l.Size, l.Color, now); err != nil {
				return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("insert order item: %w", err))
			}
		}

		created = append(created, createdOrder{
			CheckoutOrder: CheckoutOrder{
				ID:          orderID,
				OrderNumber: number,
				ShopID:      so.ShopID,
				TotalAmount: so.Total,
				Status:      string(orders.StatusPending),
			},
			OwnerID: so.OwnerID,
		})
	}

	// 6. --- Decrement stock ---
	usage := orders.StockUsage(lines)
	for _, productID := range orders.ProductIDs(usage) {
		qty := usage[productID]
		res, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?",
			qty, now, productID, qty)
		if err != nil {
			return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("decrement stock: %w", err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return CheckoutResult{}, nil, checkoutFail(http.StatusConflict, "Stock changed while checking out, please review your cart", orders.ErrInsufficientStock)
		}
	}

	// 7. --- Clear the Cart ---
	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = ?", userID); err != nil {
		return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("clear cart: %w", err))
	}

	// 8. --- Commit Transaction ---
	if err := tx.Commit(); err != nil {
		return CheckoutResult{}, nil, classifyTxError(fmt.Errorf("commit checkout: %w", err))
	}

	result := CheckoutResult{CheckoutRef: ref, GrandTotal: orders.GrandTotal(split)}
	for _, o := range created {
		result.Orders = append(result.Orders, o.CheckoutOrder)
	}
	return result, created, nil
}

func classifyTxError(err error) error {
	if isRetryable(err) {
		return checkoutFail(http.StatusConflict, "Checkout conflicted with another order, please retry", err)
	}
	return err
}

// afterCheckout tells shop owners and every open view about the new orders.
func (h *Handlers) afterCheckout(ctx context.Context, userID int64, created []createdOrder) {
	now := h.now()
	evs := make([]events.OrderEvent, 0, len(created))
	for _, o := range created {
		h.notify(ctx, o.OwnerID,
			fmt.Sprintf("New order %s received (%.2f)", o.OrderNumber, o.TotalAmount),
			fmt.Sprintf("/shop/orders/%d", o.ID))

		h.broadcast(ctx, realtime.UserOrdersTopic(userID), "order.created", o.CheckoutOrder)
		h.broadcast(ctx, realtime.ShopOrdersTopic(o.ShopID), "order.created", o.CheckoutOrder)

		evs = append(evs, events.OrderEvent{
			Event:       events.OrderCreated,
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			ShopID:      o.ShopID,
			UserID:      userID,
			Status:      o.Status,
			TotalAmount: o.TotalAmount,
			At:          now,
		})
	}
	h.broadcast(ctx, realtime.CartTopic(userID), "cart.changed", buildCart(nil))
	h.publishOrderEvents(ctx, evs...)
}
