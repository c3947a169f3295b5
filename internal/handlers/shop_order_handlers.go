package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/01moynul/zyra-golang/internal/geo"
	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
)

//
// --- Order Handlers (Shop Owner) ---
//

// qrSize is the edge length of the hand-off QR code in pixels.
const qrSize = 256

// GetShopOrders is the handler for GET /v1/shop/orders?status
func (h *Handlers) GetShopOrders(c *gin.Context) {
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	query := orderSelect + " WHERE o.shop_id = ?"
	args := []interface{}{shop.ID}
	if raw := c.Query("status"); raw != "" {
		status, err := orders.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		query += " AND o.status = ?"
		args = append(args, string(status))
	}
	limit, offset := pagination(c, 50, 200)
	query += " ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	list := []models.Order{}
	if err := h.DB.SelectContext(ctx, &list, query, args...); err != nil {
		internalError(c, err, "Failed to retrieve orders")
		return
	}
	if err := h.attachItems(ctx, list); err != nil {
		internalError(c, err, "Failed to retrieve order items")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// shopOrder loads an order of the caller's shop, answering 404 otherwise.
func (h *Handlers) shopOrder(c *gin.Context) (models.Order, models.Shop, bool) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return models.Order{}, models.Shop{}, false
	}
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return models.Order{}, models.Shop{}, false
	}

	var order models.Order
	err := h.DB.GetContext(c.Request.Context(), &order, orderSelect+" WHERE o.id = ? AND o.shop_id = ?", orderID, shop.ID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return models.Order{}, models.Shop{}, false
	}
	if err != nil {
		internalError(c, err, "Failed to retrieve order")
		return models.Order{}, models.Shop{}, false
	}
	return order, shop, true
}

// GetShopOrder is the handler for GET /v1/shop/orders/:id
// Besides the order it returns both map pins and the distance between them.
func (h *Handlers) GetShopOrder(c *gin.Context) {
	order, shop, ok := h.shopOrder(c)
	if !ok {
		return
	}
	list := []models.Order{order}
	if err := h.attachItems(c.Request.Context(), list); err != nil {
		internalError(c, err, "Failed to retrieve order items")
		return
	}

	shopPoint := geo.Point{Lat: shop.Latitude, Lng: shop.Longitude}
	deliveryPoint, deliveryKnown := geo.FromNullable(order.DeliveryLatitude, order.DeliveryLongitude)

	body := gin.H{
		"order":     list[0],
		"nextSteps": orders.Status(order.Status).Next(),
	}
	center := geo.DefaultCenter
	if shopPoint.Known() {
		center = shopPoint
		body["shopLocation"] = shopPoint
	}
	if deliveryKnown {
		body["deliveryLocation"] = deliveryPoint
	}
	if shopPoint.Known() && deliveryKnown {
		body["distanceKm"] = geo.RoundKm(geo.Distance(shopPoint, deliveryPoint))
	}
	body["mapCenter"] = center
	etaFields(body, orders.Status(order.Status), order.CreatedAt, h.now())

	c.JSON(http.StatusOK, body)
}

// UpdateOrderStatusInput is the body of PATCH /v1/shop/orders/:id/status.
type UpdateOrderStatusInput struct {
	Status string `json:"status" binding:"required"`
}

// UpdateOrderStatus is the handler for PATCH /v1/shop/orders/:id/status
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	// 1. --- Bind & Validate ---
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input UpdateOrderStatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := orders.ParseStatus(input.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := currentUserID(c)

	// 2. --- Transition ---
	order, from, err := h.transitionOrder(c.Request.Context(), orderID, to, func(o partiedOrder) error {
		if o.ShopOwnerID != userID {
			return errOrderNotFound
		}
		return nil
	})
	if err != nil {
		respondTransitionError(c, err)
		return
	}

	// 3. --- Side effects ---
	sctx, cancel := detached(c.Request.Context())
	defer cancel()
	h.afterStatusChange(sctx, order, from, actorShop)

	c.JSON(http.StatusOK, gin.H{"message": "Order status updated", "order": order.Order})
}

// GetOrderQR is the handler for GET /v1/shop/orders/:id/qr
// The PNG encodes the order number, total and customer for the hand-off.
func (h *Handlers) GetOrderQR(c *gin.Context) {
	order, _, ok := h.shopOrder(c)
	if !ok {
		return
	}

	content, err := orders.QRPayload{
		OrderNumber: order.OrderNumber,
		Total:       order.TotalAmount,
		Customer:    order.CustomerName,
	}.Encode()
	if err != nil {
		internalError(c, err, "Failed to build QR payload")
		return
	}
	png, err := qrcode.Encode(content, qrcode.High, qrSize)
	if err != nil {
		internalError(c, fmt.Errorf("qr encode: %w", err), "Failed to render QR code")
		return
	}

	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}
