package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
	"github.com/01moynul/zyra-golang/internal/realtime"
)

//
// --- Cart Handlers ---
//

const cartSelect = `
	SELECT ci.id, ci.product_id, p.name, p.price, p.image_url, c.name AS category, p.shop_id,
	       s.name AS shop_name, ci.quantity, ci.size, ci.color, p.stock
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	JOIN shops s ON s.id = p.shop_id
	LEFT JOIN categories c ON c.id = p.category_id
	WHERE ci.user_id = ?
	ORDER BY ci.created_at ASC, ci.id ASC`

// buildCart derives the totals from the lines so the cart total always
// equals the sum of its line items.
func buildCart(lines []models.CartLine) models.Cart {
	cart := models.Cart{Items: lines}
	if cart.Items == nil {
		cart.Items = []models.CartLine{}
	}
	var subtotal float64
	for i := range cart.Items {
		l := &cart.Items[i]
		l.LineTotal = orders.RoundMoney(l.Price * float64(l.Quantity))
		subtotal += l.LineTotal
		cart.TotalItems += l.Quantity
	}
	cart.Subtotal = orders.RoundMoney(subtotal)
	return cart
}

func (h *Handlers) loadCart(ctx context.Context, q sqlx.QueryerContext, userID int64) (models.Cart, error) {
	var lines []models.CartLine
	if err := sqlx.SelectContext(ctx, q, &lines, cartSelect, userID); err != nil {
		return models.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return buildCart(lines), nil
}

// respondCart reloads the cart after a mutation, pushes it to the user's
// cart topic and writes it as the response.
func (h *Handlers) respondCart(c *gin.Context, userID int64) {
	ctx := c.Request.Context()
	cart, err := h.loadCart(ctx, h.DB, userID)
	if err != nil {
		internalError(c, err, "Failed to load cart")
		return
	}
	h.broadcast(ctx, realtime.CartTopic(userID), "cart.changed", cart)
	c.JSON(http.StatusOK, cart)
}

// GetCart is the handler for GET /v1/cart
func (h *Handlers) GetCart(c *gin.Context) {
	cart, err := h.loadCart(c.Request.Context(), h.DB, currentUserID(c))
	if err != nil {
		internalError(c, err, "Failed to load cart")
		return
	}
	c.JSON(http.StatusOK, cart)
}

// GetCartCount is the handler for GET /v1/cart/count
func (h *Handlers) GetCartCount(c *gin.Context) {
	var n int
	if err := h.DB.GetContext(c.Request.Context(), &n, "SELECT COUNT(*) FROM cart_items WHERE user_id = ?", currentUserID(c)); err != nil {
		internalError(c, err, "Failed to count cart")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// AddToCartInput is the body of POST /v1/cart/items.
type AddToCartInput struct {
	ProductID int64  `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// cartProduct is the product state needed to accept a cart change.
type cartProduct struct {
	ID         int64             `db:"id"`
	Name       string            `db:"name"`
	Stock      int               `db:"stock"`
	Sizes      models.StringList `db:"sizes"`
	Colors     models.StringList `db:"colors"`
	IsActive   bool              `db:"is_active"`
	ShopActive bool              `db:"shop_active"`
}

func lockCartProduct(ctx context.Context, tx *sqlx.Tx, productID int64) (cartProduct, error) {
	var p cartProduct
	err := tx.GetContext(ctx, &p, `
		SELECT p.id, p.name, p.stock, p.sizes, p.colors, p.is_active, s.is_active AS shop_active
		FROM products p
		JOIN shops s ON s.id = p.shop_id
		WHERE p.id = ?
		FOR UPDATE`, productID)
	return p, err
}

// AddToCart is the handler for POST /v1/cart/items
// Adding an existing product/size/colour combination increases its quantity.
func (h *Handlers) AddToCart(c *gin.Context) {
	// 1. --- Bind & Validate ---
	var input AddToCartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := currentUserID(c)
	ctx := c.Request.Context()

	// 2. --- Begin Transaction ---
	tx, err := h.DB.BeginTxx(ctx, nil)
	if err != nil {
		internalError(c, err, "Failed to start transaction")
		return
	}
	defer tx.Rollback()

	// 3. --- Check the product ---
	product, err := lockCartProduct(ctx, tx, input.ProductID)
	if isNotFound(err) || (err == nil && (!product.IsActive || !product.ShopActive)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found or not available"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load product")
		return
	}
	if !product.Sizes.Allows(input.Size) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please choose a valid size"})
		return
	}
	if !product.Colors.Allows(input.Color) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please choose a valid colour"})
		return
	}

	// 4. --- Check stock across every line of this product ---
	var inCart int
	if err := tx.GetContext(ctx, &inCart,
		"SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = ? AND product_id = ?",
		userID, input.ProductID); err != nil {
		internalError(c, err, "Failed to read cart")
		return
	}
	if inCart+input.Quantity > product.Stock {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Only %d of %q left in stock", product.Stock, product.Name)})
		return
	}

	// 5. --- Upsert ---
	now := h.now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, size, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = VALUES(updated_at)`,
		userID, input.ProductID, input.Quantity, input.Size, input.Color, now, now)
	if err != nil {
		internalError(c, err, "Failed to add item to cart")
		return
	}

	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit cart")
		return
	}

	h.respondCart(c, userID)
}

// UpdateCartItemInput is the body of PUT /v1/cart/items/:id. Zero removes
// the line.
type UpdateCartItemInput struct {
	Quantity *int `json:"quantity" binding:"required,gte=0"`
}

// UpdateCartItem is the handler for PUT /v1/cart/items/:id
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input UpdateCartItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *input.Quantity == 0 {
		h.removeCartItem(c, itemID)
		return
	}

	userID := currentUserID(c)
	ctx := c.Request.Context()
	tx, err := h.DB.BeginTxx(ctx, nil)
	if err != nil {
		internalError(c, err, "Failed to start transaction")
		return
	}
	defer tx.Rollback()

	// 1. --- Find the line ---
	var productID int64
	err = tx.GetContext(ctx, &productID, "SELECT product_id FROM cart_items WHERE id = ? AND user_id = ? FOR UPDATE", itemID, userID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load cart item")
		return
	}

	// 2. --- Check stock ---
	product, err := lockCartProduct(ctx, tx, productID)
	if err != nil {
		internalError(c, err, "Failed to load product")
		return
	}
	var otherLines int
	if err := tx.GetContext(ctx, &otherLines,
		"SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = ? AND product_id = ? AND id <> ?",
		userID, productID, itemID); err != nil {
		internalError(c, err, "Failed to read cart")
		return
	}
	if otherLines+*input.Quantity > product.Stock {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Only %d of %q left in stock", product.Stock, product.Name)})
		return
	}

	// 3. --- Update ---
	if _, err := tx.ExecContext(ctx, "UPDATE cart_items SET quantity = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		*input.Quantity, h.now(), itemID, userID); err != nil {
		internalError(c, err, "Failed to update cart item")
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit cart")
		return
	}

	h.respondCart(c, userID)
}

// DeleteCartItem is the handler for DELETE /v1/cart/items/:id
func (h *Handlers) DeleteCartItem(c *gin.Context) {
	itemID, ok := paramID(c, "id")
	if !ok {
		return
	}
	h.removeCartItem(c, itemID)
}

func (h *Handlers) removeCartItem(c *gin.Context, itemID int64) {
	userID := currentUserID(c)
	res, err := h.DB.ExecContext(c.Request.Context(), "DELETE FROM cart_items WHERE id = ? AND user_id = ?", itemID, userID)
	if err != nil {
		internalError(c, err, "Failed to remove cart item")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cart item not found"})
		return
	}
	h.respondCart(c, userID)
}

// ClearCart is the handler for DELETE /v1/cart
func (h *Handlers) ClearCart(c *gin.Context) {
	userID := currentUserID(c)
	if _, err := h.DB.ExecContext(c.Request.Context(), "DELETE FROM cart_items WHERE user_id = ?", userID); err != nil {
		internalError(c, err, "Failed to clear cart")
		return
	}
	h.respondCart(c, userID)
}
