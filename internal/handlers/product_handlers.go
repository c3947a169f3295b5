package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"

	"github.com/01moynul/zyra-golang/internal/geo"
	"github.com/01moynul/zyra-golang/internal/models"
	"github.com/01moynul/zyra-golang/internal/orders"
)

const productSelect = `
	SELECT p.id, p.shop_id, p.category_id, p.name, p.description, p.price, p.stock, p.image_url,
	       p.sizes, p.colors, p.is_active, p.created_at, p.updated_at,
	       c.name AS category_name, s.name AS shop_name
	FROM products p
	JOIN shops s ON s.id = p.shop_id
	LEFT JOIN categories c ON c.id = p.category_id`

// isForeignKeyViolation reports a MySQL foreign key failure (unknown parent).
func isForeignKeyViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1452
}

// --- Inputs ---

// ProductInput is the body of POST and PUT /v1/shop/products.
type ProductInput struct {
	Name        string   `json:"name" binding:"required,max=255"`
	Description string   `json:"description"`
	Price       float64  `json:"price" binding:"required,gt=0"`
	Stock       int      `json:"stock" binding:"gte=0"`
	CategoryID  *int64   `json:"categoryId"`
	ImageURL    string   `json:"imageUrl"`
	Sizes       []string `json:"sizes" binding:"omitempty,dive,required,max=32"`
	Colors      []string `json:"colors" binding:"omitempty,dive,required,max=32"`
	IsActive    *bool    `json:"isActive"`
}

// --- Public catalogue ---

// SearchProducts is the handler for GET /v1/products?category&shopId&q&limit&offset
// Only active products of approved shops are listed.
func (h *Handlers) SearchProducts(c *gin.Context) {
	var queryBuilder strings.Builder
	var args []interface{}

	queryBuilder.WriteString(productSelect)
	queryBuilder.WriteString(" WHERE p.is_active = 1 AND s.is_active = 1")

	if category := c.Query("category"); category != "" {
		queryBuilder.WriteString(" AND c.slug = ?")
		args = append(args, category)
	}
	if shopID := c.Query("shopId"); shopID != "" {
		id, err := strconv.ParseInt(shopID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shopId"})
			return
		}
		queryBuilder.WriteString(" AND p.shop_id = ?")
		args = append(args, id)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		queryBuilder.WriteString(" AND (p.name LIKE ? OR p.description LIKE ?)")
		searchTerm := "%" + q + "%"
		args = append(args, searchTerm, searchTerm)
	}

	limit, offset := pagination(c, 20, 100)
	queryBuilder.WriteString(" ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	products := []models.Product{}
	if err := h.DB.SelectContext(c.Request.Context(), &products, queryBuilder.String(), args...); err != nil {
		internalError(c, err, "Database query failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"limit":    limit,
		"offset":   offset,
	})
}

// pagination reads limit/offset query parameters with a default and cap.
func pagination(c *gin.Context, def, max int) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GetProduct is the handler for GET /v1/products/:id
func (h *Handlers) GetProduct(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var product models.Product
	err := h.DB.GetContext(c.Request.Context(), &product,
		productSelect+" WHERE p.id = ? AND p.is_active = 1 AND s.is_active = 1", productID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load product")
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// GetProductDelivery is the handler for GET /v1/products/:id/delivery
// It reports the delivery countdown of the caller's latest order containing
// the product.
func (h *Handlers) GetProductDelivery(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var latest struct {
		ID        int64     `db:"id"`
		Status    string    `db:"status"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := h.DB.GetContext(c.Request.Context(), &latest, `
		SELECT o.id, o.status, o.created_at
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.user_id = ? AND oi.product_id = ?
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT 1`, currentUserID(c), productID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "You have not ordered this product"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load order")
		return
	}

	status := orders.Status(latest.Status)
	if !status.ShowsETA() {
		c.JSON(http.StatusOK, gin.H{
			"orderId":   latest.ID,
			"status":    status,
			"delivered": status == orders.StatusDelivered,
		})
		return
	}

	eta := geo.DeliveryETA(latest.CreatedAt)
	c.JSON(http.StatusOK, gin.H{
		"activeOrderId": latest.ID,
		"status":        status,
		"delivered":     false,
		"eta":           eta,
		"timeLeft":      geo.TimeLeft(h.now(), eta),
	})
}

// --- Shop owner catalogue ---

// GetMyProducts is the handler for GET /v1/shop/products (includes inactive).
func (h *Handlers) GetMyProducts(c *gin.Context) {
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}
	products := []models.Product{}
	err := h.DB.SelectContext(c.Request.Context(), &products,
		productSelect+" WHERE p.shop_id = ? ORDER BY p.created_at DESC, p.id DESC", shop.ID)
	if err != nil {
		internalError(c, err, "Failed to load products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// CreateProduct is the handler for POST /v1/shop/products
func (h *Handlers) CreateProduct(c *gin.Context) {
	// 1. --- Bind & Validate ---
	var input ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}

	// 2. --- Build model ---
	now := h.now()
	product := models.Product{
		ShopID:      shop.ID,
		CategoryID:  input.CategoryID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Price:       orders.RoundMoney(input.Price),
		Stock:       input.Stock,
		ImageURL:    input.ImageURL,
		Sizes:       models.StringList(input.Sizes),
		Colors:      models.StringList(input.Colors),
		IsActive:    input.IsActive == nil || *input.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		ShopName:    shop.Name,
	}

	// 3. --- Insert ---
	res, err := h.DB.NamedExecContext(c.Request.Context(), `
		INSERT INTO products (shop_id, category_id, name, description, price, stock, image_url, sizes, colors,
			is_active, created_at, updated_at)
		VALUES (:shop_id, :category_id, :name, :description, :price, :stock, :image_url, :sizes, :colors,
			:is_active, :created_at, :updated_at)`, product)
	if isForeignKeyViolation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to create product")
		return
	}
	product.ID, _ = res.LastInsertId()

	c.JSON(http.StatusCreated, gin.H{"message": "Product created", "product": product})
}

// UpdateProduct is the handler for PUT /v1/shop/products/:id
func (h *Handlers) UpdateProduct(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input ProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var product models.Product
	err := h.DB.GetContext(ctx, &product, productSelect+" WHERE p.id = ? AND p.shop_id = ?", productID, shop.ID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load product")
		return
	}

	product.CategoryID = input.CategoryID
	product.Name = strings.TrimSpace(input.Name)
	product.Description = input.Description
	product.Price = orders.RoundMoney(input.Price)
	product.Stock = input.Stock
	product.ImageURL = input.ImageURL
	product.Sizes = models.StringList(input.Sizes)
	product.Colors = models.StringList(input.Colors)
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}
	product.UpdatedAt = h.now()

	_, err = h.DB.NamedExecContext(ctx, `
		UPDATE products
		SET category_id = :category_id, name = :name, description = :description, price = :price,
			stock = :stock, image_url = :image_url, sizes = :sizes, colors = :colors,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id AND shop_id = :shop_id`, product)
	if isForeignKeyViolation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to update product")
		return
	}

	c.JSON(http.StatusOK, gin.H{"product": product})
}

// DeleteProduct is the handler for DELETE /v1/shop/products/:id
// Products are deactivated, not removed, so past orders keep their items.
func (h *Handlers) DeleteProduct(c *gin.Context) {
	productID, ok := paramID(c, "id")
	if !ok {
		return
	}
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}

	res, err := h.DB.ExecContext(c.Request.Context(),
		"UPDATE products SET is_active = 0, updated_at = ? WHERE id = ? AND shop_id = ?", h.now(), productID, shop.ID)
	if err != nil {
		internalError(c, err, "Failed to delete product")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := h.DB.GetContext(c.Request.Context(), &exists,
			"SELECT EXISTS(SELECT 1 FROM products WHERE id = ? AND shop_id = ?)", productID, shop.ID); err != nil {
			internalError(c, err, "Failed to check product")
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted"})
}
