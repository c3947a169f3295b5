package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gosimple/slug"

	"github.com/01moynul/zyra-golang/internal/geo"
	"github.com/01moynul/zyra-golang/internal/models"
)

const (
	shopColumns = `s.id, s.owner_id, s.name, s.slug, s.description, s.phone, s.email, s.address,
	s.logo_url, s.banner_url, s.latitude, s.longitude, s.rating, s.is_active, s.created_at, s.updated_at`

	shopListingSelect = `
	SELECT ` + shopColumns + `,
		(SELECT COUNT(*) FROM products p WHERE p.shop_id = s.id AND p.is_active = 1) AS products,
		(SELECT COUNT(*) FROM shop_followers f WHERE f.shop_id = s.id) AS followers,
		EXISTS(SELECT 1 FROM shop_followers f WHERE f.shop_id = s.id AND f.user_id = ?) AS is_following
	FROM shops s`

	defaultRadiusKm = 10.0
	maxRadiusKm     = 100.0
)

// ShopInput is the body of POST and PUT /v1/shop. A shop must pin its
// location.
type ShopInput struct {
	Name        string   `json:"name" binding:"required,max=255"`
	Description string   `json:"description"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email" binding:"omitempty,email"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	LogoURL     string   `json:"logoUrl"`
	BannerURL   string   `json:"bannerUrl"`
}

func (in ShopInput) point() (geo.Point, error) {
	p := geo.Point{Lat: *in.Latitude, Lng: *in.Longitude}
	if err := p.Validate(); err != nil {
		return p, err
	}
	if !p.Known() {
		return p, fmt.Errorf("%w: please pin your shop location", geo.ErrInvalidPoint)
	}
	return p, nil
}

// shopSlug is unique because each owner has at most one shop.
func shopSlug(name string, ownerID int64) string {
	base := slug.Make(name)
	if base == "" {
		base = "shop"
	}
	return base + "-" + strconv.FormatInt(ownerID, 10)
}

func (h *Handlers) ownShop(ctx context.Context, ownerID int64) (models.Shop, error) {
	var s models.Shop
	err := h.DB.GetContext(ctx, &s, "SELECT "+shopColumns+" FROM shops s WHERE s.owner_id = ?", ownerID)
	return s, err
}

// ownShopOrAbort loads the caller's shop, answering 404 when they have none.
func (h *Handlers) ownShopOrAbort(c *gin.Context) (models.Shop, bool) {
	shop, err := h.ownShop(c.Request.Context(), currentUserID(c))
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "You have not created a shop yet"})
		return shop, false
	}
	if err != nil {
		internalError(c, err, "Failed to load shop")
		return shop, false
	}
	return shop, true
}

// CreateShop is the handler for POST /v1/shop (shop owners only).
// New shops wait for admin approval before they are listed.
func (h *Handlers) CreateShop(c *gin.Context) {
	// 1. --- Bind & Validate ---
	var input ShopInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := input.point()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ownerID := currentUserID(c)
	now := h.now()
	shop := models.Shop{
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(input.Name),
		Slug:        shopSlug(input.Name, ownerID),
		Description: input.Description,
		Phone:       input.Phone,
		Email:       input.Email,
		Address:     input.Address,
		LogoURL:     input.LogoURL,
		BannerURL:   input.BannerURL,
		Latitude:    p.Lat,
		Longitude:   p.Lng,
		IsActive:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// 2. --- Insert (one shop per owner) ---
	res, err := h.DB.NamedExecContext(c.Request.Context(), `
		INSERT INTO shops (owner_id, name, slug, description, phone, email, address, logo_url, banner_url,
			latitude, longitude, is_active, created_at, updated_at)
		VALUES (:owner_id, :name, :slug, :description, :phone, :email, :address, :logo_url, :banner_url,
			:latitude, :longitude, :is_active, :created_at, :updated_at)`, shop)
	if isDuplicate(err) {
		c.JSON(http.StatusConflict, gin.H{"error": "You already have a shop"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to create shop")
		return
	}
	shop.ID, _ = res.LastInsertId()

	c.JSON(http.StatusCreated, gin.H{
		"message": "Shop created, waiting for admin approval",
		"shop":    shop,
	})
}

// GetMyShop is the handler for GET /v1/shop
func (h *Handlers) GetMyShop(c *gin.Context) {
	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"shop": shop})
}

// UpdateMyShop is the handler for PUT /v1/shop
func (h *Handlers) UpdateMyShop(c *gin.Context) {
	var input ShopInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := input.point()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shop, ok := h.ownShopOrAbort(c)
	if !ok {
		return
	}

	shop.Name = strings.TrimSpace(input.Name)
	shop.Description = input.Description
	shop.Phone = input.Phone
	shop.Email = input.Email
	shop.Address = input.Address
	shop.LogoURL = input.LogoURL
	shop.BannerURL = input.BannerURL
	shop.Latitude, shop.Longitude = p.Lat, p.Lng
	shop.UpdatedAt = h.now()

	_, err = h.DB.NamedExecContext(c.Request.Context(), `
		UPDATE shops
		SET name = :name, description = :description, phone = :phone, email = :email, address = :address,
			logo_url = :logo_url, banner_url = :banner_url, latitude = :latitude, longitude = :longitude,
			updated_at = :updated_at
		WHERE id = :id`, shop)
	if err != nil {
		internalError(c, err, "Failed to update shop")
		return
	}
	c.JSON(http.StatusOK, gin.H{"shop": shop})
}

// ListShops is the handler for GET /v1/shops
func (h *Handlers) ListShops(c *gin.Context) {
	shops := []models.ShopListing{}
	err := h.DB.SelectContext(c.Request.Context(), &shops,
		shopListingSelect+" WHERE s.is_active = 1 ORDER BY s.name ASC", currentUserID(c))
	if err != nil {
		internalError(c, err, "Failed to load shops")
		return
	}
	c.JSON(http.StatusOK, gin.H{"shops": shops})
}

// NearbyShops is the handler for GET /v1/shops/nearby?lat&lng&radiusKm
// Results are the active shops within the radius, closest first.
func (h *Handlers) NearbyShops(c *gin.Context) {
	// 1. --- Parse the search centre and radius ---
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
		return
	}
	center := geo.Point{Lat: lat, Lng: lng}
	if err := center.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	radius := defaultRadiusKm
	if raw := c.Query("radiusKm"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "radiusKm must be a positive number"})
			return
		}
		radius = min(r, maxRadiusKm)
	}

	// 2. --- Pre-filter with a bounding box ---
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(center, radius)
	candidates := []models.ShopListing{}
	err := h.DB.SelectContext(c.Request.Context(), &candidates,
		shopListingSelect+` WHERE s.is_active = 1
			AND s.latitude BETWEEN ? AND ? AND s.longitude BETWEEN ? AND ?`,
		currentUserID(c), minLat, maxLat, minLng, maxLng)
	if err != nil {
		internalError(c, err, "Failed to load shops")
		return
	}

	// 3. --- Exact distance, sorted ---
	located := make([]geo.Located, len(candidates))
	byID := make(map[int64]models.ShopListing, len(candidates))
	for i, s := range candidates {
		located[i] = geo.Located{ID: s.ID, Point: geo.Point{Lat: s.Latitude, Lng: s.Longitude}}
		byID[s.ID] = s
	}
	ranked := geo.Nearby(center, radius, located)

	shops := make([]models.ShopListing, 0, len(ranked))
	for _, r := range ranked {
		s := byID[r.ID]
		d := r.DistanceKm
		s.DistanceKm = &d
		shops = append(shops, s)
	}

	c.JSON(http.StatusOK, gin.H{
		"center":   center,
		"radiusKm": radius,
		"shops":    shops,
	})
}

// GetShop is the handler for GET /v1/shops/:id
func (h *Handlers) GetShop(c *gin.Context) {
	shopID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var shop models.ShopListing
	err := h.DB.GetContext(ctx, &shop, shopListingSelect+" WHERE s.id = ? AND s.is_active = 1", currentUserID(c), shopID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load shop")
		return
	}

	products := []models.Product{}
	err = h.DB.SelectContext(ctx, &products,
		productSelect+" WHERE p.shop_id = ? AND p.is_active = 1 ORDER BY p.created_at DESC", shopID)
	if err != nil {
		internalError(c, err, "Failed to load products")
		return
	}

	c.JSON(http.StatusOK, gin.H{"shop": shop, "products": products})
}

func (h *Handlers) activeShopExists(ctx context.Context, shopID int64) (bool, error) {
	var exists bool
	err := h.DB.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM shops WHERE id = ? AND is_active = 1)", shopID)
	return exists, err
}

func (h *Handlers) followerCount(ctx context.Context, shopID int64) (int, error) {
	var n int
	err := h.DB.GetContext(ctx, &n, "SELECT COUNT(*) FROM shop_followers WHERE shop_id = ?", shopID)
	return n, err
}

// FollowShop is the handler for POST /v1/shops/:id/follow. Following twice
// is not an error.
func (h *Handlers) FollowShop(c *gin.Context) {
	h.setFollowing(c, true)
}

// UnfollowShop is the handler for DELETE /v1/shops/:id/follow
func (h *Handlers) UnfollowShop(c *gin.Context) {
	h.setFollowing(c, false)
}

func (h *Handlers) setFollowing(c *gin.Context, follow bool) {
	shopID, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := currentUserID(c)

	exists, err := h.activeShopExists(ctx, shopID)
	if err != nil {
		internalError(c, err, "Failed to load shop")
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Shop not found"})
		return
	}

	if follow {
		_, err = h.DB.ExecContext(ctx,
			"INSERT IGNORE INTO shop_followers (shop_id, user_id, created_at) VALUES (?, ?, ?)", shopID, userID, h.now())
	} else {
		_, err = h.DB.ExecContext(ctx, "DELETE FROM shop_followers WHERE shop_id = ? AND user_id = ?", shopID, userID)
	}
	if err != nil {
		internalError(c, err, "Failed to update follow")
		return
	}

	followers, err := h.followerCount(ctx, shopID)
	if err != nil {
		internalError(c, err, "Failed to count followers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"isFollowing": follow, "followers": followers})
}
