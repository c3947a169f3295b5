package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/01moynul/zyra-golang/internal/geo"
	"github.com/01moynul/zyra-golang/internal/models"
)

const addressColumns = `id, user_id, full_name, phone, address_line1, address_line2, city, state,
	postal_code, latitude, longitude, is_default, created_at`

// AddressInput is the body of POST and PUT /v1/addresses.
type AddressInput struct {
	FullName     string   `json:"fullName" binding:"required"`
	Phone        string   `json:"phone" binding:"required"`
	AddressLine1 string   `json:"addressLine1" binding:"required"`
	AddressLine2 string   `json:"addressLine2"`
	City         string   `json:"city" binding:"required"`
	State        string   `json:"state" binding:"required"`
	PostalCode   string   `json:"postalCode" binding:"required"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	IsDefault    bool     `json:"isDefault"`
}

var errHalfLocation = errors.New("latitude and longitude must be given together")

// validateOptionalPoint accepts no location or a complete valid one.
func validateOptionalPoint(lat, lng *float64) error {
	if lat == nil && lng == nil {
		return nil
	}
	if lat == nil || lng == nil {
		return errHalfLocation
	}
	return geo.Point{Lat: *lat, Lng: *lng}.Validate()
}

// GetMyAddresses is the handler for GET /v1/addresses
func (h *Handlers) GetMyAddresses(c *gin.Context) {
	addresses := []models.Address{}
	err := h.DB.SelectContext(c.Request.Context(), &addresses,
		"SELECT "+addressColumns+" FROM addresses WHERE user_id = ? ORDER BY is_default DESC, created_at DESC",
		currentUserID(c))
	if err != nil {
		internalError(c, err, "Failed to load addresses")
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

// CreateAddress is the handler for POST /v1/addresses
// The first address a user saves becomes the default.
func (h *Handlers) CreateAddress(c *gin.Context) {
	// 1. --- Bind & Validate ---
	var input AddressInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateOptionalPoint(input.Latitude, input.Longitude); err != nil {
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

	// 3. --- Decide default ---
	var existing int
	if err := tx.GetContext(ctx, &existing, "SELECT COUNT(*) FROM addresses WHERE user_id = ? FOR UPDATE", userID); err != nil {
		internalError(c, err, "Failed to count addresses")
		return
	}
	makeDefault := input.IsDefault || existing == 0
	if makeDefault && existing > 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = 0 WHERE user_id = ?", userID); err != nil {
			internalError(c, err, "Failed to clear default address")
			return
		}
	}

	// 4. --- Insert ---
	now := h.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO addresses (user_id, full_name, phone, address_line1, address_line2, city, state,
			postal_code, latitude, longitude, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, input.FullName, input.Phone, input.AddressLine1, input.AddressLine2, input.City,
		input.State, input.PostalCode, input.Latitude, input.Longitude, makeDefault, now)
	if err != nil {
		internalError(c, err, "Failed to save address")
		return
	}
	id, err := res.LastInsertId()
	if err != nil {
		internalError(c, err, "Failed to get new address ID")
		return
	}

	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit address")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"address": models.Address{
		ID:           id,
		UserID:       userID,
		FullName:     input.FullName,
		Phone:        input.Phone,
		AddressLine1: input.AddressLine1,
		AddressLine2: input.AddressLine2,
		City:         input.City,
		State:        input.State,
		PostalCode:   input.PostalCode,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		IsDefault:    makeDefault,
		CreatedAt:    now,
	}})
}

// lockOwnAddress locks an address row owned by userID inside tx.
func lockOwnAddress(ctx context.Context, tx *sqlx.Tx, addressID, userID int64) (models.Address, error) {
	var a models.Address
	err := tx.GetContext(ctx, &a,
		"SELECT "+addressColumns+" FROM addresses WHERE id = ? AND user_id = ? FOR UPDATE", addressID, userID)
	return a, err
}

// UpdateAddress is the handler for PUT /v1/addresses/:id
func (h *Handlers) UpdateAddress(c *gin.Context) {
	addressID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var input AddressInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateOptionalPoint(input.Latitude, input.Longitude); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
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

	current, err := lockOwnAddress(ctx, tx, addressID, userID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load address")
		return
	}

	isDefault := current.IsDefault || input.IsDefault
	if input.IsDefault && !current.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = 0 WHERE user_id = ?", userID); err != nil {
			internalError(c, err, "Failed to clear default address")
			return
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE addresses
		SET full_name = ?, phone = ?, address_line1 = ?, address_line2 = ?, city = ?, state = ?,
			postal_code = ?, latitude = ?, longitude = ?, is_default = ?
		WHERE id = ? AND user_id = ?`,
		input.FullName, input.Phone, input.AddressLine1, input.AddressLine2, input.City, input.State,
		input.PostalCode, input.Latitude, input.Longitude, isDefault, addressID, userID)
	if err != nil {
		internalError(c, err, "Failed to update address")
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit address")
		return
	}

	current.FullName, current.Phone = input.FullName, input.Phone
	current.AddressLine1, current.AddressLine2 = input.AddressLine1, input.AddressLine2
	current.City, current.State, current.PostalCode = input.City, input.State, input.PostalCode
	current.Latitude, current.Longitude = input.Latitude, input.Longitude
	current.IsDefault = isDefault
	c.JSON(http.StatusOK, gin.H{"address": current})
}

// DeleteAddress is the handler for DELETE /v1/addresses/:id
// Deleting the default promotes the newest remaining address.
func (h *Handlers) DeleteAddress(c *gin.Context) {
	addressID, ok := paramID(c, "id")
	if !ok {
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

	current, err := lockOwnAddress(ctx, tx, addressID, userID)
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to load address")
		return
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM addresses WHERE id = ? AND user_id = ?", addressID, userID); err != nil {
		internalError(c, err, "Failed to delete address")
		return
	}
	if current.IsDefault {
		_, err := tx.ExecContext(ctx,
			"UPDATE addresses SET is_default = 1 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", userID)
		if err != nil {
			internalError(c, err, "Failed to promote default address")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Address deleted"})
}

// SetDefaultAddress is the handler for PATCH /v1/addresses/:id/default
func (h *Handlers) SetDefaultAddress(c *gin.Context) {
	addressID, ok := paramID(c, "id")
	if !ok {
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

	if _, err := lockOwnAddress(ctx, tx, addressID, userID); isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Address not found"})
		return
	} else if err != nil {
		internalError(c, err, "Failed to load address")
		return
	}

	if _, err := tx.ExecContext(ctx, "UPDATE addresses SET is_default = (id = ?) WHERE user_id = ?", addressID, userID); err != nil {
		internalError(c, err, "Failed to set default address")
		return
	}
	if err := tx.Commit(); err != nil {
		internalError(c, err, "Failed to commit")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Default address updated"})
}

// checkoutAddress picks the delivery address: the requested one, else the
// default, else the most recent.
func checkoutAddress(ctx context.Context, q sqlx.QueryerContext, userID int64, addressID *int64) (models.Address, error) {
	var a models.Address
	if addressID != nil {
		err := sqlx.GetContext(ctx, q, &a,
			"SELECT "+addressColumns+" FROM addresses WHERE id = ? AND user_id = ?", *addressID, userID)
		return a, err
	}
	err := sqlx.GetContext(ctx, q, &a,
		"SELECT "+addressColumns+" FROM addresses WHERE user_id = ? ORDER BY is_default DESC, created_at DESC, id DESC LIMIT 1",
		userID)
	return a, err
}
