package models

import "time"

// Shop is the model for the 'shops' table.
type Shop struct {
	ID          int64     `json:"id" db:"id"`
	OwnerID     int64     `json:"ownerId" db:"owner_id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	Description string    `json:"description" db:"description"`
	Phone       string    `json:"phone" db:"phone"`
	Email       string    `json:"email" db:"email"`
	Address     string    `json:"address" db:"address"`
	LogoURL     string    `json:"logoUrl" db:"logo_url"`
	BannerURL   string    `json:"bannerUrl" db:"banner_url"`
	Latitude    float64   `json:"latitude" db:"latitude"`
	Longitude   float64   `json:"longitude" db:"longitude"`
	Rating      float64   `json:"rating" db:"rating"`
	IsActive    bool      `json:"isActive" db:"is_active"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// ShopListing is a shop row with its aggregate counts, as shown in the shop
// directory.
type ShopListing struct {
	Shop
	Products    int      `json:"products" db:"products"`
	Followers   int      `json:"followers" db:"followers"`
	IsFollowing bool     `json:"isFollowing" db:"is_following"`
	DistanceKm  *float64 `json:"distanceKm,omitempty" db:"-"`
}
