package models

import (
	"time"
)

// Order is the model for the 'orders' table. One row per shop per checkout.
type Order struct {
	ID                int64     `json:"id" db:"id"`
	OrderNumber       string    `json:"orderNumber" db:"order_number"`
	UserID            int64     `json:"userId" db:"user_id"`
	ShopID            int64     `json:"shopId" db:"shop_id"`
	CustomerName      string    `json:"customerName" db:"customer_name"`
	CustomerPhone     string    `json:"customerPhone" db:"customer_phone"`
	DeliveryAddress   string    `json:"deliveryAddress" db:"delivery_address"`
	DeliveryLatitude  *float64  `json:"deliveryLatitude,omitempty" db:"delivery_latitude"`
	DeliveryLongitude *float64  `json:"deliveryLongitude,omitempty" db:"delivery_longitude"`
	PaymentMethod     string    `json:"paymentMethod" db:"payment_method"`
	UPIID             *string   `json:"upiId,omitempty" db:"upi_id"`
	TotalAmount       float64   `json:"totalAmount" db:"total_amount"`
	Status            string    `json:"status" db:"status"`
	CheckoutRef       string    `json:"checkoutRef" db:"checkout_ref"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`

	// Joins
	ShopName string      `json:"shopName,omitempty" db:"shop_name"`
	Items    []OrderItem `json:"items,omitempty" db:"-"`
}

// OrderItem is the model for the 'order_items' table
type OrderItem struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   int64     `json:"orderId" db:"order_id"`
	ProductID int64     `json:"productId" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Price     float64   `json:"price" db:"price"` // Price at the time of purchase
	Size      string    `json:"size" db:"size"`
	Color     string    `json:"color" db:"color"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// Joins
	ProductName string `json:"productName,omitempty" db:"product_name"`
	ImageURL    string `json:"imageUrl,omitempty" db:"image_url"`
}
