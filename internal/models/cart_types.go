package models

// CartLine is a cart_items row joined with its product, as returned by
// GET /v1/cart.
type CartLine struct {
	ID        int64   `json:"id" db:"id"`
	ProductID int64   `json:"productId" db:"product_id"`
	Name      string  `json:"name" db:"name"`
	Price     float64 `json:"price" db:"price"`
	ImageURL  string  `json:"imageUrl" db:"image_url"`
	Category  *string `json:"category,omitempty" db:"category"`
	ShopID    int64   `json:"shopId" db:"shop_id"`
	ShopName  string  `json:"shopName" db:"shop_name"`
	Quantity  int     `json:"quantity" db:"quantity"`
	Size      string  `json:"size" db:"size"`
	Color     string  `json:"color" db:"color"`
	Stock     int     `json:"stock" db:"stock"`
	LineTotal float64 `json:"lineTotal" db:"-"`
}

// Cart is the cart view: line items and totals derived from them.
type Cart struct {
	Items      []CartLine `json:"items"`
	Subtotal   float64    `json:"subtotal"`
	TotalItems int        `json:"totalItems"`
}
