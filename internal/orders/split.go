// Package orders holds the checkout rules that do not depend on storage:
// splitting a cart into per-shop orders, totals, order numbers and the
// status machine.
package orders

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyCart is returned when a checkout has nothing to order.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock is returned when a line asks for more than is left.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnavailable is returned for inactive products or shops.
	ErrUnavailable = errors.New("product unavailable")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Line is one cart row joined with the product state at checkout time.
type Line struct {
	CartItemID    int64   `db:"cart_item_id"`
	ProductID     int64   `db:"product_id"`
	ProductName   string  `db:"product_name"`
	ShopID        int64   `db:"shop_id"`
	ShopName      string  `db:"shop_name"`
	ShopOwnerID   int64   `db:"shop_owner_id"`
	Quantity      int     `db:"quantity"`
	Price         float64 `db:"price"`
	Stock         int     `db:"stock"`
	Size          string  `db:"size"`
	Color         string  `db:"color"`
	ProductActive bool    `db:"product_active"`
	ShopActive    bool    `db:"shop_active"`
}

// LineTotal is price times quantity, rounded to cents.
func (l Line) LineTotal() float64 {
	return RoundMoney(l.Price * float64(l.Quantity))
}

// ShopOrder is the slice of a checkout that belongs to a single shop.
type ShopOrder struct {
	ShopID   int64
	ShopName string
	OwnerID  int64
	Lines    []Line
	Total    float64
}

// ItemCount is the number of units in the order.
func (s ShopOrder) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// StockError describes which product could not be fulfilled.
type StockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("not enough stock for %q (requested %d, available %d)", e.Name, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Validate checks every line can be ordered. The product's stock must cover
// the combined quantity of every line for that product (the same product can
// appear with different sizes or colours).
func Validate(lines []Line) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}

	wanted := make(map[int64]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: product %d", ErrInvalidQuantity, l.ProductID)
		}
		if !l.ProductActive || !l.ShopActive {
			return fmt.Errorf("%w: %q", ErrUnavailable, l.ProductName)
		}
		wanted[l.ProductID] += l.Quantity
	}

	for _, l := range lines {
		if want := wanted[l.ProductID]; want > l.Stock {
			return &StockError{ProductID: l.ProductID, Name: l.ProductName, Requested: want, Available: l.Stock}
		}
	}
	return nil
}

// Split groups validated lines into one ShopOrder per shop. Shops are
// returned in ascending shop id order so that row locks and inserts happen in
// a stable order across concurrent checkouts.
func Split(lines []Line) ([]ShopOrder, error) {
	if err := Validate(lines); err != nil {
		return nil, err
	}

	byShop := make(map[int64]*ShopOrder)
	for _, l := range lines {
		so, ok := byShop[l.ShopID]
		if !ok {
			so = &ShopOrder{ShopID: l.ShopID, ShopName: l.ShopName, OwnerID: l.ShopOwnerID}
			byShop[l.ShopID] = so
		}
		so.Lines = append(so.Lines, l)
	}

	out := make([]ShopOrder, 0, len(byShop))
	for _, so := range byShop {
		so.Total = Subtotal(so.Lines)
		out = append(out, *so)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShopID < out[j].ShopID })
	return out, nil
}

// Subtotal sums the line totals.
func Subtotal(lines []Line) float64 {
	var sum float64
	for _, l := range lines {
		sum += l.Price * float64(l.Quantity)
	}
	return RoundMoney(sum)
}

// GrandTotal sums the per-shop totals.
func GrandTotal(orders []ShopOrder) float64 {
	var sum float64
	for _, o := range orders {
		sum += o.Total
	}
	return RoundMoney(sum)
}

// StockUsage totals the quantity per product across lines.
func StockUsage(lines []Line) map[int64]int {
	out := make(map[int64]int, len(lines))
	for _, l := range lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}

// ProductIDs returns the keys of usage in ascending order.
func ProductIDs(usage map[int64]int) []int64 {
	ids := make([]int64, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RoundMoney rounds to two decimals.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewOrderNumber returns a human readable unique order number such as
// ZY-20260301-1A2B3C4D.
func NewOrderNumber(now time.Time) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("ZY-%s-%s", now.UTC().Format("20060102"), id[:8])
}

// NewCheckoutRef identifies all orders created by a single checkout.
func NewCheckoutRef() string {
	return uuid.NewString()
}
