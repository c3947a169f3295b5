package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList is a JSON array column such as products.sizes.
type StringList []string

func (l *StringList) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(b, (*[]string)(l))
}

func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Allows reports whether v is permitted. An empty list permits only "".
func (l StringList) Allows(v string) bool {
	if len(l) == 0 {
		return v == ""
	}
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// Product is the model for the 'products' table.
type Product struct {
	ID          int64      `json:"id" db:"id"`
	ShopID      int64      `json:"shopId" db:"shop_id"`
	CategoryID  *int64     `json:"categoryId,omitempty" db:"category_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description" db:"description"`
	Price       float64    `json:"price" db:"price"`
	Stock       int        `json:"stock" db:"stock"`
	ImageURL    string     `json:"imageUrl" db:"image_url"`
	Sizes       StringList `json:"sizes" db:"sizes"`
	Colors      StringList `json:"colors" db:"colors"`
	IsActive    bool       `json:"isActive" db:"is_active"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`

	// Joins
	CategoryName *string `json:"category,omitempty" db:"category_name"`
	ShopName     string  `json:"shopName,omitempty" db:"shop_name"`
}
