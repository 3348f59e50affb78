package models

import (
	"strings"
	"time"
)

// Field limits applied to imported rows before they reach the catalog.
const (
	MaxNameLength        = 512
	MaxDescriptionLength = 2000
	MaxPriceLength       = 64
)

// Product is one catalog entry. The case-folded SKU is the real key: a
// unique index on lower(sku) guarantees one live row per folded value.
type Product struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	SKU         string    `json:"sku" gorm:"column:sku;size:255;not null"`
	Name        string    `json:"name" gorm:"size:512;not null"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`
	Price       *string   `json:"price,omitempty" gorm:"size:64"` // opaque, never parsed
	Active      bool      `json:"active" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// NormalizeSKU returns the key products are deduplicated and upserted on.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
