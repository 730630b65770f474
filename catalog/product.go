package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Canonical field names, in export and header order.
const (
	FieldSKU         = "sku"
	FieldName        = "name"
	FieldPrice       = "price"
	FieldStock       = "stock"
	FieldCategory    = "category"
	FieldStatus      = "status"
	FieldImagePath   = "image_path"
	FieldDescription = "description"
)

// Fields lists the canonical schema in column order.
var Fields = []string{
	FieldSKU,
	FieldName,
	FieldPrice,
	FieldStock,
	FieldCategory,
	FieldStatus,
	FieldImagePath,
	FieldDescription,
}

var ErrProductNotFound = errors.New("product not found")

// MaxPrice bounds prices so they survive the store's REAL column.
var MaxPrice = decimal.New(1, 12)

// Product is the canonical catalog record shared by the importer, the store
// and the view model. ID is assigned by the store and never set by imports.
type Product struct {
	ID          int64
	SKU         string
	Name        string
	Price       decimal.Decimal
	Stock       int64
	Category    string
	Status      string
	ImagePath   string
	Description string
}

// Validate reports whether the product may be committed to the store.
func (p Product) Validate() error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("sku is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required for sku %q", p.SKU)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("price must not be negative for sku %q", p.SKU)
	}
	if p.Price.GreaterThan(MaxPrice) {
		return fmt.Errorf("price must not exceed %s for sku %q", MaxPrice, p.SKU)
	}
	return nil
}

// Values renders the product in Fields order.
func (p Product) Values() []string {
	return []string{
		p.SKU,
		p.Name,
		p.Price.String(),
		strconv.FormatInt(p.Stock, 10),
		p.Category,
		p.Status,
		p.ImagePath,
		p.Description,
	}
}

// Text returns the string value of a text field, and false for numeric or
// unknown fields.
func (p Product) Text(field string) (string, bool) {
	switch field {
	case FieldSKU:
		return p.SKU, true
	case FieldName:
		return p.Name, true
	case FieldCategory:
		return p.Category, true
	case FieldStatus:
		return p.Status, true
	case FieldImagePath:
		return p.ImagePath, true
	case FieldDescription:
		return p.Description, true
	default:
		return "", false
	}
}
