package importer

import (
	"errors"
	"strings"

	"prodcat/catalog"
)

// ErrMissingKeyFields marks a row without a SKU or a name.
var ErrMissingKeyFields = errors.New("missing SKU or Name")

var lineEndingReplacer = strings.NewReplacer("\x00", "", "\r\n", "\n", "\r", "\n")

// sanitizeCell drops null bytes, normalizes line endings to "\n" and trims.
func sanitizeCell(value string) string {
	return strings.TrimSpace(lineEndingReplacer.Replace(value))
}

// CoerceRow turns one raw source row into a product. Rows shorter than the
// header are padded with empty cells; extra cells are ignored. Numeric
// defects do not reject the row: the field defaults to zero and the defect
// is returned in notes. The only rejection is ErrMissingKeyFields.
func CoerceRow(raw []string, headers HeaderMap) (catalog.Product, []string, error) {
	values := make([]string, headers.Width())
	for i := range values {
		if i < len(raw) {
			values[i] = sanitizeCell(raw[i])
		}
	}

	get := func(field string) string {
		i, ok := headers.Index(field)
		if !ok || i >= len(values) {
			return ""
		}
		return values[i]
	}

	product := catalog.Product{
		SKU:         get(catalog.FieldSKU),
		Name:        get(catalog.FieldName),
		Category:    get(catalog.FieldCategory),
		Status:      get(catalog.FieldStatus),
		ImagePath:   get(catalog.FieldImagePath),
		Description: get(catalog.FieldDescription),
	}
	if product.SKU == "" || product.Name == "" {
		return catalog.Product{}, nil, ErrMissingKeyFields
	}

	var notes []string
	price, err := parsePrice(get(catalog.FieldPrice))
	if err != nil {
		notes = append(notes, err.Error())
	}
	product.Price = price

	stock, err := parseStock(get(catalog.FieldStock))
	if err != nil {
		notes = append(notes, err.Error())
	}
	product.Stock = stock

	return product, notes, nil
}
