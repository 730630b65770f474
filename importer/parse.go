package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"prodcat/catalog"

	"github.com/shopspring/decimal"
)

var nullSentinels = map[string]struct{}{
	"n/a":  {},
	"na":   {},
	"null": {},
	"none": {},
	"-":    {},
}

var priceReplacer = strings.NewReplacer("$", "", "€", "", "£", "", ",", "")

func isBlankOrSentinel(value string) bool {
	if value == "" {
		return true
	}
	_, ok := nullSentinels[strings.ToLower(value)]
	return ok
}

// parsePrice accepts currency-formatted amounts such as "$1,234.50". Blank
// and sentinel values are zero without an error; anything unparseable or
// negative or above catalog.MaxPrice is zero with an error describing the
// defect.
func parsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	if isBlankOrSentinel(cleaned) {
		return decimal.Zero, nil
	}

	cleaned = strings.TrimSpace(priceReplacer.Replace(cleaned))
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q is not a number; using 0", raw)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %q is negative; using 0", raw)
	}
	if price.GreaterThan(catalog.MaxPrice) {
		return decimal.Zero, fmt.Errorf("price %q is out of range; using 0", raw)
	}
	return price, nil
}

// parseStock accepts whole numbers with thousands separators. A decimal
// value is truncated toward zero.
func parseStock(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	if isBlankOrSentinel(cleaned) {
		return 0, nil
	}

	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if stock, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return stock, nil
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || math.Abs(value) >= math.MaxInt64 {
		return 0, fmt.Errorf("stock %q is not a number; using 0", raw)
	}
	return int64(math.Trunc(value)), nil
}
