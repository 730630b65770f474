package importer

import (
	"strconv"
	"strings"

	"prodcat/catalog"
)

// requiredFields must be bound for a row to be importable.
var requiredFields = []string{catalog.FieldSKU, catalog.FieldName}

// fieldSynonyms lists the normalized source headers accepted for each
// catalog field.
var fieldSynonyms = map[string][]string{
	catalog.FieldSKU:         {"sku", "productcode", "code", "itemcode", "id", "productid"},
	catalog.FieldName:        {"name", "title", "productname", "descriptionshort", "itemname"},
	catalog.FieldPrice:       {"price", "unitprice", "sellprice", "rrp", "priceex", "priceinctax"},
	catalog.FieldStock:       {"stock", "qty", "quantity", "onhand", "inventory"},
	catalog.FieldCategory:    {"category", "cat", "segment"},
	catalog.FieldStatus:      {"status", "state", "enabled", "active"},
	catalog.FieldImagePath:   {"image", "imagepath", "imageurl", "picture", "img"},
	catalog.FieldDescription: {"description", "longdescription", "fulldescription", "details", "notes"},
}

// HeaderMap binds catalog fields to source column indexes.
type HeaderMap struct {
	columns []string
	index   map[string]int
}

// BuildHeaderMap normalizes and deduplicates the raw header row, then binds
// each catalog field to the first column matching one of its synonyms.
func BuildHeaderMap(raw []string) HeaderMap {
	return buildHeaderMap(raw, fieldSynonyms)
}

// mergeSynonyms extends the built-in synonym table. Extra headers are
// normalized the same way as source headers; unknown fields are ignored.
func mergeSynonyms(extra map[string][]string) map[string][]string {
	if len(extra) == 0 {
		return fieldSynonyms
	}

	merged := make(map[string][]string, len(fieldSynonyms))
	for field, synonyms := range fieldSynonyms {
		merged[field] = append([]string(nil), synonyms...)
	}
	for field, headers := range extra {
		field = strings.ToLower(strings.TrimSpace(field))
		if _, ok := merged[field]; !ok {
			continue
		}
		for _, header := range headers {
			if normalized := normalizeHeader(header); normalized != "" {
				merged[field] = append(merged[field], normalized)
			}
		}
	}
	return merged
}

func buildHeaderMap(raw []string, synonyms map[string][]string) HeaderMap {
	columns := make([]string, len(raw))
	for i, header := range raw {
		columns[i] = normalizeHeader(header)
	}
	columns = dedupeHeaders(columns)

	index := make(map[string]int, len(catalog.Fields))
	for _, field := range catalog.Fields {
		for _, synonym := range synonyms[field] {
			if i, ok := indexOf(columns, synonym); ok {
				if prev, bound := index[field]; !bound || i < prev {
					index[field] = i
				}
			}
		}
	}

	return HeaderMap{columns: columns, index: index}
}

// Columns returns the normalized, deduplicated source headers.
func (m HeaderMap) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Width is the number of source columns.
func (m HeaderMap) Width() int {
	return len(m.columns)
}

func (m HeaderMap) Index(field string) (int, bool) {
	i, ok := m.index[field]
	return i, ok
}

// Missing lists required fields without a bound column.
func (m HeaderMap) Missing() []string {
	missing := make([]string, 0, len(requiredFields))
	for _, field := range requiredFields {
		if _, ok := m.index[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

func normalizeHeader(input string) string {
	normalized := strings.ReplaceAll(input, "\x00", "")
	normalized = strings.ReplaceAll(normalized, "\u00a0", " ")
	normalized = strings.TrimSpace(strings.ToLower(normalized))
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	return normalized
}

// dedupeHeaders suffixes repeated names: the second "code" becomes "code1",
// the third "code2".
func dedupeHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, header := range headers {
		n, ok := seen[header]
		if !ok {
			seen[header] = 0
			out[i] = header
			continue
		}
		n++
		seen[header] = n
		out[i] = header + strconv.Itoa(n)
	}
	return out
}

func indexOf(values []string, target string) (int, bool) {
	for i, value := range values {
		if value == target {
			return i, true
		}
	}
	return 0, false
}
