package view

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"prodcat/catalog"
)

const (
	DefaultPageSize = 12
	FieldID         = "id"
)

// Model is a filtered, sorted and paginated window over a catalog snapshot.
// It never queries the store; callers push a fresh snapshot with Reload after
// every write.
type Model struct {
	mu sync.RWMutex

	all      []catalog.Product
	filtered []catalog.Product

	query      string
	sortField  string
	descending bool
	pageSize   int
	page       int
}

func NewModel(pageSize int) *Model {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Model{pageSize: pageSize}
}

// Reload replaces the snapshot and reapplies the current filter, sort and
// page. The page is clamped if the filtered set shrank.
func (m *Model) Reload(snapshot []catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.all = append([]catalog.Product(nil), snapshot...)
	m.refilter()
	m.resort()
	m.page = m.clamp(m.page)
}

// ApplyFilter keeps products whose SKU, name or category contains text,
// ignoring case. Empty text matches everything. The page resets to 0.
func (m *Model) ApplyFilter(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.query = strings.ToLower(strings.TrimSpace(text))
	m.refilter()
	m.resort()
	m.page = 0
}

// SortBy sorts by field, flipping the direction when field is already the
// sort key.
func (m *Model) SortBy(field string) error {
	field = strings.ToLower(strings.TrimSpace(field))
	m.mu.Lock()
	defer m.mu.Unlock()

	descending := m.sortField == field && !m.descending
	return m.setSort(field, descending)
}

// SetSort sorts by field in an explicit direction.
func (m *Model) SetSort(field string, descending bool) error {
	field = strings.ToLower(strings.TrimSpace(field))
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.setSort(field, descending)
}

func (m *Model) setSort(field string, descending bool) error {
	if !sortable(field) {
		return fmt.Errorf("unsupported sort field: %s", field)
	}
	m.sortField = field
	m.descending = descending
	m.resort()
	return nil
}

// Sort returns the active sort field (empty when unsorted) and direction.
func (m *Model) Sort() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortField, m.descending
}

// Query returns the normalized active filter text.
func (m *Model) Query() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.query
}

// SetPageSize changes the page size and returns to the first page.
func (m *Model) SetPageSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("page size must be > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pageSize = n
	m.page = 0
	return nil
}

func (m *Model) PageSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageSize
}

// Page moves to page n, clamped to the valid range, and returns its rows.
func (m *Model) Page(n int) []catalog.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.page = m.clamp(n)
	return m.visible()
}

func (m *Model) NextPage() []catalog.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.page = m.clamp(m.page + 1)
	return m.visible()
}

func (m *Model) PrevPage() []catalog.Product {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.page = m.clamp(m.page - 1)
	return m.visible()
}

// Visible returns the rows of the current page.
func (m *Model) Visible() []catalog.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible()
}

func (m *Model) CurrentPage() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.page
}

// TotalPages is at least 1, even for an empty filtered set.
func (m *Model) TotalPages() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalPages()
}

// Len is the size of the filtered set.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered)
}

// Total is the size of the whole snapshot.
func (m *Model) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.all)
}

// Filtered returns a copy of the whole filtered, sorted set.
func (m *Model) Filtered() []catalog.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]catalog.Product(nil), m.filtered...)
}

func (m *Model) visible() []catalog.Product {
	start := m.page * m.pageSize
	if start >= len(m.filtered) {
		return []catalog.Product{}
	}
	end := min(start+m.pageSize, len(m.filtered))
	return append([]catalog.Product(nil), m.filtered[start:end]...)
}

func (m *Model) totalPages() int {
	if len(m.filtered) == 0 {
		return 1
	}
	return (len(m.filtered)-1)/m.pageSize + 1
}

func (m *Model) clamp(page int) int {
	return max(0, min(page, m.totalPages()-1))
}

func (m *Model) refilter() {
	if m.query == "" {
		m.filtered = append([]catalog.Product(nil), m.all...)
		return
	}

	m.filtered = make([]catalog.Product, 0, len(m.all))
	for _, p := range m.all {
		if matches(p, m.query) {
			m.filtered = append(m.filtered, p)
		}
	}
}

func (m *Model) resort() {
	if m.sortField == "" {
		return
	}
	field, descending := m.sortField, m.descending
	sort.SliceStable(m.filtered, func(i, j int) bool {
		return less(m.filtered[i], m.filtered[j], field, descending)
	})
}

func matches(p catalog.Product, query string) bool {
	return strings.Contains(strings.ToLower(p.SKU), query) ||
		strings.Contains(strings.ToLower(p.Name), query) ||
		strings.Contains(strings.ToLower(p.Category), query)
}

func sortable(field string) bool {
	if field == FieldID {
		return true
	}
	for _, f := range catalog.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// less orders missing values first in both directions.
func less(a, b catalog.Product, field string, descending bool) bool {
	var c int
	switch field {
	case FieldID:
		c = compareInt(a.ID, b.ID)
	case catalog.FieldPrice:
		c = a.Price.Cmp(b.Price)
	case catalog.FieldStock:
		c = compareInt(a.Stock, b.Stock)
	default:
		av, _ := a.Text(field)
		bv, _ := b.Text(field)
		switch {
		case av == "" && bv == "":
			return false
		case av == "":
			return true
		case bv == "":
			return false
		}
		c = strings.Compare(strings.ToLower(av), strings.ToLower(bv))
	}
	if descending {
		return c > 0
	}
	return c < 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
