package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"prodcat/catalog"

	"github.com/shopspring/decimal"
)

// Store is the relational catalog. Interactive reads and edits go through the
// shared pool; each import takes its own dedicated connection.
type Store struct {
	db      *sql.DB
	dialect dialect

	forceFallback bool
}

type Option func(*Store)

// WithForcedFallback makes every import use the manual lookup-then-write
// path instead of the ON CONFLICT statement.
func WithForcedFallback(enabled bool) Option {
	return func(s *Store) {
		s.forceFallback = enabled
	}
}

// Open connects to the catalog database and ensures the schema exists.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}

	store := &Store{db: db, dialect: d}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// OpenSQLite opens a sqlite catalog file.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	return Open(DriverSQLite, path, opts...)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(s.dialect.schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const selectProductColumns = `
SELECT
	id,
	sku,
	name,
	price,
	stock,
	category,
	status,
	image_path,
	description
FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (catalog.Product, error) {
	var (
		p     catalog.Product
		price float64
	)
	if err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&price,
		&p.Stock,
		&p.Category,
		&p.Status,
		&p.ImagePath,
		&p.Description,
	); err != nil {
		return catalog.Product{}, err
	}
	// Rows written by other tools may hold non-finite REALs.
	if math.IsNaN(price) || math.IsInf(price, 0) {
		price = 0
	}
	p.Price = decimal.NewFromFloat(price)
	return p, nil
}

// ListProducts returns the full catalog snapshot ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, selectProductColumns+"\nORDER BY id;")
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]catalog.Product, 0, 256)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return products, nil
}

// GetProductBySKU returns the product with the given SKU. The second return
// value is false when no such product exists.
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (catalog.Product, bool, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return catalog.Product{}, false, fmt.Errorf("sku must not be empty")
	}

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(selectProductColumns+"\nWHERE sku = ?;"), sku)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Product{}, false, nil
		}
		return catalog.Product{}, false, fmt.Errorf("query product %q: %w", sku, err)
	}
	return p, true, nil
}

// CountProducts returns the number of stored products.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// UpdateProduct replaces all non-key fields for the row with the given ID.
// The SKU is the merge key and is never changed by an edit.
func (s *Store) UpdateProduct(ctx context.Context, p catalog.Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("product id must be > 0")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validate product: %w", err)
	}

	const updateStmt = `
UPDATE products
SET name = ?,
	price = ?,
	stock = ?,
	category = ?,
	status = ?,
	image_path = ?,
	description = ?
WHERE id = ?;`

	res, err := s.db.ExecContext(
		ctx,
		s.dialect.rebind(updateStmt),
		p.Name,
		p.Price.InexactFloat64(),
		p.Stock,
		p.Category,
		p.Status,
		p.ImagePath,
		p.Description,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read updated row count: %w", err)
	}
	if rowsAffected == 0 {
		return catalog.ErrProductNotFound
	}

	return nil
}

// DeleteProduct removes the row with the given ID.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("product id must be > 0")
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM products WHERE id = ?;`), id)
	if err != nil {
		return false, fmt.Errorf("delete product %d: %w", id, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read deleted row count: %w", err)
	}
	return rowsAffected > 0, nil
}

// BeginImport acquires a dedicated connection and opens the import
// transaction on it.
func (s *Store) BeginImport(ctx context.Context) (catalog.ImportTx, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire import connection: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	return &importTx{
		conn:     conn,
		tx:       tx,
		dialect:  s.dialect,
		fallback: s.forceFallback,
	}, nil
}

var _ catalog.Store = (*Store)(nil)
