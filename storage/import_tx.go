package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prodcat/catalog"
)

const upsertStmt = `
INSERT INTO products (
	sku,
	name,
	price,
	stock,
	category,
	status,
	image_path,
	description
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (sku) DO UPDATE SET
	name = excluded.name,
	price = excluded.price,
	stock = excluded.stock,
	category = excluded.category,
	status = excluded.status,
	image_path = excluded.image_path,
	description = excluded.description;`

const insertStmt = `
INSERT INTO products (
	sku,
	name,
	price,
	stock,
	category,
	status,
	image_path,
	description
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

const updateBySKUStmt = `
UPDATE products
SET name = ?,
	price = ?,
	stock = ?,
	category = ?,
	status = ?,
	image_path = ?,
	description = ?
WHERE sku = ?;`

const lookupBySKUStmt = `SELECT id FROM products WHERE sku = ? LIMIT 1;`

// importTx runs one import inside a single transaction on a dedicated
// connection. The first batch probes the ON CONFLICT statement inside a
// savepoint; when the engine cannot run it, the batch is replayed through the
// lookup-then-write fallback, which is used for the rest of the run.
//
// The fallback is not atomic per row: a concurrent writer changing the same
// sku between the lookup and the write races with it.
type importTx struct {
	conn    *sql.Conn
	tx      *sql.Tx
	dialect dialect

	fallback bool
	probed   bool
	done     bool

	upsert *sql.Stmt
	lookup *sql.Stmt
	insert *sql.Stmt
	update *sql.Stmt
}

func (t *importTx) Mode() string {
	if t.fallback {
		return catalog.ModeFallback
	}
	return catalog.ModeUpsert
}

func (t *importTx) UpsertBatch(ctx context.Context, batch []catalog.Product) (catalog.BatchResult, error) {
	if t.done {
		return catalog.BatchResult{}, fmt.Errorf("import transaction already finished")
	}
	if len(batch) == 0 {
		return catalog.BatchResult{}, nil
	}
	for _, p := range batch {
		if err := p.Validate(); err != nil {
			return catalog.BatchResult{}, fmt.Errorf("validate product: %w", err)
		}
	}

	if t.fallback {
		return t.fallbackBatch(ctx, batch)
	}
	if !t.probed {
		return t.probeBatch(ctx, batch)
	}
	return t.upsertBatch(ctx, batch)
}

func (t *importTx) probeBatch(ctx context.Context, batch []catalog.Product) (catalog.BatchResult, error) {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT upsert_probe;`); err != nil {
		return catalog.BatchResult{}, fmt.Errorf("create upsert savepoint: %w", err)
	}

	result, err := t.upsertBatch(ctx, batch)
	if err == nil {
		t.probed = true
		if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT upsert_probe;`); err != nil {
			return catalog.BatchResult{}, fmt.Errorf("release upsert savepoint: %w", err)
		}
		return result, nil
	}
	if !t.dialect.upsertUnsupported(err) {
		return catalog.BatchResult{}, err
	}

	if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT upsert_probe;`); rbErr != nil {
		return catalog.BatchResult{}, fmt.Errorf("rollback upsert savepoint: %w", rbErr)
	}
	if _, relErr := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT upsert_probe;`); relErr != nil {
		return catalog.BatchResult{}, fmt.Errorf("release upsert savepoint: %w", relErr)
	}
	if t.upsert != nil {
		_ = t.upsert.Close()
		t.upsert = nil
	}
	t.probed = true
	t.fallback = true
	return t.fallbackBatch(ctx, batch)
}

func (t *importTx) upsertBatch(ctx context.Context, batch []catalog.Product) (catalog.BatchResult, error) {
	existing, err := t.existingSKUs(ctx, batch)
	if err != nil {
		return catalog.BatchResult{}, err
	}

	if t.upsert == nil {
		stmt, err := t.tx.PrepareContext(ctx, t.dialect.rebind(upsertStmt))
		if err != nil {
			return catalog.BatchResult{}, fmt.Errorf("prepare upsert statement: %w", err)
		}
		t.upsert = stmt
	}

	var result catalog.BatchResult
	for _, p := range batch {
		if _, err := t.upsert.ExecContext(ctx, productArgs(p)...); err != nil {
			return catalog.BatchResult{}, fmt.Errorf("upsert product %q: %w", p.SKU, err)
		}
		if existing[p.SKU] {
			result.Updated++
			continue
		}
		existing[p.SKU] = true
		result.Inserted++
	}
	return result, nil
}

// existingSKUs returns which SKUs of the batch are already stored, as seen
// from inside the transaction (earlier batches included).
func (t *importTx) existingSKUs(ctx context.Context, batch []catalog.Product) (map[string]bool, error) {
	unique := make(map[string]bool, len(batch))
	args := make([]any, 0, len(batch))
	for _, p := range batch {
		if unique[p.SKU] {
			continue
		}
		unique[p.SKU] = true
		args = append(args, p.SKU)
	}

	query := `SELECT sku FROM products WHERE sku IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ") + `);`
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query existing skus: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(args))
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, fmt.Errorf("scan existing sku: %w", err)
		}
		existing[sku] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing skus: %w", err)
	}
	return existing, nil
}

func (t *importTx) fallbackBatch(ctx context.Context, batch []catalog.Product) (catalog.BatchResult, error) {
	if err := t.prepareFallback(ctx); err != nil {
		return catalog.BatchResult{}, err
	}

	var result catalog.BatchResult
	for _, p := range batch {
		var id int64
		err := t.lookup.QueryRowContext(ctx, p.SKU).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := t.insert.ExecContext(ctx, productArgs(p)...); err != nil {
				return catalog.BatchResult{}, fmt.Errorf("insert product %q: %w", p.SKU, err)
			}
			result.Inserted++
		case err != nil:
			return catalog.BatchResult{}, fmt.Errorf("look up product %q: %w", p.SKU, err)
		default:
			if _, err := t.update.ExecContext(
				ctx,
				p.Name,
				p.Price.InexactFloat64(),
				p.Stock,
				p.Category,
				p.Status,
				p.ImagePath,
				p.Description,
				p.SKU,
			); err != nil {
				return catalog.BatchResult{}, fmt.Errorf("update product %q: %w", p.SKU, err)
			}
			result.Updated++
		}
	}
	return result, nil
}

func (t *importTx) prepareFallback(ctx context.Context) error {
	if t.lookup != nil {
		return nil
	}

	var err error
	if t.lookup, err = t.tx.PrepareContext(ctx, t.dialect.rebind(lookupBySKUStmt)); err != nil {
		return fmt.Errorf("prepare lookup statement: %w", err)
	}
	if t.insert, err = t.tx.PrepareContext(ctx, t.dialect.rebind(insertStmt)); err != nil {
		return fmt.Errorf("prepare insert statement: %w", err)
	}
	if t.update, err = t.tx.PrepareContext(ctx, t.dialect.rebind(updateBySKUStmt)); err != nil {
		return fmt.Errorf("prepare update statement: %w", err)
	}
	return nil
}

func (t *importTx) Commit() error {
	if t.done {
		return fmt.Errorf("import transaction already finished")
	}
	t.done = true
	defer t.conn.Close()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit import transaction: %w", err)
	}
	return nil
}

// Rollback discards everything written in the run. It is a no-op after
// Commit or a previous Rollback.
func (t *importTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Close()

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback import transaction: %w", err)
	}
	return nil
}

func productArgs(p catalog.Product) []any {
	return []any{
		p.SKU,
		p.Name,
		p.Price.InexactFloat64(),
		p.Stock,
		p.Category,
		p.Status,
		p.ImagePath,
		p.Description,
	}
}
