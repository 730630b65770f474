package catalog

import "context"

// Write modes reported by an ImportTx.
const (
	ModeUpsert   = "upsert"
	ModeFallback = "fallback"
)

// Store is the persistent catalog as seen by the importer, the view layer and
// the detail editors.
type Store interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, bool, error)
	UpdateProduct(ctx context.Context, p Product) error
	DeleteProduct(ctx context.Context, id int64) (bool, error)
	BeginImport(ctx context.Context) (ImportTx, error)
}

// ImportTx is one import run's transaction on a dedicated connection.
// Nothing written through it is visible to other connections until Commit.
type ImportTx interface {
	UpsertBatch(ctx context.Context, batch []Product) (BatchResult, error)
	Mode() string
	Commit() error
	Rollback() error
}

type BatchResult struct {
	Inserted int
	Updated  int
}
