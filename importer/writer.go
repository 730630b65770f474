package importer

import (
	"context"
	"fmt"

	"prodcat/catalog"
)

const DefaultBatchSize = 500

// batchWriter buffers products and hands them to the import transaction in
// fixed-size batches. Cancellation is only observed between batches.
type batchWriter struct {
	tx    catalog.ImportTx
	size  int
	batch []catalog.Product

	inserted int
	updated  int
	batches  int
}

func newBatchWriter(tx catalog.ImportTx, size int) *batchWriter {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &batchWriter{
		tx:    tx,
		size:  size,
		batch: make([]catalog.Product, 0, size),
	}
}

func (w *batchWriter) Add(ctx context.Context, p catalog.Product) error {
	w.batch = append(w.batch, p)
	if len(w.batch) < w.size {
		return nil
	}
	return w.Flush(ctx)
}

func (w *batchWriter) Flush(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("import cancelled: %w", err)
	}

	result, err := w.tx.UpsertBatch(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("write batch %d: %w", w.batches+1, err)
	}
	w.inserted += result.Inserted
	w.updated += result.Updated
	w.batches++
	w.batch = w.batch[:0]
	return nil
}
