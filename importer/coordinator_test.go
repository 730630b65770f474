package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prodcat/catalog"
	"prodcat/storage"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCoordinator(store catalog.Store, opts Options) *Coordinator {
	logger := zerolog.Nop()
	opts.Logger = &logger
	return NewCoordinator(store, opts)
}

func mustList(t *testing.T, store catalog.Store) []catalog.Product {
	t.Helper()
	products, err := store.ListProducts(context.Background())
	require.NoError(t, err)
	return products
}

func TestCoordinator_ImportsSynonymHeadersAndQuotedCommas(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv",
		"Product Code,Title,Unit Price,Qty\n"+
			"ABC-1,\"Widget, Deluxe\",$12.50,7\n")

	c := newTestCoordinator(store, Options{})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsRead)
	assert.Equal(t, 1, result.Inserted)
	assert.Zero(t, result.Updated)
	assert.Zero(t, result.Skipped)
	assert.Equal(t, catalog.ModeUpsert, result.Mode)
	assert.Equal(t, "utf-8", result.Encoding)
	assert.Equal(t, FormatCSV, result.Format)
	assert.Empty(t, result.LogPath)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, StateDone, c.State())

	got, ok, err := store.GetProductBySKU(context.Background(), "ABC-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Widget, Deluxe", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
	assert.EqualValues(t, 7, got.Stock)

	_, err = os.Stat(path + DefaultLogSuffix)
	assert.True(t, os.IsNotExist(err), "no diagnostics means no log file")
}

func TestCoordinator_ConfiguredSynonyms(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "artikel.csv",
		"Artikelnummer;Bezeichnung;Preis\n"+
			"A-1;Schraube;0.10\n")

	c := newTestCoordinator(store, Options{Synonyms: map[string][]string{
		catalog.FieldSKU:   {"Artikelnummer"},
		catalog.FieldName:  {"Bezeichnung"},
		catalog.FieldPrice: {"Preis"},
	}})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Zero(t, result.Skipped)

	got, ok, err := store.GetProductBySKU(context.Background(), "A-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Schraube", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("0.1")))
}

func TestCoordinator_ReimportUpdatesInsteadOfDuplicating(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	dir := t.TempDir()
	c := newTestCoordinator(store, Options{})
	ctx := context.Background()

	first := writeFile(t, dir, "v1.csv", "sku,name,price,stock\nABC-1,Widget,12.50,7\nXYZ-9,Other,1,1\n")
	_, err := c.Run(ctx, first)
	require.NoError(t, err)
	before, _, _ := store.GetProductBySKU(ctx, "ABC-1")

	second := writeFile(t, dir, "v2.csv", "sku,name,price,stock\nABC-1,Widget v2,9.99,3\n")
	result, err := c.Run(ctx, second)
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, 1, result.Updated)

	products := mustList(t, store)
	require.Len(t, products, 2)
	after, _, _ := store.GetProductBySKU(ctx, "ABC-1")
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Widget v2", after.Name)
	assert.True(t, after.Price.Equal(decimal.RequireFromString("9.99")))
	assert.EqualValues(t, 3, after.Stock)
}

func TestCoordinator_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv",
		"sku;name;price;stock;category\nA;Apple;1.50;3;fruit\nB;Banana;0.25;12;fruit\n")
	c := newTestCoordinator(store, Options{})

	_, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	once := mustList(t, store)

	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, once, mustList(t, store))
}

func TestCoordinator_LastRowWinsAcrossBatches(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv",
		"sku,name,stock\nDUP,first,1\nA,a,1\nB,b,1\nDUP,middle,2\nC,c,1\nDUP,last,3\n")

	c := newTestCoordinator(store, Options{BatchSize: 2})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 6, result.RowsRead)
	assert.Equal(t, 4, result.Inserted)
	assert.Equal(t, 2, result.Updated)

	got, _, err := store.GetProductBySKU(context.Background(), "DUP")
	require.NoError(t, err)
	assert.Equal(t, "last", got.Name)
	assert.EqualValues(t, 3, got.Stock)
	assert.Len(t, mustList(t, store), 4)
}

func TestCoordinator_SkipsRowsAndWritesDiagnosticLog(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv",
		"sku,name,price\n"+
			"A,Apple,1\n"+
			",NoSku,2\n"+
			"B,,3\n"+
			"C,Cherry,abc\n")

	c := newTestCoordinator(store, Options{})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 4, result.RowsRead)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []Diagnostic{
		{Line: 3, Reason: missingKeyReason},
		{Line: 4, Reason: missingKeyReason},
		{Line: 5, Reason: `price "abc" is not a number; using 0`},
	}, result.Diagnostics)

	require.Equal(t, path+DefaultLogSuffix, result.LogPath)
	content, err := os.ReadFile(result.LogPath)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "Source: "+path)
	assert.Contains(t, text, "Encoding: utf-8 (BOM: no)")
	assert.Contains(t, text, "Run: "+result.RunID)
	assert.Contains(t, text, "Timestamp: ")
	assert.Contains(t, text, "[Line 3] Missing SKU or Name; row skipped.\n")
	assert.Contains(t, text, "[Line 4] Missing SKU or Name; row skipped.\n")
	assert.Contains(t, text, "[Line 5] price \"abc\" is not a number; using 0\n")
}

func TestCoordinator_DiagnosticLogIsCapped(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	var b strings.Builder
	b.WriteString("sku,name\n")
	for i := 0; i < 5; i++ {
		b.WriteString(",missing\n")
	}
	path := writeFile(t, t.TempDir(), "products.csv", b.String())

	c := newTestCoordinator(store, Options{MaxLogLines: 2})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Skipped)
	assert.Equal(t, []Diagnostic{
		{Line: 2, Reason: missingKeyReason},
		{Line: 3, Reason: missingKeyReason},
	}, result.Diagnostics)
	assert.Equal(t, 3, result.DiagnosticsOmitted)
	assert.Equal(t, 5, result.DiagnosticCount())

	content, err := os.ReadFile(result.LogPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "[Line "))
	assert.Contains(t, string(content), "... 3 more diagnostics omitted\n")
}

func TestCoordinator_MissingRequiredHeaderRecordsOneDiagnostic(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "code,price\nA,1\nB,2\n")

	c := newTestCoordinator(store, Options{})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Zero(t, result.Inserted)
	require.NotEmpty(t, result.Diagnostics)
	assert.Equal(t, 1, result.Diagnostics[0].Line)
	assert.Contains(t, result.Diagnostics[0].Reason, "name")
	assert.NotContains(t, result.Diagnostics[0].Reason, "sku")
	assert.Empty(t, mustList(t, store))
}

func TestCoordinator_Windows1252File(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "sku,name,price\nC-1,Caf\xe9 cr\xe8me,\x80 4.20\n")

	c := newTestCoordinator(store, Options{})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "cp1252", result.Encoding)

	got, _, err := store.GetProductBySKU(context.Background(), "C-1")
	require.NoError(t, err)
	assert.Equal(t, "Café crème", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("4.2")))
}

func TestCoordinator_ExcelWorkbook(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeWorkbook(t, t.TempDir(), "products.xlsx",
		[]any{"Item Code", "Item Name", "Quantity"},
		[]any{"X-1", "Crate", 12},
	)

	c := newTestCoordinator(store, Options{})
	result, err := c.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, FormatExcel, result.Format)
	assert.Equal(t, "xlsx", result.Encoding)
	assert.Equal(t, 1, result.Inserted)

	got, _, err := store.GetProductBySKU(context.Background(), "X-1")
	require.NoError(t, err)
	assert.EqualValues(t, 12, got.Stock)
}

func TestCoordinator_EmptyFileFails(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "empty.csv", "\n\n")

	c := newTestCoordinator(store, Options{})
	_, err := c.Run(context.Background(), path)
	require.ErrorIs(t, err, ErrNoHeader)

	var importErr *ImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, StateSniffing, importErr.Stage)
	assert.Equal(t, StateFailed, c.State())
}

func TestCoordinator_MissingFileFailsWhileOpening(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(openTestStore(t), Options{})
	_, err := c.Run(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))

	var importErr *ImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, StateOpening, importErr.Stage)
}

// failingStore injects a store failure after a number of successful batches.
type failingStore struct {
	catalog.Store
	okBatches int
}

func (s *failingStore) BeginImport(ctx context.Context) (catalog.ImportTx, error) {
	tx, err := s.Store.BeginImport(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{ImportTx: tx, remaining: s.okBatches}, nil
}

type failingTx struct {
	catalog.ImportTx
	remaining int
}

var errInjected = errors.New("injected store failure")

func (t *failingTx) UpsertBatch(ctx context.Context, batch []catalog.Product) (catalog.BatchResult, error) {
	if t.remaining == 0 {
		return catalog.BatchResult{}, errInjected
	}
	t.remaining--
	return t.ImportTx.UpsertBatch(ctx, batch)
}

func TestCoordinator_FatalErrorRollsBackEverything(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	dir := t.TempDir()
	seed := writeFile(t, dir, "seed.csv", "sku,name,stock\nA,original,1\n")
	_, err := newTestCoordinator(store, Options{}).Run(context.Background(), seed)
	require.NoError(t, err)
	before := mustList(t, store)

	path := writeFile(t, dir, "big.csv", "sku,name,stock\nA,changed,9\nB,b,1\nC,c,1\nD,d,1\nE,e,1\n")
	c := newTestCoordinator(&failingStore{Store: store, okBatches: 2}, Options{BatchSize: 2})
	result, err := c.Run(context.Background(), path)
	require.ErrorIs(t, err, errInjected)
	assert.Nil(t, result)

	var importErr *ImportError
	require.ErrorAs(t, err, &importErr)
	assert.Equal(t, StateImporting, importErr.Stage)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, before, mustList(t, store))
}

func TestCoordinator_CancelledContextRollsBack(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "sku,name\nA,a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestCoordinator(store, Options{}).Run(ctx, path)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mustList(t, store))
}

// gatedStore blocks BeginImport until release is closed.
type gatedStore struct {
	catalog.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) BeginImport(ctx context.Context) (catalog.ImportTx, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.BeginImport(ctx)
}

func TestCoordinator_RejectsConcurrentImports(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "sku,name\nA,a\n")
	gate := &gatedStore{Store: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := newTestCoordinator(gate, Options{})
	ctx := context.Background()

	runID, done, err := c.Start(ctx, path)
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-gate.entered
	assert.True(t, c.Running())
	assert.Equal(t, StateOpening, c.State())

	_, err = c.Run(ctx, path)
	assert.ErrorIs(t, err, ErrImportInProgress)
	_, _, err = c.Start(ctx, path)
	assert.ErrorIs(t, err, ErrImportInProgress)

	close(gate.release)
	outcome := <-done
	require.NoError(t, outcome.Err)
	assert.Equal(t, runID, outcome.RunID)
	assert.Equal(t, runID, outcome.Result.RunID)
	assert.Equal(t, 1, outcome.Result.Inserted)
	_, open := <-done
	assert.False(t, open, "channel must be closed after the single outcome")

	assert.False(t, c.Running())
	assert.Same(t, outcome.Result, c.LastResult())
	go func() { <-gate.entered }()
	_, err = c.Run(ctx, path)
	assert.NoError(t, err)
}

func TestCoordinator_EditExcludesImports(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "sku,name\nA,a\n")
	c := newTestCoordinator(store, Options{})
	ctx := context.Background()

	var done <-chan Outcome
	err := c.Edit(func() error {
		var err error
		_, done, err = c.Start(ctx, path)
		require.NoError(t, err)

		select {
		case <-done:
			t.Fatalf("import finished while an edit held the catalog")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	require.NoError(t, err)

	outcome := <-done
	require.NoError(t, outcome.Err)
	assert.Equal(t, 1, outcome.Result.Inserted)

	called := false
	assert.NoError(t, c.Edit(func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

func TestCoordinator_EditRefusedWhileImportRuns(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	path := writeFile(t, t.TempDir(), "products.csv", "sku,name\nA,a\n")
	gate := &gatedStore{Store: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := newTestCoordinator(gate, Options{})

	_, done, err := c.Start(context.Background(), path)
	require.NoError(t, err)
	<-gate.entered

	err = c.Edit(func() error {
		t.Fatalf("edit ran during an import")
		return nil
	})
	assert.ErrorIs(t, err, ErrImportInProgress)

	close(gate.release)
	require.NoError(t, (<-done).Err)
}
