package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prodcat/catalog"
	"prodcat/importer"
	"prodcat/output"
	"prodcat/storage"
	"prodcat/thumbnail"
	"prodcat/view"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedCSV = "sku,name,price,stock,category\n" +
	"ABC-1,Widget,12.50,7,tools\n" +
	"ABC-2,Gadget,3,0,tools\n" +
	"QQ-1,Apple,0.5,100,fruit\n"

type testEnv struct {
	store   *storage.Store
	imports *importer.Coordinator
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, store catalog.Store, base *storage.Store) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	imports := importer.NewCoordinator(store, importer.Options{Logger: &logger})
	thumbs := thumbnail.NewCache(filepath.Join(t.TempDir(), "thumbs"), 64, time.Second)
	server := NewServer(store, imports, view.NewModel(2), thumbs)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return &testEnv{store: base, imports: imports, server: server, http: ts}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seededEnv(t *testing.T) *testEnv {
	t.Helper()

	store := openTestStore(t)
	env := newTestEnv(t, store, store)

	path := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(seedCSV), 0o644))
	_, err := env.imports.Run(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, env.server.Reload(context.Background()))
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	resp := e.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// poll is safe to call from Eventually conditions, which run on another goroutine.
func (e *testEnv) poll(path string, out any) bool {
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(out) == nil
}

func pageSKUs(page productPageResponse) []string {
	out := make([]string, 0, len(page.Products))
	for _, p := range page.Products {
		out = append(out, p.SKU)
	}
	return out
}

func TestServer_ListProductsFiltersSortsAndPaginates(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	var page productPageResponse
	env.getJSON(t, "/api/products", &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 2, page.PageSize)
	assert.Len(t, page.Products, 2)

	page = productPageResponse{}
	env.getJSON(t, "/api/products?q=TOOLS&sort=price&desc=true&page_size=1&page=1", &page)
	assert.Equal(t, "TOOLS", page.Query)
	assert.Equal(t, catalog.FieldPrice, page.Sort)
	assert.True(t, page.Desc)
	assert.Equal(t, 2, page.Filtered)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, []string{"ABC-2"}, pageSKUs(page))

	page = productPageResponse{}
	env.getJSON(t, "/api/products?q=tools&page_size=1&page=99", &page)
	assert.Equal(t, 1, page.Page, "page clamps to the last page")
}

func TestServer_ListProductsRejectsBadParameters(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	for _, query := range []string{"page=-1", "page=x", "page_size=0", "sort=colour", "sort=sku&desc=maybe"} {
		resp := env.do(t, http.MethodGet, "/api/products?"+query, nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestServer_GetProduct(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	var got productResponse
	env.getJSON(t, "/api/products/ABC-1", &got)
	assert.Equal(t, "Widget", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("12.5")))
	assert.EqualValues(t, 7, got.Stock)
	assert.Empty(t, got.ThumbnailURL)

	resp := env.do(t, http.MethodGet, "/api/products/NOPE", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_PatchProductUpdatesStoreAndView(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	resp := env.do(t, http.MethodPatch, "/api/products/ABC-1",
		strings.NewReader(`{"name":"Widget XL","price":"15.25","stock":3}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, ok, err := env.store.GetProductBySKU(context.Background(), "ABC-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Widget XL", stored.Name)
	assert.True(t, stored.Price.Equal(decimal.RequireFromString("15.25")))
	assert.EqualValues(t, 3, stored.Stock)
	assert.Equal(t, "tools", stored.Category, "omitted fields keep their value")

	var page productPageResponse
	env.getJSON(t, "/api/products?q=xl", &page)
	assert.Equal(t, []string{"ABC-1"}, pageSKUs(page))
}

func TestServer_PatchProductRejectsInvalidBodies(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	for _, body := range []string{
		`{"name":"   "}`,
		`{"price":"-1"}`,
		`{"price":"10000000000000"}`,
		`{"sku":"OTHER"}`,
		`{"name":"a"}{"name":"b"}`,
	} {
		resp := env.do(t, http.MethodPatch, "/api/products/ABC-1", strings.NewReader(body), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	resp := env.do(t, http.MethodPatch, "/api/products/NOPE", strings.NewReader(`{"name":"x"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_DeleteProduct(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	resp := env.do(t, http.MethodDelete, "/api/products/ABC-2", nil, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/products/ABC-2", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var page productPageResponse
	env.getJSON(t, "/api/products", &page)
	assert.Equal(t, 2, page.Total)

	resp = env.do(t, http.MethodDelete, "/api/products/ABC-2", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ImportUploadRunsInBackground(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	env := newTestEnv(t, store, store)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "products.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(seedCSV + ",No SKU,1,1,x\n"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	resp := env.do(t, http.MethodPost, "/api/import", &body, form.FormDataContentType())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started importStartResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	require.NotEmpty(t, started.RunID)

	require.Eventually(t, func() bool {
		var page productPageResponse
		return env.poll("/api/products", &page) && page.Total == 3
	}, 5*time.Second, 20*time.Millisecond, "view reloads after the import completes")

	var status importStatusResponse
	env.getJSON(t, "/api/import/status", &status)
	assert.False(t, status.Running)
	assert.Equal(t, importer.StateDone.String(), status.State)
	assert.Equal(t, started.RunID, status.LastRunID)
	assert.Empty(t, status.LastError)
	require.NotNil(t, status.Last)
	assert.Equal(t, started.RunID, status.Last.RunID)
	assert.Equal(t, 4, status.Last.RowsRead)
	assert.Equal(t, 3, status.Last.Inserted)
	assert.Equal(t, 1, status.Last.Skipped)
	assert.Equal(t, catalog.ModeUpsert, status.Last.Mode)
	assert.Equal(t, []string{"[Line 5] Missing SKU or Name; row skipped."}, status.Last.Diagnostics)
	t.Cleanup(func() { _ = os.Remove(status.Last.LogPath) })

	_, err = os.Stat(started.Source)
	assert.True(t, os.IsNotExist(err), "uploaded temp file is removed after the run")
}

func TestServer_ImportFailureIsReportedInStatus(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	env := newTestEnv(t, store, store)

	form := url.Values{"path": {filepath.Join(t.TempDir(), "missing.csv")}}
	resp := env.do(t, http.MethodPost, "/api/import", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var status importStatusResponse
		return env.poll("/api/import/status", &status) && !status.Running && status.LastError != ""
	}, 5*time.Second, 20*time.Millisecond)

	var status importStatusResponse
	env.getJSON(t, "/api/import/status", &status)
	assert.Equal(t, importer.StateFailed.String(), status.State)
	assert.Contains(t, status.LastError, "opening")
	assert.Nil(t, status.Last)
}

func TestServer_ImportRequiresSource(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	env := newTestEnv(t, store, store)

	resp := env.do(t, http.MethodPost, "/api/import", strings.NewReader(""), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

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

func TestServer_RejectsWritesWhileImportRuns(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	gate := &gatedStore{Store: store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	env := newTestEnv(t, gate, store)

	path := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(seedCSV), 0o644))
	form := url.Values{"path": {path}}.Encode()

	resp := env.do(t, http.MethodPost, "/api/import", strings.NewReader(form), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-gate.entered

	resp = env.do(t, http.MethodPost, "/api/import", strings.NewReader(form), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = env.do(t, http.MethodPatch, "/api/products/ABC-1", strings.NewReader(`{"name":"x"}`), "application/json")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/products/ABC-1", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var status importStatusResponse
	env.getJSON(t, "/api/import/status", &status)
	assert.True(t, status.Running)

	close(gate.release)
	require.Eventually(t, func() bool { return !env.imports.Running() }, 5*time.Second, 10*time.Millisecond)

	resp = env.do(t, http.MethodDelete, "/api/products/ABC-1", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_ExportWritesFilteredSet(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	resp := env.do(t, http.MethodGet, "/api/export?format=csv&q=tools&sort=sku&desc=true", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "products.csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"sku,name,price,stock,category,status,image_path,description\n"+
			"ABC-2,Gadget,3,0,tools,,,\n"+
			"ABC-1,Widget,12.5,7,tools,,,\n",
		string(body))

	resp = env.do(t, http.MethodGet, "/api/export?format=pdf", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ExportWritesRequestedPage(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	resp := env.do(t, http.MethodGet, "/api/export?format=csv&sort=sku&page=1&page_size=2", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t,
		"sku,name,price,stock,category,status,image_path,description\n"+
			"QQ-1,Apple,0.5,100,fruit,,,\n",
		string(body))

	var page productPageResponse
	env.getJSON(t, "/api/products?sort=sku&page=0&page_size=2", &page)
	resp = env.do(t, http.MethodGet, "/api/export?format=csv&sort=sku&page=0&page_size=2", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 1+len(page.Products))
	for i, p := range page.Products {
		assert.True(t, strings.HasPrefix(lines[i+1], p.SKU+","), "row %d matches the visible page", i)
	}

	resp = env.do(t, http.MethodGet, "/api/export?format=csv&page=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/export?format=csv&page_size=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SummaryGroupsByCategory(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	var summaries []output.CategorySummary
	env.getJSON(t, "/api/summary", &summaries)
	require.Len(t, summaries, 2)
	assert.Equal(t, "fruit", summaries[0].Category)
	assert.Equal(t, "tools", summaries[1].Category)
	assert.Equal(t, 2, summaries[1].Products)
	assert.Equal(t, 1, summaries[1].OutOfStock)

	resp := env.do(t, http.MethodGet, "/api/summary?format=csv", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "Category,Products,"))
}

func TestServer_Thumbnail(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	resp := env.do(t, http.MethodGet, "/api/products/ABC-1/thumbnail", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no image path")

	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		img.Set(x, 50, color.NRGBA{R: 255, A: 255})
	}
	imagePath := filepath.Join(t.TempDir(), "widget.png")
	file, err := os.Create(imagePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())

	patch, err := json.Marshal(map[string]string{"image_path": imagePath})
	require.NoError(t, err)
	resp = env.do(t, http.MethodPatch, "/api/products/ABC-1", bytes.NewReader(patch), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated productResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, "/api/products/ABC-1/thumbnail", updated.ThumbnailURL)

	resp = env.do(t, http.MethodGet, updated.ThumbnailURL, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}), "jpeg magic")
}

func writeTestPNG(t *testing.T, width, height int, fill color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	path := filepath.Join(t.TempDir(), "image.png")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(file, img))
	require.NoError(t, file.Close())
	return path
}

func TestServer_ThumbnailFollowsImportedImagePath(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	env := newTestEnv(t, store, store)
	ctx := context.Background()

	importImage := func(imagePath string) []byte {
		t.Helper()
		path := filepath.Join(t.TempDir(), "products.csv")
		csv := "sku,name,image_path\nA,Widget," + imagePath + "\n"
		require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
		_, err := env.imports.Run(ctx, path)
		require.NoError(t, err)
		require.NoError(t, env.server.Reload(ctx))

		resp := env.do(t, http.MethodGet, "/api/products/A/thumbnail", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return data
	}

	red := importImage(writeTestPNG(t, 200, 100, color.NRGBA{R: 255, A: 255}))
	blue := importImage(writeTestPNG(t, 100, 200, color.NRGBA{B: 255, A: 255}))
	require.NotEqual(t, red, blue, "re-import with a new image path serves a new thumbnail")

	img, err := jpeg.Decode(bytes.NewReader(blue))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestTempUploadPattern(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"products.csv":        "products-*.csv",
		"../../etc/items.xlsx": "items-*.xlsx",
		"":                    "upload-*",
		".csv":                "upload-*.csv",
		"noext":               "noext-*",
	}
	for in, want := range tests {
		if got := tempUploadPattern(in); got != want {
			t.Fatalf("tempUploadPattern(%q): want %q, got %q", in, want, got)
		}
	}
}
