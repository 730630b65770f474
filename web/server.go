// Package web serves a localhost-only single-user JSON API over the catalog;
// it intentionally has no auth/CSRF protection in this mode.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"prodcat/catalog"
	"prodcat/importer"
	"prodcat/output"
	"prodcat/thumbnail"
	"prodcat/view"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const maxUploadMemory = 32 << 20

type Server struct {
	store   catalog.Store
	imports *importer.Coordinator
	thumbs  *thumbnail.Cache
	mux     *http.ServeMux

	// viewMu serializes filter/sort/page sequences on the shared model.
	viewMu sync.Mutex
	model  *view.Model

	statusMu  sync.RWMutex
	lastRunID string
	lastError string
}

type productResponse struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Stock        int64           `json:"stock"`
	Category     string          `json:"category"`
	Status       string          `json:"status"`
	ImagePath    string          `json:"image_path"`
	Description  string          `json:"description"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
}

type productPageResponse struct {
	Products   []productResponse `json:"products"`
	Query      string            `json:"query"`
	Sort       string            `json:"sort"`
	Desc       bool              `json:"desc"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
	Filtered   int               `json:"filtered"`
	Total      int               `json:"total"`
}

// productPatchRequest carries the fields to change; omitted fields keep
// their stored value. The SKU is the merge key and cannot be edited.
type productPatchRequest struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int64           `json:"stock"`
	Category    *string          `json:"category"`
	Status      *string          `json:"status"`
	ImagePath   *string          `json:"image_path"`
	Description *string          `json:"description"`
}

type importStartResponse struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
}

type importResultResponse struct {
	RunID       string   `json:"run_id"`
	Source      string   `json:"source"`
	Format      string   `json:"format"`
	Encoding    string   `json:"encoding"`
	Dialect     string   `json:"dialect"`
	RowsRead    int      `json:"rows_read"`
	Inserted    int      `json:"inserted"`
	Updated     int      `json:"updated"`
	Skipped     int      `json:"skipped"`
	Mode        string   `json:"mode"`
	Elapsed     string   `json:"elapsed"`
	LogPath     string   `json:"log_path,omitempty"`
	Diagnostics []string `json:"diagnostics"`
	Omitted     int      `json:"diagnostics_omitted"`
}

type importStatusResponse struct {
	State     string                `json:"state"`
	Running   bool                  `json:"running"`
	LastRunID string                `json:"last_run_id,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	Last      *importResultResponse `json:"last,omitempty"`
}

// NewServer wires the API routes. Call Reload before serving so the view
// model holds the current catalog.
func NewServer(store catalog.Store, imports *importer.Coordinator, model *view.Model, thumbs *thumbnail.Cache) *Server {
	server := &Server{
		store:   store,
		imports: imports,
		thumbs:  thumbs,
		model:   model,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/products", server.handleAPIProducts)
	mux.HandleFunc("GET /api/products/{sku}", server.handleAPIProduct)
	mux.HandleFunc("PATCH /api/products/{sku}", server.handleAPIProductPatch)
	mux.HandleFunc("DELETE /api/products/{sku}", server.handleAPIProductDelete)
	mux.HandleFunc("GET /api/products/{sku}/thumbnail", server.handleAPIThumbnail)
	mux.HandleFunc("POST /api/import", server.handleAPIImport)
	mux.HandleFunc("GET /api/import/status", server.handleAPIImportStatus)
	mux.HandleFunc("GET /api/export", server.handleAPIExport)
	mux.HandleFunc("GET /api/summary", server.handleAPISummary)
	server.mux = mux

	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Reload replaces the view model snapshot with the store's current rows.
func (s *Server) Reload(ctx context.Context) error {
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.model.Reload(products)
	return nil
}

func (s *Server) handleAPIProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := parseNonNegativeInt(query.Get("page"))
	if err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid page_size", http.StatusBadRequest)
			return
		}
		if err := s.model.SetPageSize(size); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := s.applyView(query); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows := s.model.Page(page)
	field, desc := s.model.Sort()
	resp := productPageResponse{
		Products:   make([]productResponse, 0, len(rows)),
		Query:      s.model.Query(),
		Sort:       field,
		Desc:       desc,
		Page:       s.model.CurrentPage(),
		PageSize:   s.model.PageSize(),
		TotalPages: s.model.TotalPages(),
		Filtered:   s.model.Len(),
		Total:      s.model.Total(),
	}
	for _, p := range rows {
		resp.Products = append(resp.Products, newProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIProduct(w http.ResponseWriter, r *http.Request) {
	product, ok := s.lookupProduct(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newProductResponse(product))
}

func (s *Server) handleAPIProductPatch(w http.ResponseWriter, r *http.Request) {
	var body productPatchRequest
	if err := decodeJSON(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var updated catalog.Product
	err := s.imports.Edit(func() error {
		existing, err := s.findProduct(r)
		if err != nil {
			return err
		}
		updated = body.apply(existing)
		if err := updated.Validate(); err != nil {
			return &httpError{status: http.StatusBadRequest, err: err}
		}
		if err := s.store.UpdateProduct(r.Context(), updated); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return nil
	})
	if err != nil {
		writeEditError(w, err)
		return
	}

	s.afterEdit(r.Context(), updated.ID)
	writeJSON(w, http.StatusOK, newProductResponse(updated))
}

func (s *Server) handleAPIProductDelete(w http.ResponseWriter, r *http.Request) {
	var id int64
	err := s.imports.Edit(func() error {
		existing, err := s.findProduct(r)
		if err != nil {
			return err
		}
		deleted, err := s.store.DeleteProduct(r.Context(), existing.ID)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		if !deleted {
			return catalog.ErrProductNotFound
		}
		id = existing.ID
		return nil
	})
	if err != nil {
		writeEditError(w, err)
		return
	}

	s.afterEdit(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// httpError carries a client error status out of an edit.
type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }

func (e *httpError) Unwrap() error { return e.err }

func writeEditError(w http.ResponseWriter, err error) {
	var clientErr *httpError
	switch {
	case errors.Is(err, importer.ErrImportInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, catalog.ErrProductNotFound):
		http.Error(w, "product not found", http.StatusNotFound)
	case errors.As(err, &clientErr):
		http.Error(w, clientErr.Error(), clientErr.status)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleAPIThumbnail(w http.ResponseWriter, r *http.Request) {
	product, ok := s.lookupProduct(w, r)
	if !ok {
		return
	}
	if s.thumbs == nil {
		http.Error(w, thumbnail.ErrNoImage.Error(), http.StatusNotFound)
		return
	}

	data, err := s.thumbs.Get(r.Context(), product)
	if err != nil {
		if errors.Is(err, thumbnail.ErrNoImage) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("render thumbnail: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleAPIImport accepts a multipart "file" upload or a "path" form value
// naming a file on the server host, and starts a background import.
func (s *Server) handleAPIImport(w http.ResponseWriter, r *http.Request) {
	if s.imports.Running() {
		http.Error(w, importer.ErrImportInProgress.Error(), http.StatusConflict)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, fmt.Sprintf("parse multipart form: %v", err), http.StatusBadRequest)
		return
	}

	source := strings.TrimSpace(r.FormValue("path"))
	cleanup := func() {}
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		tmpPath, err := saveUpload(file, header.Filename)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		source = tmpPath
		cleanup = func() { _ = os.Remove(tmpPath) }
	case source == "":
		http.Error(w, "missing file upload or path", http.StatusBadRequest)
		return
	}

	// Held across Start so a fast failing run cannot record its error before
	// the previous one is cleared.
	s.statusMu.Lock()
	// The run outlives the request, so it must not inherit its cancellation.
	runID, done, err := s.imports.Start(context.WithoutCancel(r.Context()), source)
	if err != nil {
		s.statusMu.Unlock()
		cleanup()
		if errors.Is(err, importer.ErrImportInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("start import: %v", err), http.StatusInternalServerError)
		return
	}

	s.lastRunID = runID
	s.lastError = ""
	s.statusMu.Unlock()

	go s.awaitImport(done, cleanup)

	writeJSON(w, http.StatusAccepted, importStartResponse{RunID: runID, Source: source})
}

func (s *Server) awaitImport(done <-chan importer.Outcome, cleanup func()) {
	outcome := <-done
	cleanup()

	if outcome.Err != nil {
		s.statusMu.Lock()
		s.lastError = outcome.Err.Error()
		s.statusMu.Unlock()
		return
	}

	if err := s.Reload(context.Background()); err != nil {
		log.Warn().Err(err).Str("run_id", outcome.RunID).Msg("reload view after import")
	}
}

func (s *Server) handleAPIImportStatus(w http.ResponseWriter, r *http.Request) {
	resp := importStatusResponse{
		State:   s.imports.State().String(),
		Running: s.imports.Running(),
	}

	s.statusMu.RLock()
	resp.LastRunID = s.lastRunID
	resp.LastError = s.lastError
	s.statusMu.RUnlock()

	if last := s.imports.LastResult(); last != nil {
		resp.Last = newImportResultResponse(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIExport(w http.ResponseWriter, r *http.Request) {
	writer, err := output.WriterForFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	products, err := s.exportRows(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", writer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "products"+writer.Extension()))
	if err := writer.Write(w, products); err != nil {
		log.Error().Err(err).Msg("write export")
	}
}

func (s *Server) handleAPISummary(w http.ResponseWriter, r *http.Request) {
	products, err := s.filtered(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	summaries := output.BuildCategorySummaries(products)

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" || format == "json" {
		writeJSON(w, http.StatusOK, summaries)
		return
	}

	writer, err := output.WriterForFormat(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", writer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "summary"+writer.Extension()))
	if err := output.WriteCategorySummaries(w, format, summaries); err != nil {
		log.Error().Err(err).Msg("write category summary")
	}
}

// filtered applies the request's query and sort to the shared model and
// returns every matching row across pages.
func (s *Server) filtered(query url.Values) ([]catalog.Product, error) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	if err := s.applyView(query); err != nil {
		return nil, err
	}
	return s.model.Filtered(), nil
}

// exportRows returns one page when the query names page or page_size, and
// the whole filtered set otherwise.
func (s *Server) exportRows(query url.Values) ([]catalog.Product, error) {
	rawPage := strings.TrimSpace(query.Get("page"))
	rawSize := strings.TrimSpace(query.Get("page_size"))
	if rawPage == "" && rawSize == "" {
		return s.filtered(query)
	}

	page, err := parseNonNegativeInt(rawPage)
	if err != nil {
		return nil, fmt.Errorf("invalid page: %w", err)
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()

	if rawSize != "" {
		size, err := strconv.Atoi(rawSize)
		if err != nil {
			return nil, fmt.Errorf("invalid page_size %q", rawSize)
		}
		if err := s.model.SetPageSize(size); err != nil {
			return nil, err
		}
	}
	if err := s.applyView(query); err != nil {
		return nil, err
	}
	return s.model.Page(page), nil
}

// applyView must be called with viewMu held.
func (s *Server) applyView(query url.Values) error {
	s.model.ApplyFilter(query.Get("q"))

	field := strings.TrimSpace(query.Get("sort"))
	if field == "" {
		return nil
	}
	desc := false
	if raw := strings.TrimSpace(query.Get("desc")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid desc value %q", raw)
		}
		desc = parsed
	}
	return s.model.SetSort(field, desc)
}

func (s *Server) lookupProduct(w http.ResponseWriter, r *http.Request) (catalog.Product, bool) {
	product, err := s.findProduct(r)
	if err != nil {
		writeEditError(w, err)
		return catalog.Product{}, false
	}
	return product, true
}

func (s *Server) findProduct(r *http.Request) (catalog.Product, error) {
	sku := strings.TrimSpace(r.PathValue("sku"))
	if sku == "" {
		return catalog.Product{}, &httpError{status: http.StatusBadRequest, err: errors.New("missing sku")}
	}

	product, found, err := s.store.GetProductBySKU(r.Context(), sku)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product: %w", err)
	}
	if !found {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return product, nil
}

func (s *Server) afterEdit(ctx context.Context, id int64) {
	if s.thumbs != nil {
		if err := s.thumbs.Invalidate(id); err != nil {
			log.Warn().Err(err).Int64("product_id", id).Msg("invalidate thumbnail")
		}
	}
	if err := s.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("reload view after edit")
	}
}

func (b productPatchRequest) apply(p catalog.Product) catalog.Product {
	if b.Name != nil {
		p.Name = strings.TrimSpace(*b.Name)
	}
	if b.Price != nil {
		p.Price = *b.Price
	}
	if b.Stock != nil {
		p.Stock = *b.Stock
	}
	if b.Category != nil {
		p.Category = strings.TrimSpace(*b.Category)
	}
	if b.Status != nil {
		p.Status = strings.TrimSpace(*b.Status)
	}
	if b.ImagePath != nil {
		p.ImagePath = strings.TrimSpace(*b.ImagePath)
	}
	if b.Description != nil {
		p.Description = *b.Description
	}
	return p
}

func newProductResponse(p catalog.Product) productResponse {
	resp := productResponse{
		ID:          p.ID,
		SKU:         p.SKU,
		Name:        p.Name,
		Price:       p.Price,
		Stock:       p.Stock,
		Category:    p.Category,
		Status:      p.Status,
		ImagePath:   p.ImagePath,
		Description: p.Description,
	}
	if p.ImagePath != "" {
		resp.ThumbnailURL = "/api/products/" + url.PathEscape(p.SKU) + "/thumbnail"
	}
	return resp
}

func newImportResultResponse(result *importer.Result) *importResultResponse {
	resp := &importResultResponse{
		RunID:       result.RunID,
		Source:      result.Source,
		Format:      result.Format,
		Encoding:    result.Encoding,
		Dialect:     result.Dialect.String(),
		RowsRead:    result.RowsRead,
		Inserted:    result.Inserted,
		Updated:     result.Updated,
		Skipped:     result.Skipped,
		Mode:        result.Mode,
		Elapsed:     result.Elapsed.Round(time.Millisecond).String(),
		LogPath:     result.LogPath,
		Diagnostics: make([]string, 0, len(result.Diagnostics)),
		Omitted:     result.DiagnosticsOmitted,
	}
	for _, diagnostic := range result.Diagnostics {
		resp.Diagnostics = append(resp.Diagnostics, diagnostic.String())
	}
	return resp
}

func saveUpload(file io.Reader, filename string) (string, error) {
	tmp, err := os.CreateTemp("", tempUploadPattern(filename))
	if err != nil {
		return "", fmt.Errorf("create temp upload: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close upload temp file: %w", err)
	}
	return tmpPath, nil
}

func parseNonNegativeInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid non-negative integer %q", value)
	}
	return parsed, nil
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func tempUploadPattern(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." {
		return "upload-*"
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "upload"
	}
	if ext == "" {
		return stem + "-*"
	}
	return stem + "-*" + ext
}
