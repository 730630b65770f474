package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"prodcat/importer"
	"prodcat/thumbnail"
	"prodcat/view"
	"prodcat/web"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultAPIPath = "/api/products"

var (
	servePort   int
	serveDBPath string
	serveOpen   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local JSON API for browsing, editing and importing products",
	Long: `Start a local HTTP server exposing the catalog as JSON.

Endpoints:
- GET    /api/products?q=&sort=&desc=&page=&page_size=
- GET    /api/products/{sku}
- PATCH  /api/products/{sku}
- DELETE /api/products/{sku}
- GET    /api/products/{sku}/thumbnail
- POST   /api/import            (multipart "file" or form "path")
- GET    /api/import/status
- GET    /api/export?format=csv|excel
- GET    /api/summary?format=json|csv|excel

Imports run in the background; edits and deletes are rejected with 409 while one runs.`,
	Example: `
  # Start local server on the configured port
  prodcat serve

  # Start with explicit db and custom port
  prodcat serve --port 9090 --db ./products.db
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		store, err := openStore(cfg, serveDBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		thumbs := thumbnail.NewCache(filepath.Clean(cfg.Thumbnail.CacheDir), cfg.Thumbnail.MaxSize, cfg.Thumbnail.FetchTimeout)
		api := web.NewServer(
			store,
			importer.NewCoordinator(store, importOptions(cfg, "")),
			view.NewModel(cfg.View.PageSize),
			thumbs,
		)
		if err := api.Reload(cmd.Context()); err != nil {
			return err
		}

		addr := fmt.Sprintf("127.0.0.1:%d", port)
		server := &http.Server{
			Addr:              addr,
			Handler:           withRootRedirect(api, defaultAPIPath),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()

		listenURL := fmt.Sprintf("http://localhost:%d", port)
		log.Info().Str("addr", addr).Msg("api listening")
		fmt.Printf("Listening on %s\n", listenURL)
		if serveOpen {
			if openErr := openURLInBrowser(listenURL + defaultAPIPath); openErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to open browser: %v\n", openErr)
			}
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-sigCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			err := <-errCh
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port for the local API (overrides server.port)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "Path to the catalog database (overrides database.dsn)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the product listing in a browser")
}

func withRootRedirect(next http.Handler, target string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func openURLInBrowser(rawURL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.Command("xdg-open", rawURL)
	}
	return cmd.Start()
}
