package cmd

import (
	"strings"

	"prodcat/config"
	"prodcat/importer"
	"prodcat/storage"
)

// openStore opens the configured catalog database. A non-empty dbPath
// overrides the configured DSN.
func openStore(cfg *config.Config, dbPath string) (*storage.Store, error) {
	dsn := cfg.Database.DSN
	if strings.TrimSpace(dbPath) != "" {
		dsn = dbPath
	}
	return storage.Open(cfg.Database.Driver, dsn, storage.WithForcedFallback(cfg.Import.ForceFallback))
}

func importOptions(cfg *config.Config, format string) importer.Options {
	return importer.Options{
		Format:      format,
		BatchSize:   cfg.Import.BatchSize,
		MaxLogLines: cfg.Import.MaxLogLines,
		LogSuffix:   cfg.Import.LogSuffix,
		Synonyms:    cfg.Import.Synonyms,
	}
}
