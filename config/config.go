package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	KeyDatabaseDriver        = "database.driver"
	KeyDatabaseDSN           = "database.dsn"
	KeyImportBatchSize       = "import.batch_size"
	KeyImportMaxLogLines     = "import.max_log_lines"
	KeyImportLogSuffix       = "import.log_suffix"
	KeyImportForceFallback   = "import.force_fallback"
	KeyImportSynonyms        = "import.synonyms"
	KeyViewPageSize          = "view.page_size"
	KeyThumbnailCacheDir     = "thumbnail.cache_dir"
	KeyThumbnailMaxSize      = "thumbnail.max_size"
	KeyThumbnailFetchTimeout = "thumbnail.fetch_timeout"
	KeyServerPort            = "server.port"
	KeyLogLevel              = "log.level"
	KeyLogFormat             = "log.format"
)

// Canonical catalog fields that may receive extra header synonyms.
var synonymTargets = []string{"sku", "name", "price", "stock", "category", "status", "image_path", "description"}

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Import    ImportConfig    `mapstructure:"import"`
	View      ViewConfig      `mapstructure:"view"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type ImportConfig struct {
	BatchSize     int                 `mapstructure:"batch_size" validate:"min=1,max=10000"`
	MaxLogLines   int                 `mapstructure:"max_log_lines" validate:"min=1"`
	LogSuffix     string              `mapstructure:"log_suffix" validate:"required"`
	ForceFallback bool                `mapstructure:"force_fallback"`
	Synonyms      map[string][]string `mapstructure:"synonyms"`
}

type ViewConfig struct {
	PageSize int `mapstructure:"page_size" validate:"min=1,max=1000"`
}

type ThumbnailConfig struct {
	CacheDir     string        `mapstructure:"cache_dir" validate:"required"`
	MaxSize      int           `mapstructure:"max_size" validate:"min=16,max=2048"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

// SetDefaults sets default values if not provided
func SetDefaults() {
	setDefaults(viper.GetViper())
}

// LoadAndValidate loads config from Viper and validates it
func LoadAndValidate() (*Config, error) {
	return loadAndValidateFromViper(viper.GetViper())
}

// ValidateYAMLContent validates configuration from raw YAML content.
func ValidateYAMLContent(content []byte) (*Config, error) {
	local := viper.New()
	setDefaults(local)
	local.SetConfigType("yaml")
	if err := local.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("read config content: %w", err)
	}
	return loadAndValidateFromViper(local)
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	return `# prodcat configuration
database:
  driver: "sqlite"
  dsn: "./products.db"

import:
  batch_size: 500
  max_log_lines: 10000
  log_suffix: ".import.log"
  force_fallback: false
  # Extra source headers per catalog field, matched after normalization.
  synonyms: {}

view:
  page_size: 12

thumbnail:
  cache_dir: "cache/thumbnails"
  max_size: 120
  fetch_timeout: "5s"

server:
  port: 8080

log:
  level: "info"
  format: "console"
`
}

func loadAndValidateFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := validateSynonyms(cfg.Import.Synonyms); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDatabaseDriver, "sqlite")
	v.SetDefault(KeyDatabaseDSN, "./products.db")
	v.SetDefault(KeyImportBatchSize, 500)
	v.SetDefault(KeyImportMaxLogLines, 10000)
	v.SetDefault(KeyImportLogSuffix, ".import.log")
	v.SetDefault(KeyImportForceFallback, false)
	v.SetDefault(KeyImportSynonyms, map[string][]string{})
	v.SetDefault(KeyViewPageSize, 12)
	v.SetDefault(KeyThumbnailCacheDir, "cache/thumbnails")
	v.SetDefault(KeyThumbnailMaxSize, 120)
	v.SetDefault(KeyThumbnailFetchTimeout, 5*time.Second)
	v.SetDefault(KeyServerPort, 8080)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

func validateSynonyms(synonyms map[string][]string) error {
	valid := make(map[string]bool, len(synonymTargets))
	for _, target := range synonymTargets {
		valid[target] = true
	}

	fields := make([]string, 0, len(synonyms))
	for field := range synonyms {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if !valid[strings.ToLower(field)] {
			return fmt.Errorf(
				"validation failed: import.synonyms.%s is not a catalog field (valid: %s)",
				field,
				strings.Join(synonymTargets, ", "),
			)
		}
		for i, header := range synonyms[field] {
			if strings.TrimSpace(header) == "" {
				return fmt.Errorf("validation failed: import.synonyms.%s[%d] must not be empty", field, i)
			}
		}
	}
	return nil
}
