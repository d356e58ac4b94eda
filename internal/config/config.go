// Package config loads stoneshop settings from a TOML or YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr       = ":8080"
	DefaultDBPath     = "stoneshop.sqlite3"
	DefaultAdminUser  = "Admin"
	DefaultPolicy     = "v2"
	DefaultUpdateMode = "merge"

	DefaultBackend           = "local"
	DefaultLocalRoot         = "photos"
	DefaultDeleteConcurrency = 4

	DefaultMaxUploadBytes  int64 = 32 * 1024 * 1024
	DefaultMultipartMemory int64 = 8 * 1024 * 1024
)

// EnvConfigPath names a config file when --config is not given.
const EnvConfigPath = "STONESHOP_CONFIG"

type LogConfig struct {
	Level string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	File  string `toml:"file" yaml:"file"`
}

type AuthConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	AdminUser string `toml:"admin_user" yaml:"admin_user" validate:"required"`
}

type WorkflowConfig struct {
	Policy string `toml:"policy" yaml:"policy" validate:"oneof=v1 v2"`
}

type ItemsConfig struct {
	// StrictUpdate makes updates of missing items fail with not found.
	StrictUpdate bool `toml:"strict_update" yaml:"strict_update"`
	// UpdateMode is "merge" (only sent fields change) or "replace".
	UpdateMode string `toml:"update_mode" yaml:"update_mode" validate:"oneof=merge replace"`
}

type S3Config struct {
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Region    string `toml:"region" yaml:"region"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
}

type AttachmentsConfig struct {
	Backend           string   `toml:"backend" yaml:"backend" validate:"oneof=local s3"`
	LocalRoot         string   `toml:"local_root" yaml:"local_root"`
	MaxUploadBytes    int64    `toml:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gte=0"`
	MultipartMemory   int64    `toml:"multipart_memory" yaml:"multipart_memory" validate:"gt=0"`
	DeleteConcurrency int      `toml:"delete_concurrency" yaml:"delete_concurrency" validate:"gte=1,lte=64"`
	S3                S3Config `toml:"s3" yaml:"s3"`
}

// Config is the full runtime configuration.
type Config struct {
	Addr        string            `toml:"addr" yaml:"addr" validate:"required"`
	DBPath      string            `toml:"db_path" yaml:"db_path" validate:"required"`
	Log         LogConfig         `toml:"log" yaml:"log"`
	Auth        AuthConfig        `toml:"auth" yaml:"auth"`
	Workflow    WorkflowConfig    `toml:"workflow" yaml:"workflow"`
	Items       ItemsConfig       `toml:"items" yaml:"items"`
	Attachments AttachmentsConfig `toml:"attachments" yaml:"attachments"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Addr:   DefaultAddr,
		DBPath: DefaultDBPath,
		Auth: AuthConfig{
			Enabled:   true,
			AdminUser: DefaultAdminUser,
		},
		Workflow: WorkflowConfig{Policy: DefaultPolicy},
		Items:    ItemsConfig{UpdateMode: DefaultUpdateMode},
		Attachments: AttachmentsConfig{
			Backend:           DefaultBackend,
			LocalRoot:         DefaultLocalRoot,
			MaxUploadBytes:    DefaultMaxUploadBytes,
			MultipartMemory:   DefaultMultipartMemory,
			DeleteConcurrency: DefaultDeleteConcurrency,
		},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// falls back to $STONESHOP_CONFIG, and then to defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateAttachments, AttachmentsConfig{})
	return v
}

// validateAttachments requires the S3 settings only when S3 is selected.
func validateAttachments(sl validator.StructLevel) {
	a := sl.Current().Interface().(AttachmentsConfig)
	switch a.Backend {
	case "local":
		if strings.TrimSpace(a.LocalRoot) == "" {
			sl.ReportError(a.LocalRoot, "LocalRoot", "local_root", "required_for_local", "")
		}
	case "s3":
		if a.S3.Bucket == "" {
			sl.ReportError(a.S3.Bucket, "S3.Bucket", "bucket", "required_for_s3", "")
		}
		if a.S3.Region == "" {
			sl.ReportError(a.S3.Region, "S3.Region", "region", "required_for_s3", "")
		}
	}
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
