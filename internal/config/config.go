package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"treesync/internal/models"
)

const (
	DefaultAPIURL          = "http://127.0.0.1:7480"
	DefaultLogLevel        = "info"
	DefaultRecordsBackend  = "sqlite"
	DefaultBlobsBackend    = "local"
	DefaultConcurrency     = 8
	DefaultRetrySteps      = 4
	DefaultRetryInitial    = "200ms"
	DefaultTransferTimeout = "5m"

	configFileName           = ".treesync.toml"
	configDirEnvKey          = "TREESYNC_CONFIG_DIR"
	trustProjectConfigEnvKey = "TREESYNC_TRUST_PROJECT_CONFIG"
)

var (
	recordsBackends = []string{"sqlite", "memory", "rest"}
	blobsBackends   = []string{"local", "gcs", "s3", "memory"}
	refStyles       = []string{"", "path", "firebase", "uri"}
)

// RecordsConfig selects a record store.
type RecordsConfig struct {
	Backend   string `toml:"backend"`
	Path      string `toml:"path"`
	URL       string `toml:"url"`
	AuthToken string `toml:"auth_token"`
}

// BlobsConfig selects a blob store. Bucket also names the bucket that
// appears in references for local and memory stores.
type BlobsConfig struct {
	Backend         string `toml:"backend"`
	Root            string `toml:"root"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	CredentialsFile string `toml:"credentials_file"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	RefStyle        string `toml:"ref_style"`
}

// SideConfig is one end of a replication: its records and its blobs.
type SideConfig struct {
	Records RecordsConfig `toml:"records"`
	Blobs   BlobsConfig   `toml:"blobs"`
}

// TransferConfig tunes the blob transfer engine. Durations accept Go
// duration strings or bare seconds.
type TransferConfig struct {
	Concurrency  int    `toml:"concurrency"`
	StagingDir   string `toml:"staging_dir"`
	KeyPrefix    string `toml:"key_prefix"`
	RetrySteps   int    `toml:"retry_steps"`
	RetryInitial string `toml:"retry_initial"`
	Timeout      string `toml:"timeout"`
}

// Config defines runtime configuration for treesync.
type Config struct {
	APIURL                   string         `toml:"api_url"`
	LogLevel                 string         `toml:"log_level"`
	APITokenHash             string         `toml:"api_token_hash"`
	Layout                   models.Layout  `toml:"layout"`
	Source                   SideConfig     `toml:"source"`
	Target                   SideConfig     `toml:"target"`
	Transfer                 TransferConfig `toml:"transfer"`
	TrustedProjectConfigPath string         `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	side := SideConfig{
		Records: RecordsConfig{Backend: DefaultRecordsBackend},
		Blobs:   BlobsConfig{Backend: DefaultBlobsBackend},
	}
	return Config{
		APIURL:   DefaultAPIURL,
		LogLevel: DefaultLogLevel,
		Layout:   models.DefaultLayout(),
		Source:   side,
		Target:   side,
		Transfer: TransferConfig{
			Concurrency:  DefaultConcurrency,
			RetrySteps:   DefaultRetrySteps,
			RetryInitial: DefaultRetryInitial,
			Timeout:      DefaultTransferTimeout,
		},
	}
}

// RetryInitialDuration parses transfer.retry_initial.
func (t TransferConfig) RetryInitialDuration() (time.Duration, error) {
	return ParseDuration(t.RetryInitial)
}

// TimeoutDuration parses transfer.timeout.
func (t TransferConfig) TimeoutDuration() (time.Duration, error) {
	return ParseDuration(t.Timeout)
}

// ParseDuration accepts "1m30s" style durations or bare seconds. Empty is zero.
func ParseDuration(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("duration must be >= 0: %q", raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0: %q", raw)
	}
	return d, nil
}

// Validate checks backend names and durations.
func (c *Config) Validate() error {
	for _, side := range []struct {
		name string
		cfg  SideConfig
	}{{"source", c.Source}, {"target", c.Target}} {
		if !slices.Contains(recordsBackends, side.cfg.Records.Backend) {
			return fmt.Errorf("%s.records.backend: unknown backend %q (want one of %s)",
				side.name, side.cfg.Records.Backend, strings.Join(recordsBackends, ", "))
		}
		if !slices.Contains(blobsBackends, side.cfg.Blobs.Backend) {
			return fmt.Errorf("%s.blobs.backend: unknown backend %q (want one of %s)",
				side.name, side.cfg.Blobs.Backend, strings.Join(blobsBackends, ", "))
		}
		if !slices.Contains(refStyles, strings.ToLower(side.cfg.Blobs.RefStyle)) {
			return fmt.Errorf("%s.blobs.ref_style: unknown style %q", side.name, side.cfg.Blobs.RefStyle)
		}
	}
	if _, err := c.Transfer.RetryInitialDuration(); err != nil {
		return fmt.Errorf("transfer.retry_initial: %w", err)
	}
	if _, err := c.Transfer.TimeoutDuration(); err != nil {
		return fmt.Errorf("transfer.timeout: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	applyEnv(&cfg)
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.Layout = cfg.Layout.Normalize()
	if cfg.Transfer.Concurrency <= 0 {
		cfg.Transfer.Concurrency = DefaultConcurrency
	}
	if cfg.Transfer.RetrySteps <= 0 {
		cfg.Transfer.RetrySteps = DefaultRetrySteps
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setFromEnv := func(dst *string, key string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
		}
	}
	setFromEnv(&cfg.APIURL, "TREESYNC_API_URL")
	setFromEnv(&cfg.APITokenHash, "TREESYNC_API_TOKEN_HASH")
	setFromEnv(&cfg.Source.Records.Path, "TREESYNC_SOURCE_DB")
	setFromEnv(&cfg.Target.Records.Path, "TREESYNC_TARGET_DB")
	setFromEnv(&cfg.Source.Records.AuthToken, "TREESYNC_SOURCE_RECORDS_TOKEN")
	setFromEnv(&cfg.Target.Records.AuthToken, "TREESYNC_TARGET_RECORDS_TOKEN")
	setFromEnv(&cfg.Source.Blobs.SecretAccessKey, "TREESYNC_SOURCE_BLOBS_SECRET_ACCESS_KEY")
	setFromEnv(&cfg.Target.Blobs.SecretAccessKey, "TREESYNC_TARGET_BLOBS_SECRET_ACCESS_KEY")
	setFromEnv(&cfg.Transfer.StagingDir, "TREESYNC_STAGING_DIR")
	if raw := strings.TrimSpace(os.Getenv("TREESYNC_TRANSFER_CONCURRENCY")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Transfer.Concurrency = parsed
		}
	}
}
