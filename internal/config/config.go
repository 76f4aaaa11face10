package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration shared by the coordinator and the
// worker binaries.
type Config struct {
	HostID  string `toml:"host_id"`
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	Scanner    ScannerConfig    `toml:"scanner"`
	Indexing   IndexingConfig   `toml:"indexing"`
	Selection  SelectionConfig  `toml:"selection"`
	Cleaner    CleanerConfig    `toml:"cleaner"`
	Database   DatabaseConfig   `toml:"database"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Hub        HubConfig        `toml:"hub"`
	Worker     WorkerConfig     `toml:"worker"`
}

// ScannerConfig is the directory scanner policy.
type ScannerConfig struct {
	Extensions     []string `toml:"extensions"` // allow-set, e.g. [".jpg", ".png"]
	MaxDepth       int      `toml:"max_depth"`  // 0 = unlimited
	SkipHidden     bool     `toml:"skip_hidden"`
	FollowSymlinks bool     `toml:"follow_symlinks"`
}

// IndexingConfig controls batching, parallelism and the ingest mode.
type IndexingConfig struct {
	BatchSize   int    `toml:"batch_size"`
	MaxParallel int    `toml:"max_parallel"`
	Mode        string `toml:"mode"` // "local" (default) or "distributed"
}

// PriorityRule maps a path prefix to a selection weight.
type PriorityRule struct {
	Prefix string  `toml:"prefix"`
	Weight float64 `toml:"weight"`
}

// SelectionConfig configures the original selector.
type SelectionConfig struct {
	ConflictThreshold float64        `toml:"conflict_threshold"` // default 0.1
	PriorityRules     []PriorityRule `toml:"priority_rules"`
}

// CleanerConfig configures cleanup categories and the retention sweep.
type CleanerConfig struct {
	// RetentionDays maps archive category name to its retention window
	// in days. Zero or missing disables sweeping for that category.
	RetentionDays map[string]int `toml:"retention_days"`

	// SweepTime is the daily sweep time of day, "15:04" format.
	SweepTime string `toml:"sweep_time"`
}

// DatabaseConfig selects the metadata database.
// Tagged union: Type determines which other fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite"
	DataDir string `toml:"data_dir,omitempty"` // directory holding the db file
}

// ArchiveConfig selects the archive storage backend.
// Tagged union: Type determines which other fields apply.
type ArchiveConfig struct {
	Type string `toml:"type"` // "s3", "filesystem" or "memory"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"` // custom endpoint for S3-compatible stores
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig controls optional at-rest encryption of archived
// copies. Tagged union: Type determines which other fields apply.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// HubConfig configures the coordinator-side worker channel.
type HubConfig struct {
	ListenAddr string `toml:"listen_addr"` // e.g. "127.0.0.1:7733"
}

// WorkerConfig configures the remote worker binary.
type WorkerConfig struct {
	CoordinatorAddr string   `toml:"coordinator_addr"`
	Capabilities    []string `toml:"capabilities"`       // "cleanup", "indexing"
	DataDir         string   `toml:"data_dir,omitempty"` // transaction db location
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Scanner: ScannerConfig{
			Extensions: []string{".jpg", ".jpeg", ".png", ".gif", ".tiff", ".heic", ".raw"},
			SkipHidden: true,
		},
		Indexing: IndexingConfig{
			BatchSize:   100,
			MaxParallel: 4,
			Mode:        "local",
		},
		Selection: SelectionConfig{
			ConflictThreshold: 0.1,
		},
		Cleaner: CleanerConfig{
			RetentionDays: map[string]int{
				"hash_duplicate": 90,
				"near_duplicate": 180,
				"manual":         365,
			},
			SweepTime: "03:00",
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "archive"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "archive.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "archive.key"),
		},
		Hub: HubConfig{
			ListenAddr: "127.0.0.1:7733",
		},
		Worker: WorkerConfig{
			CoordinatorAddr: "127.0.0.1:7733",
			Capabilities:    []string{"cleanup"},
			DataDir:         filepath.Join(baseDir, "worker"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
