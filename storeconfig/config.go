// Package storeconfig holds the tunables shared by convostore's
// packages: where the database lives, and the defaults for adaptive
// polling and stream persistence. Modeled on the teacher's
// settings/sqlite path-resolution split (internal/services/settings,
// internal/sqlite.resolveDBPath) collapsed into one struct since this
// module has no UI-facing settings screen to back.
package storeconfig

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PollConfig parameterizes the adaptive-polling state machine (§4.F)
// shared by the stream watcher and the persist cancel-probe.
type PollConfig struct {
	MinMs       int64   `yaml:"min_ms"`
	MaxMs       int64   `yaml:"max_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	JitterRatio float64 `yaml:"jitter_ratio"`
}

// DefaultWatchPoll is used by StreamManager.Watch when no override is
// given: fast enough to feel live, capped low enough not to starve a
// slow consumer.
func DefaultWatchPoll() PollConfig {
	return PollConfig{MinMs: 50, MaxMs: 2000, Multiplier: 1.6, JitterRatio: 0.2}
}

// DefaultCancelPoll is used by the persist() cancellation probe.
func DefaultCancelPoll() PollConfig {
	return PollConfig{MinMs: 100, MaxMs: 1000, Multiplier: 1.5, JitterRatio: 0.1}
}

// LogConfig controls the rotating log file obslog.New writes to.
type LogConfig struct {
	// Dir is the directory the rotating log file and its backups live
	// in.
	Dir string `yaml:"dir"`
	// MaxFileSizeBytes is the size at which the active log file rotates.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	// MaxBackups is how many rotated log files are kept before the
	// oldest is deleted.
	MaxBackups int `yaml:"max_backups"`
	// MirrorStderr additionally writes every record to stderr.
	MirrorStderr bool `yaml:"mirror_stderr"`
}

// DefaultLogConfig rotates at 10MB, keeping 5 backups. Dir is left
// empty; New resolves an empty Dir to the default on-disk config
// directory.
func DefaultLogConfig() LogConfig {
	return LogConfig{MaxFileSizeBytes: 10 * 1024 * 1024, MaxBackups: 5}
}

// PersistBatch controls how persist() batches chunk writes.
type PersistBatch struct {
	// Strategy is "immediate" (one write per element) or "batched"
	// (the default: time/size-bounded batches).
	Strategy    string        `yaml:"strategy"`
	MaxSize     int           `yaml:"max_size"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// DefaultPersistBatch matches the spec's documented default strategy.
func DefaultPersistBatch() PersistBatch {
	return PersistBatch{Strategy: "batched", MaxSize: 16, MaxInterval: 200 * time.Millisecond}
}

// Config is the top-level tunable set. Zero value is invalid; use
// New() or load one from YAML via Load.
type Config struct {
	// DBPath is the SQLite file path, or ":memory:". Empty resolves to
	// a default path under os.UserConfigDir(), mirroring the teacher's
	// resolveDBPath.
	DBPath string `yaml:"db_path"`

	WatchPoll    PollConfig   `yaml:"watch_poll"`
	CancelPoll   PollConfig   `yaml:"cancel_poll"`
	PersistBatch PersistBatch `yaml:"persist_batch"`
	Log          LogConfig    `yaml:"log"`

	// ChunkPageSize bounds how many chunks Watch fetches per catchup
	// page (§4.E.3 step 2a).
	ChunkPageSize int `yaml:"chunk_page_size"`
	// StatusCheckEvery is how many non-empty, partial catchup pages
	// Watch drains between terminal-status checks (§4.E.3 step 2b). An
	// empty page always triggers a check; a full page loops immediately
	// without one.
	StatusCheckEvery int `yaml:"status_check_every"`
	// CancelPollMinInterval is the minimum interval the persist()
	// cancel probe is allowed to use, independent of PollConfig.MinMs,
	// so callers can throttle probe frequency without touching backoff
	// shape (§4.E.2).
	CancelPollMinInterval time.Duration `yaml:"cancel_poll_min_interval"`
}

// Option mutates a Config being built by New.
type Option func(*Config)

// WithDBPath overrides the resolved database path.
func WithDBPath(path string) Option {
	return func(c *Config) { c.DBPath = path }
}

// WithWatchPoll overrides the watch-loop backoff parameters.
func WithWatchPoll(p PollConfig) Option {
	return func(c *Config) { c.WatchPoll = p }
}

// WithCancelPoll overrides the persist cancel-probe backoff parameters.
func WithCancelPoll(p PollConfig) Option {
	return func(c *Config) { c.CancelPoll = p }
}

// WithPersistBatch overrides chunk batching behavior.
func WithPersistBatch(b PersistBatch) Option {
	return func(c *Config) { c.PersistBatch = b }
}

// WithLog overrides the rotating log file's directory, size/backup
// limits, and stderr mirroring.
func WithLog(l LogConfig) Option {
	return func(c *Config) { c.Log = l }
}

// New builds a Config from defaults plus any Options, resolving an
// empty DBPath to the default on-disk location.
func New(opts ...Option) (Config, error) {
	cfg := Config{
		WatchPoll:             DefaultWatchPoll(),
		CancelPoll:            DefaultCancelPoll(),
		PersistBatch:          DefaultPersistBatch(),
		Log:                   DefaultLogConfig(),
		ChunkPageSize:         256,
		StatusCheckEvery:      5,
		CancelPollMinInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBPath == "" {
		path, err := defaultDBPath()
		if err != nil {
			return Config{}, err
		}
		cfg.DBPath = path
	}
	if cfg.Log.Dir == "" {
		dir, err := defaultLogDir()
		if err != nil {
			return Config{}, err
		}
		cfg.Log.Dir = dir
	}
	return cfg, nil
}

func defaultDBPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(cfgDir, "convostore")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "convostore.db"), nil
}

func defaultLogDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, "convostore", "logs"), nil
}

// Load reads a Config from a YAML file, falling back to New()'s
// defaults for any field the file omits.
func Load(path string) (Config, error) {
	cfg, err := New()
	if err != nil {
		return Config{}, err
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WatchFile reloads the YAML config at path whenever it changes on
// disk and invokes onChange with the newly parsed Config. It mirrors
// the fsnotify-driven reload pattern used for policy/config files
// elsewhere in the retrieval pack. The returned stop func closes the
// watcher; callers must call it to release the fsnotify handle.
func WatchFile(path string, onChange func(Config)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
