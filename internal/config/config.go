// Package config defines the gateway's tunables and binds them to CLI flags
// (§10.C). Grounded on backend/cache/cache.go's init()'s fs.Register(&fs.RegInfo{
// Options: []fs.Option{...}}) declarative-option pattern: one named flag per
// tunable, each with a documented default and help text. The teacher's
// go.mod carries spf13/cobra but not viper, so this layer is flags only,
// matching what's actually grounded in the pack; environment variables are
// not read.
package config

import (
	"time"

	"github.com/spf13/cobra"
)

// Default values, named in the teacher's Def<Name> convention
// (backend/cache/cache.go's DefCacheChunkSize/DefCacheRps/etc).
const (
	DefListenAddr        = ":8080"
	DefCacheEnabled      = true
	DefCacheDir          = "./cache-data"
	DefCacheMaxSizeBytes = int64(10 * 1024 * 1024 * 1024) // 10 GiB
	DefSessionCount      = 4
	DefSessionRps        = -1.0 // disabled, matches DefCacheRps=-1
	DefCleanupInterval   = 30 * time.Minute
	DefLogLevel          = "info"
)

// Config holds every tunable named in SPEC_FULL.md §10.C.
type Config struct {
	ListenAddr        string
	CacheEnabled      bool
	CacheDir          string
	CacheMaxSizeBytes int64
	SessionCount      int
	SessionRps        float64
	CleanupInterval   time.Duration
	LogLevel          string

	// RemoteBackend selects which registered remote.Store factory (see
	// internal/remote.Register) to construct at startup.
	RemoteBackend string

	// RemoteCredentials is opaque configuration handed to the remote store
	// adapter (§6); this module never interprets it, only threads it
	// through from the --remote-credentials flag to the caller that
	// constructs a concrete remote.Store.
	RemoteCredentials string
}

// New returns a Config populated with defaults, matching the teacher's
// Def*-constant pattern before any flag parsing happens.
func New() *Config {
	return &Config{
		ListenAddr:        DefListenAddr,
		CacheEnabled:      DefCacheEnabled,
		CacheDir:          DefCacheDir,
		CacheMaxSizeBytes: DefCacheMaxSizeBytes,
		SessionCount:      DefSessionCount,
		SessionRps:        DefSessionRps,
		CleanupInterval:   DefCleanupInterval,
		LogLevel:          DefLogLevel,
	}
}

// BindFlags registers every tunable on cmd's persistent flag set. Call once
// during cobra.Command construction; values land in cfg after cmd.Execute
// parses argv.
func (cfg *Config) BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on, e.g. \":8080\"")
	flags.BoolVar(&cfg.CacheEnabled, "cache-enabled", cfg.CacheEnabled, "enable the predictive media cache; disabling serves every request straight from the remote")
	flags.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for cached files and the bbolt index")
	flags.Int64Var(&cfg.CacheMaxSizeBytes, "cache-max-size-bytes", cfg.CacheMaxSizeBytes, "cache size budget in bytes; <= 0 means unbounded")
	flags.IntVar(&cfg.SessionCount, "sessions", cfg.SessionCount, "number of concurrent remote-store sessions in the pool")
	flags.Float64Var(&cfg.SessionRps, "session-rps", cfg.SessionRps, "per-session requests/second limit; <= 0 disables rate limiting")
	flags.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "interval between cache index cleanup passes")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "one of error, warn, info, debug")
	flags.StringVar(&cfg.RemoteBackend, "remote-backend", cfg.RemoteBackend, "name of the registered remote.Store backend to use")
	flags.StringVar(&cfg.RemoteCredentials, "remote-credentials", "", "opaque credentials blob handed to the remote store adapter")
}
