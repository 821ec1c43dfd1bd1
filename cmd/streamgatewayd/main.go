// Command streamgatewayd is the gateway's entrypoint: a single Cobra root
// command that loads config, constructs every collaborator explicitly
// (§9's no-singleton-maps design note), and serves HTTP until SIGINT/SIGTERM.
//
// Grounded on backend/cache/cache.go's NewFs, which registers a SIGHUP
// handler and an atexit hook around its own background workers; this
// entrypoint has no "reload remote config" concept, so it reacts to
// SIGINT/SIGTERM instead and drives shutdown through context cancellation
// rather than atexit.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/streamcache/gateway/internal/cacheindex"
	"github.com/streamcache/gateway/internal/cachestore"
	"github.com/streamcache/gateway/internal/catalog"
	catalogfake "github.com/streamcache/gateway/internal/catalog/fake"
	"github.com/streamcache/gateway/internal/config"
	"github.com/streamcache/gateway/internal/httpapi"
	"github.com/streamcache/gateway/internal/logging"
	"github.com/streamcache/gateway/internal/populator"
	"github.com/streamcache/gateway/internal/predictor"
	"github.com/streamcache/gateway/internal/remote"
	"github.com/streamcache/gateway/internal/session"
)

func main() {
	cfg := config.New()
	root := &cobra.Command{
		Use:   "streamgatewayd",
		Short: "Streaming gateway fronting a rate-limited remote object store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(root)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(logging.Level(cfg.LogLevel), os.Stderr)

	store, err := remote.New(cfg.RemoteBackend, cfg.RemoteCredentials)
	if err != nil {
		log.Errorf("main", "failed to construct remote store: %v", err)
		return err
	}

	handles := make([]interface{}, cfg.SessionCount)
	for i := range handles {
		handles[i] = i
	}
	pool := session.New(handles, cfg.SessionRps)
	log.Infof("main", "session pool ready: %d sessions, rps=%.2f", pool.Len(), cfg.SessionRps)

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		log.Errorf("main", "failed to create cache dir %q: %v", cfg.CacheDir, err)
		return err
	}

	idx, err := cacheindex.Open(filepath.Join(cfg.CacheDir, "index.db"))
	if err != nil {
		log.Errorf("main", "failed to open cache index: %v", err)
		return err
	}
	defer idx.Close()

	maxBytes := cfg.CacheMaxSizeBytes
	if !cfg.CacheEnabled {
		maxBytes = 0
	}
	cache, err := cachestore.New(filepath.Join(cfg.CacheDir, "files"), maxBytes, idx, log)
	if err != nil {
		log.Errorf("main", "failed to open cache store: %v", err)
		return err
	}
	log.Infof("main", "cache store ready at %q (budget %s)", cfg.CacheDir, humanize.Bytes(uint64(maxBoundNonNegative(maxBytes))))

	downloading := populator.NewDownloadingSet()
	pop := populator.New(store, pool, cache, downloading, log)

	// No catalog backend ships with this module (§6 treats it as an
	// external collaborator); an empty fake disables the predictor's
	// pre-cache triggers without erroring every lookup.
	var cat catalog.Index = catalogfake.New()
	pred := predictor.New(cat, pop, pool, log)

	srv := &httpapi.Server{
		Store:     store,
		Pool:      pool,
		Cache:     cache,
		Populator: pop,
		Predictor: pred,
		Catalog:   cat,
		Log:       log,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go runCleanupLoop(ctx, cache, log, cfg.CleanupInterval)

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("main", "listening on %s", cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Infof("main", "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("main", "server exited: %v", err)
			return err
		}
		return nil
	}
}

// runCleanupLoop runs the periodic orphan-reconciliation/score-recompute
// pass (§5) until ctx is cancelled.
func runCleanupLoop(ctx context.Context, cache *cachestore.Store, log *logging.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cache.Cleanup(); err != nil {
				log.Errorf("main", "cleanup pass failed: %v", err)
			}
		}
	}
}

func maxBoundNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
