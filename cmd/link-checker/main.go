// Command link-checker is a continuous link checker for a persistent
// identifier service: it periodically verifies that each non-default target
// URL for a public, production identifier responds to an HTTP GET with a
// success-equivalent status in bounded time, and records per-identifier
// verdict history.
//
// Usage: link-checker [exclusion-file]
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/outblock/link-checker/internal/checker"
	"github.com/outblock/link-checker/internal/config"
	"github.com/outblock/link-checker/internal/exclusion"
	"github.com/outblock/link-checker/internal/fetch"
	"github.com/outblock/link-checker/internal/identifierstore"
	"github.com/outblock/link-checker/internal/reconcile"
	"github.com/outblock/link-checker/internal/rowstore"
	"github.com/outblock/link-checker/internal/statusserver"
	"github.com/outblock/link-checker/internal/verdict"
)

func main() {
	if len(os.Args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: link-checker [exclusion-file]")
		os.Exit(1)
	}
	exclusionFile := ""
	if len(os.Args) == 2 {
		exclusionFile = os.Args[1]
	}

	cfgPath := os.Getenv("LINK_CHECKER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Initializing link-checker...")
	log.Printf("DB: %s", redactDSN(cfg.DBDSN))
	log.Printf("Workers: %d  Workset cap/owner: %d", cfg.NumWorkers, cfg.WorksetOwnerMaxLinks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := rowstore.NewPostgres(ctx, cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx, rowsSchemaSQL); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	excl := exclusion.New(exclusionFile, exclusion.IdentityResolver{}, time.Duration(cfg.ExclusionRefreshDebounce)*time.Second)

	fetcher := fetch.New(cfg.UserAgent, time.Duration(cfg.CheckTimeout)*time.Second, int64(cfg.MaxRead))
	sink := verdict.RowStoreSink{Updater: store}

	var limiter *rate.Limiter
	if cfg.GlobalFetchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GlobalFetchRatePerSec), cfg.GlobalFetchBurst)
	}

	c := checker.New(checker.Config{
		TableUpdateCycle:        time.Duration(cfg.TableUpdateCycle) * time.Second,
		GoodRecheckMinInterval:  time.Duration(cfg.GoodRecheckMinInterval) * time.Second,
		BadRecheckMinInterval:   time.Duration(cfg.BadRecheckMinInterval) * time.Second,
		OwnerRevisitMinInterval: time.Duration(cfg.OwnerRevisitMinInterval) * time.Second,
		NumWorkers:              cfg.NumWorkers,
		WorksetOwnerMaxLinks:    cfg.WorksetOwnerMaxLinks,
		CheckTimeout:            time.Duration(cfg.CheckTimeout) * time.Second,
		HistoryCapacity:         cfg.NotificationFailureThreshold + 1,
	}, store, excl, fetcher, sink, limiter)

	// The live identifier-service client is out of scope for this repo (see
	// SPEC_FULL.md §6); until an operator supplies one, reconcile.Reconciler.Run
	// returns a clear configuration error each cycle instead of reconciling.
	remoteStore := identifierstore.Store(nil)
	reconciler := reconcile.New(store, remoteStore, excl)

	var statusSrv *http.Server
	if cfg.StatusListenAddr != "" {
		s := statusserver.New(c, cfg.StatusAuthSecret)
		statusSrv = &http.Server{Addr: cfg.StatusListenAddr, Handler: s.Handler()}
		go func() {
			log.Printf("Starting status server on %s", cfg.StatusListenAddr)
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("status server error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, reconciler)
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down...")
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Printf("checker loop exited: %v", err)
		}
	}

	cancel()
	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = statusSrv.Shutdown(shutdownCtx)
	}
	<-done
}

// rowsSchemaSQL creates the table backing rowstore.Postgres, matching the
// rowColumns that rowstore's queries scan: identifier, owner_id, target,
// last_check_time, is_good, is_bad, history.
const rowsSchemaSQL = `
CREATE SCHEMA IF NOT EXISTS link_checker;

CREATE TABLE IF NOT EXISTS link_checker.rows (
	identifier      TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	target          TEXT NOT NULL,
	last_check_time TIMESTAMPTZ,
	is_good         BOOLEAN NOT NULL DEFAULT FALSE,
	is_bad          BOOLEAN NOT NULL DEFAULT FALSE,
	history         JSONB NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS rows_owner_id_idx ON link_checker.rows (owner_id);
CREATE INDEX IF NOT EXISTS rows_owner_bad_last_check_idx ON link_checker.rows (owner_id, is_bad, last_check_time);
`

// redactDSN strips credentials from a database DSN before logging.
func redactDSN(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}
	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	return raw
}
