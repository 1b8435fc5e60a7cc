// Command cogrt runs the cognitive runtime: message bus, supervised
// arbiters, memory cascade, goal planner, content indexer, and nighttime
// orchestrator in a single process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arbiterfabric/cogrt/internal/app"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to COGRT_HTTP_ADDR or :8090)")
	stateDir := flag.String("state-dir", "", "directory for journals and snapshots (defaults to COGRT_STATE_DIR; empty keeps state in memory)")
	indexRoot := flag.String("index-root", "", "filesystem tree the content indexer watches (defaults to COGRT_INDEX_ROOT; empty disables the watch)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the hot memory tier (defaults to COGRT_REDIS_ADDR; empty degrades to in-process)")
	coldDSN := flag.String("cold-dsn", "", "PostgreSQL DSN for the cold memory tier (defaults to COGRT_COLD_DSN; empty uses the in-memory fallback)")
	outcomeArchiveDSN := flag.String("outcome-archive-dsn", "", "PostgreSQL DSN for the outcome log's secondary SQL archive (defaults to COGRT_OUTCOME_ARCHIVE_DSN; empty disables it)")
	schedule := flag.String("nightly-schedule", "", "cron expression for the nightly session (defaults to COGRT_NIGHTLY_SCHEDULE or \"0 2 * * *\")")
	flag.Parse()

	cfg := app.Config{
		HTTPAddr:        *addr,
		StateDir:        *stateDir,
		IndexRoot:       *indexRoot,
		RedisAddr:       *redisAddr,
		ColdPostgresDSN:   *coldDSN,
		OutcomeArchiveDSN: *outcomeArchiveDSN,
		NightlySchedule:   *schedule,
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("cogrt: build application: %v", err)
	}

	rootCtx := context.Background()
	errCh, err := application.Start(rootCtx)
	if err != nil {
		log.Fatalf("cogrt: start application: %v", err)
	}
	log.Printf("cogrt runtime started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		log.Printf("cogrt: http server: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("cogrt: shutdown: %v", err)
	}
}
