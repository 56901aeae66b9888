package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"oraclechain/observability/logging"
	"oraclechain/services/oraclerpc"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("oracle-archivist: %v", err)
	}
}

func run() error {
	var (
		rpcURL        string
		dbPath        string
		pollInterval  time.Duration
		exportDir     string
		exportEvery   time.Duration
		exportWindow  time.Duration
		allowInsecure bool
	)
	flag.StringVar(&rpcURL, "rpc-url", "http://127.0.0.1:8545", "chain JSON-RPC endpoint")
	flag.StringVar(&dbPath, "db", "oracle-archivist.sqlite", "path to the SQLite mirror database")
	flag.DurationVar(&pollInterval, "poll-interval", 10*time.Second, "interval between oracle_listOracles/oracle_getOracle polls")
	flag.StringVar(&exportDir, "export-dir", "", "directory to write rolling Parquet exports into (disabled when empty)")
	flag.DurationVar(&exportEvery, "export-interval", time.Hour, "interval between Parquet exports")
	flag.DurationVar(&exportWindow, "export-window", 24*time.Hour, "rolling window of mirrored updates included in each export")
	flag.BoolVar(&allowInsecure, "allow-insecure-tls", strings.HasPrefix(rpcURL, "http://"), "skip TLS verification for the RPC client")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	logging.Setup("oracle-archivist", env)

	storage, err := Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	client, err := oraclerpc.NewClient(oraclerpc.Config{
		BaseURL:       rpcURL,
		AllowInsecure: allowInsecure,
	})
	if err != nil {
		return fmt.Errorf("build rpc client: %w", err)
	}

	poller := NewPoller(client, storage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		log.Printf("oracle-archivist: polling %s every %s into %s", rpcURL, pollInterval, dbPath)
		errs <- poller.Run(ctx, pollInterval)
	}()

	if strings.TrimSpace(exportDir) != "" {
		go func() {
			errs <- runExportLoop(ctx, storage, exportDir, exportEvery, exportWindow)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}

func runExportLoop(ctx context.Context, storage *Storage, dir string, every, window time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			since := time.Now().Add(-window)
			path := fmt.Sprintf("%s/oracle-updates-%s.parquet", strings.TrimSuffix(dir, "/"), time.Now().UTC().Format("20060102T150405Z"))
			count, err := storage.ExportParquet(ctx, path, since)
			if err != nil {
				return fmt.Errorf("export parquet: %w", err)
			}
			log.Printf("oracle-archivist: exported %d updates to %s", count, path)
		}
	}
}
