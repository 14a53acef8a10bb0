// Package main implements ingestctl, the operator CLI: one-shot
// administrative actions against the same store ingestd runs against,
// grounded on the teacher's cmd/ddb-datagen/main.go (flag-driven
// subcommands constructing a client, performing an action, printing a
// plain-text summary).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/docvault/ingestd/config"
	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/guardrails"
	"github.com/docvault/ingestd/ocrqueue"
	"github.com/docvault/ingestd/registry"
	"github.com/google/uuid"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: ingestctl <consistency-scan|cleanup|bulk-retry|ignore> [flags]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := dbpool.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database pool: %w", err)
	}
	defer pool.Close()

	switch args[0] {
	case "consistency-scan":
		return runConsistencyScan(ctx, pool, cfg, args[1:])
	case "cleanup":
		return runCleanup(ctx, pool, cfg, args[1:])
	case "bulk-retry":
		return runBulkRetry(ctx, pool, args[1:])
	case "ignore":
		return runIgnore(ctx, pool, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func runConsistencyScan(ctx context.Context, pool *dbpool.Pool, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("consistency-scan", flag.ExitOnError)
	stuckThreshold := fs.Duration("stuck-threshold", cfg.OCRStuckThreshold, "stuck-processing threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	guard := guardrails.New(pool, nil)
	report, err := guard.ConsistencyScan(ctx, *stuckThreshold)
	if err != nil {
		return fmt.Errorf("consistency scan: %w", err)
	}

	fmt.Printf("orphaned queue items: %d\n", len(report.OrphanedQueueItems))
	fmt.Printf("stuck processing: %d\n", len(report.StuckProcessing))
	fmt.Printf("queue rows with no document: %d\n", len(report.QueueRowsNoDocument))
	return nil
}

func runCleanup(ctx context.Context, pool *dbpool.Pool, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	stuckThreshold := fs.Duration("stuck-threshold", cfg.OCRStuckThreshold, "stuck-processing threshold")
	if err := fs.Parse(args); err != nil {
		return err
	}

	guard := guardrails.New(pool, nil)
	report, err := guard.ConsistencyScan(ctx, *stuckThreshold)
	if err != nil {
		return fmt.Errorf("consistency scan: %w", err)
	}
	if err := guard.Cleanup(ctx, report); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("cleaned up %d orphaned queue rows, %d no-document rows, reset %d stuck jobs\n",
		len(report.OrphanedQueueItems), len(report.QueueRowsNoDocument), len(report.StuckProcessing))
	return nil
}

func runBulkRetry(ctx context.Context, pool *dbpool.Pool, args []string) error {
	fs := flag.NewFlagSet("bulk-retry", flag.ExitOnError)
	mode := fs.String("mode", "all", `"all" or "reason:<classified reason>"`)
	preview := fs.Bool("preview", false, "report matches without mutating anything")
	if err := fs.Parse(args); err != nil {
		return err
	}

	queue := ocrqueue.New(pool, nil)
	result, err := queue.BulkRetryFailed(ctx, *mode, *preview)
	if err != nil {
		return fmt.Errorf("bulk retry: %w", err)
	}

	fmt.Printf("matched: %d, queued: %d, preview: %v\n", result.MatchedCount, result.QueuedCount, *preview)
	return nil
}

func runIgnore(ctx context.Context, pool *dbpool.Pool, args []string) error {
	fs := flag.NewFlagSet("ignore", flag.ExitOnError)
	userID := fs.String("user", "", "user id (required)")
	sha256 := fs.String("sha256", "", "content hash to ignore (required)")
	filename := fs.String("filename", "", "filename for the tombstone record (required)")
	size := fs.Int64("size", 0, "file size in bytes")
	mimeType := fs.String("mime-type", "", "mime type")
	reason := fs.String("reason", "", "reason, shown to the user on re-encounter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *sha256 == "" || *filename == "" {
		return fmt.Errorf("-user, -sha256, and -filename are required")
	}

	uid, err := uuid.Parse(*userID)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}

	var reasonPtr *string
	if *reason != "" {
		reasonPtr = reason
	}

	reg := registry.New(pool, nil)
	err = reg.RecordIgnored(ctx, &registry.IgnoredFile{
		UserID:   uid,
		SHA256:   *sha256,
		Filename: *filename,
		Size:     *size,
		MimeType: *mimeType,
		Reason:   reasonPtr,
	})
	if err != nil {
		return fmt.Errorf("record ignored: %w", err)
	}

	fmt.Println("tombstone recorded")
	return nil
}
