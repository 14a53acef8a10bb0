// Package dbpool implements the relational-store abstraction specified in
// spec.md section 4.4 (Pool health) and the shared-pool discipline of
// section 5: a connection pool sized independently of OCR worker count,
// health-checked, with a bounded response-time probe.
//
// The interface/implementation split here is the same shape as the
// teacher's aws.DynamoDBClient / aws.S3Client pair: a narrow interface that
// every consumer (registry, ocrqueue, guardrails, syncengine) depends on,
// matching the real driver's method signatures exactly so *pgxpool.Pool
// satisfies it with no adapter code, plus a compile-time check.
package dbpool

import (
	"context"
	"time"

	"github.com/docvault/ingestd/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the narrow slice of pgxpool.Pool's API every component in this
// module needs: plain execution, row access, and transaction begin.
// Depending on this interface instead of *pgxpool.Pool directly keeps
// registry, ocrqueue, and guardrails testable with an in-memory fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// Pool wraps a *pgxpool.Pool with the health-probe behavior spec.md section
// 4.4 requires.
type Pool struct {
	*pgxpool.Pool
}

// Open constructs a pgxpool.Pool from cfg, bounding pool size and lifetimes
// per section 4.4.
func Open(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns
	poolCfg.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.DBIdleTimeout
	poolCfg.HealthCheckPeriod = time.Minute

	raw, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	return &Pool{Pool: raw}, nil
}

// Health is the pool-health snapshot spec.md section 4.4 requires.
type Health struct {
	Size            int32
	Idle            int32
	UtilizationPct  float64
	ResponseTimeMs  int64
	ResponseTimeErr error
}

// Probe reports pool statistics plus a bounded SELECT 1 round trip, so
// callers (e.g. the /healthz endpoint, or the consistency scan) can detect
// both pool exhaustion and store unavailability in one call.
func (p *Pool) Probe(ctx context.Context, timeout time.Duration) Health {
	stat := p.Pool.Stat()
	total := stat.TotalConns()
	idle := stat.IdleConns()

	var util float64
	if total > 0 {
		util = float64(total-idle) / float64(total) * 100
	}

	h := Health{Size: total, Idle: idle, UtilizationPct: util}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var one int
	err := p.Pool.QueryRow(probeCtx, "SELECT 1").Scan(&one)
	h.ResponseTimeMs = time.Since(start).Milliseconds()
	h.ResponseTimeErr = err
	return h
}
