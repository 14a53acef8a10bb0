// Package guardrails implements the transactional integrity rules of
// spec.md section 4.4 (C4): complete_ocr's eight-step transaction,
// claim_ocr_job, handle_ocr_failure, named advisory locks, and the
// consistency scan/cleanup pair.
//
// complete_ocr's lock-then-check-then-conditional-update shape is grounded
// on the teacher's writer.go: read under a guard, verify expectations
// before mutating, and require the update to affect exactly the row
// expected (the teacher enforces this via DynamoDB conditional expressions;
// here it is a plain SQL WHERE clause whose rows_affected is checked).
package guardrails

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/retrypolicy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Outcome is the typed result of CompleteOCR, spec.md section 4.4.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeNotFound
	OutcomeMismatch
	OutcomeAlreadyDone
	OutcomeQualityRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeAlreadyDone:
		return "already_done"
	case OutcomeQualityRejected:
		return "quality_rejected"
	default:
		return "unknown"
	}
}

// HealthProber is the subset of *dbpool.Pool PoolHealth needs, kept
// separate from Querier so tests can fake the transactional operations
// without also faking pool statistics.
type HealthProber interface {
	Probe(ctx context.Context, timeout time.Duration) dbpool.Health
}

type Guardrails struct {
	db     dbpool.Querier
	health HealthProber
	policy retrypolicy.Policy
}

// New constructs Guardrails over pool, used both as the Querier for
// transactional operations and as the HealthProber for PoolHealth. logger
// receives a warning on each retried database call; nil logs nothing.
func New(pool *dbpool.Pool, logger *zap.Logger) *Guardrails {
	policy := retrypolicy.Default()
	policy.Logger = logger
	return &Guardrails{db: pool, health: pool, policy: policy}
}

func classify(err error) retrypolicy.Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrypolicy.Cancelled
	}
	return retrypolicy.Transient
}

// CompleteOCR runs the eight-step transaction of spec.md section 4.4: lock
// the document row, validate filename/state, reject a suspiciously
// confident empty result, and conditionally commit the OCR result.
// confidenceFloor is the quality-rejection threshold to apply for this
// document's owner — the global default or a per-user override, resolved
// by the caller.
func (g *Guardrails) CompleteOCR(ctx context.Context, documentID uuid.UUID, expectedFilename, text string, confidence float64, wordCount int, processingMs int, confidenceFloor float64) (Outcome, error) {
	var outcome Outcome

	err := retrypolicy.Do(ctx, g.policy, "guardrails.complete_ocr", classify, func(ctx context.Context) error {
		tx, err := g.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var filename, status string
		err = tx.QueryRow(ctx, `
			SELECT filename, ocr_status FROM documents WHERE id = $1 FOR UPDATE
		`, documentID).Scan(&filename, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		if filename != expectedFilename {
			outcome = OutcomeMismatch
			return nil
		}
		if status == "completed" {
			outcome = OutcomeAlreadyDone
			return nil
		}
		if text == "" && confidence > confidenceFloor {
			outcome = OutcomeQualityRejected
			return nil
		}

		tag, err := tx.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'completed',
			    ocr_text = $2,
			    ocr_confidence = $3,
			    ocr_word_count = $4,
			    ocr_processing_time_ms = $5,
			    ocr_completed_at = now(),
			    updated_at = now()
			WHERE id = $1 AND ocr_status <> 'completed'
		`, documentID, text, confidence, wordCount, processingMs)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("guardrails: expected to update exactly 1 document row, affected %d", tag.RowsAffected())
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM ocr_queue WHERE document_id = $1 AND status = 'processing'
		`, documentID); err != nil {
			return err
		}

		outcome = OutcomeCompleted
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// ClaimOCRJob atomically claims the next pending job for workerID via a
// single SKIP LOCKED UPDATE, spec.md section 4.1/4.4. Returns uuid.Nil if
// nothing is claimable.
func (g *Guardrails) ClaimOCRJob(ctx context.Context, workerID string) (uuid.UUID, uuid.UUID, error) {
	var jobID, documentID uuid.UUID
	err := retrypolicy.Do(ctx, g.policy, "guardrails.claim_ocr_job", classify, func(ctx context.Context) error {
		err := g.db.QueryRow(ctx, `
			UPDATE ocr_queue
			SET status = 'processing', worker_id = $1, started_at = now(), attempts = attempts + 1
			WHERE id = (
				SELECT id FROM ocr_queue
				WHERE status = 'pending' AND attempts < max_attempts
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, document_id
		`, workerID).Scan(&jobID, &documentID)
		if errors.Is(err, pgx.ErrNoRows) {
			jobID, documentID = uuid.Nil, uuid.Nil
			return nil
		}
		return err
	})
	return jobID, documentID, err
}

// HandleOCRFailure records an attempt failure and either resets the job to
// pending or exhausts retries into a terminal document failure, spec.md
// section 4.1's fail operation, expressed as a single transaction so the
// job-row and document-row mutations are atomic together.
func (g *Guardrails) HandleOCRFailure(ctx context.Context, jobID, documentID uuid.UUID, errMessage, classifiedReason string) error {
	return retrypolicy.Do(ctx, g.policy, "guardrails.handle_ocr_failure", classify, func(ctx context.Context) error {
		tx, err := g.db.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var attempts, maxAttempts int
		err = tx.QueryRow(ctx, `
			SELECT attempts, max_attempts FROM ocr_queue WHERE id = $1 FOR UPDATE
		`, jobID).Scan(&attempts, &maxAttempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if attempts < maxAttempts {
			if _, err := tx.Exec(ctx, `
				UPDATE ocr_queue
				SET status = 'pending', worker_id = NULL, started_at = NULL, error_message = $2
				WHERE id = $1
			`, jobID, errMessage); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'failed', ocr_failure_reason = $2, ocr_error = $3, updated_at = now()
			WHERE id = $1
		`, documentID, classifiedReason, errMessage); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM ocr_queue WHERE id = $1`, jobID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// TryAcquireLock attempts a session-level Postgres advisory lock keyed by a
// stable hash of name, glossary "stable hash of a name string" / spec.md
// section 4.4. Returns false if already held elsewhere. The caller must
// call ReleaseLock on the same connection to release it — callers should
// hold a dedicated connection via pool.Acquire for the lock's lifetime.
func TryAcquireLock(ctx context.Context, conn dbpool.Querier, name string) (bool, error) {
	var acquired bool
	err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired)
	return acquired, err
}

// ReleaseLock releases a lock previously acquired with TryAcquireLock, on
// the same connection.
func ReleaseLock(ctx context.Context, conn dbpool.Querier, name string) error {
	var released bool
	return conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name).Scan(&released)
}

// ConsistencyReport is the finding set from ConsistencyScan, spec.md
// section 4.3/4.4.
type ConsistencyReport struct {
	OrphanedQueueItems  []uuid.UUID // document already completed
	StuckProcessing     []uuid.UUID // documents, updated_at older than threshold
	QueueRowsNoDocument []uuid.UUID
}

// ConsistencyScan reports the three categories of drift spec.md section
// 4.1/4.3 describes, without mutating anything. Safe to run repeatedly.
func (g *Guardrails) ConsistencyScan(ctx context.Context, stuckThreshold time.Duration) (*ConsistencyReport, error) {
	report := &ConsistencyReport{}

	err := retrypolicy.Do(ctx, g.policy, "guardrails.consistency_scan", classify, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT oq.id FROM ocr_queue oq
			LEFT JOIN documents d ON d.id = oq.document_id
			WHERE d.id IS NULL
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			report.QueueRowsNoDocument = append(report.QueueRowsNoDocument, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	err = retrypolicy.Do(ctx, g.policy, "guardrails.consistency_scan_orphans", classify, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT oq.document_id FROM ocr_queue oq
			JOIN documents d ON d.id = oq.document_id
			WHERE d.ocr_status = 'completed'
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			report.OrphanedQueueItems = append(report.OrphanedQueueItems, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	err = retrypolicy.Do(ctx, g.policy, "guardrails.consistency_scan_stuck", classify, func(ctx context.Context) error {
		rows, err := g.db.Query(ctx, `
			SELECT id FROM documents
			WHERE ocr_status = 'processing' AND updated_at < now() - ($1 * interval '1 second')
		`, stuckThreshold.Seconds())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			report.StuckProcessing = append(report.StuckProcessing, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// Cleanup applies the fixes a ConsistencyReport implies: deletes orphaned
// queue rows, resets stuck documents to pending, and deletes queue rows
// whose document no longer exists. Safe to run repeatedly.
func (g *Guardrails) Cleanup(ctx context.Context, report *ConsistencyReport) error {
	return retrypolicy.Do(ctx, g.policy, "guardrails.cleanup", classify, func(ctx context.Context) error {
		for _, docID := range report.OrphanedQueueItems {
			if _, err := g.db.Exec(ctx, `DELETE FROM ocr_queue WHERE document_id = $1`, docID); err != nil {
				return err
			}
		}
		for _, docID := range report.StuckProcessing {
			if _, err := g.db.Exec(ctx, `
				UPDATE documents SET ocr_status = 'pending', updated_at = now() WHERE id = $1 AND ocr_status = 'processing'
			`, docID); err != nil {
				return err
			}
		}
		for _, id := range report.QueueRowsNoDocument {
			if _, err := g.db.Exec(ctx, `DELETE FROM ocr_queue WHERE id = $1`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// PoolHealth delegates to the underlying pool's health probe so operators
// have a single entry point for store observability alongside the other
// guardrails operations.
func (g *Guardrails) PoolHealth(ctx context.Context, timeout time.Duration) dbpool.Health {
	return g.health.Probe(ctx, timeout)
}
