// Package ocrqueue implements the OCR work-queue persistence of spec.md
// section 4.1 (C1): enqueue, dequeue, fail, retry_reset, priority bucketing
// by file size, and the failure-reason classification taxonomy.
//
// Dequeue's single SKIP LOCKED UPDATE is the same "one atomic claim, no
// lost updates between workers" discipline as the teacher's checkpoint.Store
// interface — a narrow persistence surface every worker goroutine shares
// without coordinating among themselves.
package ocrqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/retrypolicy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Status is the OcrQueueJob lifecycle state, spec.md section 3.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DefaultMaxAttempts is the default max_attempts for a new job, spec.md
// section 3.
const DefaultMaxAttempts = 3

// Job mirrors the OcrQueueJob entity of spec.md section 3.
type Job struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	Priority     int
	Status       Status
	Attempts     int
	MaxAttempts  int
	WorkerID     *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
	FileSize     int64
}

// FailureReason is the closed taxonomy spec.md section 4.1 classifies
// OCR failures into.
type FailureReason string

const (
	ReasonLowConfidence   FailureReason = "low_ocr_confidence"
	ReasonTimeout         FailureReason = "ocr_timeout"
	ReasonMemoryLimit     FailureReason = "ocr_memory_limit"
	ReasonPDFParsing      FailureReason = "pdf_parsing_error"
	ReasonPDFFontEncoding FailureReason = "pdf_font_encoding"
	ReasonFileCorrupted   FailureReason = "file_corrupted"
	ReasonUnsupported     FailureReason = "unsupported_format"
	ReasonAccessDenied    FailureReason = "access_denied"
	ReasonOther           FailureReason = "other"
)

// Classify maps a raw OCR error message to its failure-reason bucket,
// spec.md section 4.1. Matching is substring-based against the lower-cased
// message, same coarse approach a caller's logs would use.
func Classify(errMessage string) FailureReason {
	m := strings.ToLower(errMessage)
	switch {
	case strings.Contains(m, "confidence"):
		return ReasonLowConfidence
	case strings.Contains(m, "timeout") || strings.Contains(m, "deadline exceeded"):
		return ReasonTimeout
	case strings.Contains(m, "memory") || strings.Contains(m, "oom"):
		return ReasonMemoryLimit
	case strings.Contains(m, "font") || strings.Contains(m, "encoding"):
		return ReasonPDFFontEncoding
	case strings.Contains(m, "pdf"):
		return ReasonPDFParsing
	case strings.Contains(m, "corrupt") || strings.Contains(m, "truncated"):
		return ReasonFileCorrupted
	case strings.Contains(m, "unsupported") || strings.Contains(m, "unknown format"):
		return ReasonUnsupported
	case strings.Contains(m, "permission") || strings.Contains(m, "access denied") || strings.Contains(m, "forbidden"):
		return ReasonAccessDenied
	default:
		return ReasonOther
	}
}

// PriorityForSize buckets a file size into a priority per spec.md section
// 4.1: smaller files run first. The result is always within [1,20].
func PriorityForSize(size int64) int {
	const mib = 1 << 20
	switch {
	case size <= 1*mib:
		return 15
	case size <= 5*mib:
		return 12
	case size <= 10*mib:
		return 10
	case size <= 50*mib:
		return 8
	default:
		return 6
	}
}

// ClampPriority bounds a caller-supplied priority override to [1,20].
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 20 {
		return 20
	}
	return p
}

// ErrNotFound is returned when an operation targets a queue row that does
// not exist (or was already claimed/removed).
var ErrNotFound = errors.New("ocrqueue: job not found")

// ErrNotFailed is returned by RetryReset when a target document is not
// currently in the failed state.
var ErrNotFailed = errors.New("ocrqueue: document is not in failed state")

// Queue is the OCR work-queue store.
type Queue struct {
	db     dbpool.Querier
	policy retrypolicy.Policy
}

// New constructs a Queue over db using the default retry policy. logger
// receives a warning on each retried database call; nil logs nothing.
func New(db dbpool.Querier, logger *zap.Logger) *Queue {
	policy := retrypolicy.Default()
	policy.Logger = logger
	return &Queue{db: db, policy: policy}
}

func classify(err error) retrypolicy.Kind {
	if errors.Is(err, pgx.ErrNoRows) {
		return retrypolicy.Precondition
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return retrypolicy.Conflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrypolicy.Cancelled
	}
	return retrypolicy.Transient
}

func (q *Queue) retryDo(ctx context.Context, label string, fn func(context.Context) error) error {
	return retrypolicy.Do(ctx, q.policy, label, classify, fn)
}

// Enqueue inserts a pending job for documentID at the given priority,
// spec.md section 4.1. It is idempotent while a non-terminal row exists for
// the document — the partial unique index on (document_id) WHERE status IN
// ('pending','processing') makes a second enqueue a no-op that returns the
// existing job's id.
func (q *Queue) Enqueue(ctx context.Context, documentID uuid.UUID, priority int, fileSize int64) (uuid.UUID, error) {
	id := uuid.New()
	priority = ClampPriority(priority)

	err := q.retryDo(ctx, "ocrqueue.enqueue", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `
			INSERT INTO ocr_queue (id, document_id, priority, status, attempts, max_attempts, file_size, created_at)
			VALUES ($1,$2,$3,'pending',0,$4,$5,now())
			ON CONFLICT DO NOTHING
		`, id, documentID, priority, DefaultMaxAttempts, fileSize)
		return err
	})
	if err != nil {
		return uuid.Nil, err
	}

	existing, err := q.findByDocument(ctx, documentID)
	if err != nil {
		return uuid.Nil, err
	}
	if existing == nil {
		return uuid.Nil, ErrNotFound
	}
	return existing.ID, nil
}

func (q *Queue) findByDocument(ctx context.Context, documentID uuid.UUID) (*Job, error) {
	var j Job
	err := q.retryDo(ctx, "ocrqueue.find_by_document", func(ctx context.Context) error {
		row := q.db.QueryRow(ctx, `
			SELECT id, document_id, priority, status, attempts, max_attempts,
			       worker_id, created_at, started_at, completed_at, error_message, file_size
			FROM ocr_queue
			WHERE document_id = $1 AND status IN ('pending','processing')
		`, documentID)
		return scanJob(row, &j)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func scanJob(row pgx.Row, j *Job) error {
	return row.Scan(
		&j.ID, &j.DocumentID, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.WorkerID, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.FileSize,
	)
}

// Dequeue atomically claims the highest-priority, oldest pending job for
// workerID, spec.md section 4.1: SKIP LOCKED so concurrent workers never
// observe the same row, flip to processing, stamp started_at/worker_id,
// bump attempts. Returns (nil, nil) if no claimable job exists.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	var j Job
	err := q.retryDo(ctx, "ocrqueue.dequeue", func(ctx context.Context) error {
		row := q.db.QueryRow(ctx, `
			UPDATE ocr_queue
			SET status = 'processing', worker_id = $1, started_at = now(), attempts = attempts + 1
			WHERE id = (
				SELECT id FROM ocr_queue
				WHERE status = 'pending' AND attempts < max_attempts
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, document_id, priority, status, attempts, max_attempts,
			          worker_id, created_at, started_at, completed_at, error_message, file_size
		`, workerID)
		return scanJob(row, &j)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	ok, err := q.documentClaimable(ctx, j.DocumentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if delErr := q.deleteRow(ctx, j.ID); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}
	return &j, nil
}

// documentClaimable reports whether the referenced document still exists
// and is not already completed, spec.md section 4.1's Dequeue step.
func (q *Queue) documentClaimable(ctx context.Context, documentID uuid.UUID) (bool, error) {
	var status string
	err := q.retryDo(ctx, "ocrqueue.check_document", func(ctx context.Context) error {
		return q.db.QueryRow(ctx, `SELECT ocr_status FROM documents WHERE id = $1`, documentID).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status != "completed", nil
}

func (q *Queue) deleteRow(ctx context.Context, id uuid.UUID) error {
	return q.retryDo(ctx, "ocrqueue.delete_orphan", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `DELETE FROM ocr_queue WHERE id = $1`, id)
		return err
	})
}

// Fail records a job attempt's failure, spec.md section 4.1: if attempts
// remain, resets to pending for another pass; otherwise marks the
// referenced document failed with the classified reason and removes the
// queue row.
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, errMessage string) error {
	var j Job
	err := q.retryDo(ctx, "ocrqueue.fail_read", func(ctx context.Context) error {
		row := q.db.QueryRow(ctx, `
			SELECT id, document_id, priority, status, attempts, max_attempts,
			       worker_id, created_at, started_at, completed_at, error_message, file_size
			FROM ocr_queue WHERE id = $1 FOR UPDATE
		`, jobID)
		return scanJob(row, &j)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if j.Attempts < j.MaxAttempts {
		return q.retryDo(ctx, "ocrqueue.fail_reset_pending", func(ctx context.Context) error {
			_, err := q.db.Exec(ctx, `
				UPDATE ocr_queue
				SET status = 'pending', worker_id = NULL, started_at = NULL, error_message = $2
				WHERE id = $1
			`, jobID, errMessage)
			return err
		})
	}

	reason := Classify(errMessage)
	return q.retryDo(ctx, "ocrqueue.fail_exhausted", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'failed', ocr_failure_reason = $2, ocr_error = $3, updated_at = now()
			WHERE id = $1
		`, j.DocumentID, string(reason), errMessage)
		if err != nil {
			return err
		}
		_, err = q.db.Exec(ctx, `DELETE FROM ocr_queue WHERE id = $1`, jobID)
		return err
	})
}

// RetryReset clears a document's OCR outputs and re-enqueues it, spec.md
// section 4.1's retry_reset: only valid for documents currently failed.
// priority of 0 means "use the size-based bucket."
func (q *Queue) RetryReset(ctx context.Context, documentID uuid.UUID, priority int, fileSize int64) (uuid.UUID, error) {
	var rowsAffected int64
	err := q.retryDo(ctx, "ocrqueue.retry_reset", func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE documents
			SET ocr_status = 'pending',
			    ocr_text = NULL, ocr_error = NULL, ocr_confidence = NULL,
			    ocr_word_count = NULL, ocr_processing_time_ms = NULL,
			    ocr_failure_reason = NULL, ocr_retry_count = ocr_retry_count + 1,
			    updated_at = now()
			WHERE id = $1 AND ocr_status = 'failed'
		`, documentID)
		if err != nil {
			return err
		}
		rowsAffected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	if rowsAffected != 1 {
		return uuid.Nil, ErrNotFailed
	}

	if priority <= 0 {
		priority = PriorityForSize(fileSize)
	}
	return q.Enqueue(ctx, documentID, priority, fileSize)
}
