// Package workerpool implements the OCR worker pool of spec.md section 4.1
// (C1): N worker goroutines each looping dequeue -> process -> report,
// bounded by a concurrency throttle independent of worker count, plus the
// stuck-job recovery sweep run at boot and on a timer.
//
// This is the direct structural descendant of the teacher's
// coordinator.Coordinator: per-worker status tracking under an RWMutex,
// a ticker-driven progress reporter, and signal.NotifyContext-based
// graceful shutdown (set up by the caller of Run, same as the teacher's
// Coordinator.Run). Where the teacher's worker pulls from a closed task
// channel fed by a bounded manifest, this pool's workers pull from the
// database via guardrails.ClaimOCRJob — an unbounded, persistent queue
// with no natural "drained" signal, so each worker backs off and retries
// instead of exiting when the queue is momentarily empty.
package workerpool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/docvault/ingestd/guardrails"
	"github.com/docvault/ingestd/ocrqueue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor performs the actual OCR recognition for a document's stored
// bytes. The engine itself (Tesseract bindings, a remote OCR API, etc.) is
// outside this package's concern; workerpool only needs its contract.
type Processor interface {
	Process(ctx context.Context, documentID uuid.UUID, storagePath string) (text string, confidence float64, wordCount int, err error)
}

// Guardrails is the slice of *guardrails.Guardrails this pool drives,
// narrowed to an interface — the same interface/implementation split the
// teacher uses for aws.DynamoDBClient — so tests can fake the transactional
// boundary without a live Postgres connection.
type Guardrails interface {
	ClaimOCRJob(ctx context.Context, workerID string) (uuid.UUID, uuid.UUID, error)
	HandleOCRFailure(ctx context.Context, jobID, documentID uuid.UUID, errMessage, classifiedReason string) error
	CompleteOCR(ctx context.Context, documentID uuid.UUID, expectedFilename, text string, confidence float64, wordCount int, processingMs int, confidenceFloor float64) (guardrails.Outcome, error)
	ConsistencyScan(ctx context.Context, stuckThreshold time.Duration) (*guardrails.ConsistencyReport, error)
	Cleanup(ctx context.Context, report *guardrails.ConsistencyReport) error
}

var _ Guardrails = (*guardrails.Guardrails)(nil)

// DocumentLookup resolves the filename/storage path a claimed job needs to
// hand to Processor and to satisfy CompleteOCR's filename check, plus the
// owning user's confidence-floor override.
type DocumentLookup interface {
	FilenameAndPath(ctx context.Context, documentID uuid.UUID) (filename, storagePath string, err error)
	MinConfidenceOverride(ctx context.Context, documentID uuid.UUID) (*float64, error)
}

// Status tracks one worker's progress for monitoring, mirroring the
// teacher's WorkerStatus — fields ordered largest-to-smallest.
type Status struct {
	LastErrorTime time.Time
	StartTime     time.Time
	LastActive    time.Time
	LastError     error
	CurrentJob    uuid.UUID
	Processed     int64
	Failed        int64
	ID            int
}

// Config controls pool sizing, matching the environment variables of the
// expanded configuration surface (OCR_WORKER_COUNT, OCR_CONCURRENCY_LIMIT,
// OCR_JOB_TIMEOUT, OCR_STUCK_THRESHOLD).
type Config struct {
	WorkerCount        int
	ConcurrencyLimit   int
	JobTimeout         time.Duration
	StuckThreshold     time.Duration
	ProgressInterval   time.Duration
	DequeueBackoffBase time.Duration
	DequeueBackoffCap  time.Duration

	// MinConfidenceFor resolves the confidence floor to apply for a job,
	// given the owning user's override (nil if they have none) — Open
	// Question 3, normally bound to a *config.Config's MinConfidenceFor.
	MinConfidenceFor func(userOverride *float64) float64
}

// Pool runs the OCR worker pool described in spec.md section 4.1.
type Pool struct {
	guardrails Guardrails
	processor  Processor
	lookup     DocumentLookup
	cfg        Config
	throttle   chan struct{}

	statusMu sync.RWMutex
	status   map[int]*Status

	logger *zap.Logger
}

// New constructs a Pool. g handles claim/fail/complete transactions,
// processor performs recognition, lookup resolves filename/path per job.
// logger receives periodic progress and sweep-failure logs; nil discards
// them.
func New(g Guardrails, processor Processor, lookup DocumentLookup, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		guardrails: g,
		processor:  processor,
		lookup:     lookup,
		cfg:        cfg,
		throttle:   make(chan struct{}, cfg.ConcurrencyLimit),
		status:     make(map[int]*Status),
		logger:     logger,
	}
}

// Run starts the pool: the boot-time stuck-job sweep, N worker goroutines,
// a periodic stuck-job sweep, and the progress reporter. Blocks until ctx
// is cancelled, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.sweepStuckJobs(ctx); err != nil {
		return fmt.Errorf("boot-time stuck job sweep: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.initStatus(workerID)
			p.worker(ctx, workerID)
		}(i)
	}

	go p.sweepLoop(ctx)
	go p.reportProgress(ctx)

	wg.Wait()
	return nil
}

func (p *Pool) initStatus(id int) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status[id] = &Status{ID: id, StartTime: time.Now()}
}

func (p *Pool) updateStatus(id int, fn func(*Status)) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if s, ok := p.status[id]; ok {
		fn(s)
		s.LastActive = time.Now()
	}
}

// worker implements the dequeue -> process -> report loop of spec.md
// section 4.1. An empty queue triggers exponential backoff up to a cap,
// the same shape as the teacher's backoffWait, but bounded rather than
// retrying forever on one item — there is always a next dequeue attempt.
func (p *Pool) worker(ctx context.Context, workerID int) {
	workerIDStr := fmt.Sprintf("worker-%d", workerID)
	backoff := p.cfg.DequeueBackoffBase

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, documentID, err := p.guardrails.ClaimOCRJob(ctx, workerIDStr)
		if err != nil {
			p.updateStatus(workerID, func(s *Status) {
				s.LastError = err
				s.LastErrorTime = time.Now()
			})
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, p.cfg.DequeueBackoffCap)
			continue
		}
		if jobID == uuid.Nil {
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, p.cfg.DequeueBackoffCap)
			continue
		}

		backoff = p.cfg.DequeueBackoffBase
		p.processOne(ctx, workerID, jobID, documentID)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, cap time.Duration) time.Duration {
	next := current * 2
	if next > cap {
		next = cap
	}
	jitter := time.Duration(rand.Int64N(int64(next/4 + 1)))
	return next + jitter
}

// processOne runs a single claimed job through the throttle, the
// processor, and the guardrails completion transaction.
func (p *Pool) processOne(ctx context.Context, workerID int, jobID, documentID uuid.UUID) {
	select {
	case p.throttle <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-p.throttle }()

	p.updateStatus(workerID, func(s *Status) { s.CurrentJob = jobID })

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	filename, storagePath, err := p.lookup.FilenameAndPath(jobCtx, documentID)
	if err != nil {
		p.fail(ctx, workerID, jobID, documentID, err)
		return
	}

	text, confidence, wordCount, err := p.processor.Process(jobCtx, documentID, storagePath)
	if err != nil {
		p.fail(ctx, workerID, jobID, documentID, err)
		return
	}

	override, err := p.lookup.MinConfidenceOverride(jobCtx, documentID)
	if err != nil {
		p.fail(ctx, workerID, jobID, documentID, err)
		return
	}
	confidenceFloor := p.cfg.MinConfidenceFor(override)

	processingMs := int(time.Since(start).Milliseconds())
	outcome, err := p.guardrails.CompleteOCR(ctx, documentID, filename, text, confidence, wordCount, processingMs, confidenceFloor)
	if err != nil {
		p.fail(ctx, workerID, jobID, documentID, err)
		return
	}

	p.updateStatus(workerID, func(s *Status) {
		s.CurrentJob = uuid.Nil
		if outcome == guardrails.OutcomeCompleted {
			s.Processed++
		} else {
			s.Failed++
		}
	})
}

func (p *Pool) fail(ctx context.Context, workerID int, jobID, documentID uuid.UUID, cause error) {
	reason := string(ocrqueue.Classify(cause.Error()))
	if err := p.guardrails.HandleOCRFailure(ctx, jobID, documentID, cause.Error(), reason); err != nil {
		p.logger.Warn("record ocr failure", zap.String("document_id", documentID.String()), zap.Error(err))
		p.updateStatus(workerID, func(s *Status) {
			s.LastError = err
			s.LastErrorTime = time.Now()
		})
		return
	}
	p.updateStatus(workerID, func(s *Status) {
		s.CurrentJob = uuid.Nil
		s.Failed++
		s.LastError = cause
		s.LastErrorTime = time.Now()
	})
}

// sweepLoop runs sweepStuckJobs at half the stuck-threshold cadence, so a
// document can be stuck for at most 1.5x the threshold before recovery.
func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StuckThreshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.sweepStuckJobs(ctx); err != nil {
				p.logger.Warn("stuck job sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) sweepStuckJobs(ctx context.Context) error {
	report, err := p.guardrails.ConsistencyScan(ctx, p.cfg.StuckThreshold)
	if err != nil {
		return err
	}
	return p.guardrails.Cleanup(ctx, report)
}

func (p *Pool) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.statusMu.RLock()
			var processed, failed int64
			active := 0
			for _, s := range p.status {
				if time.Since(s.LastActive) < p.cfg.ProgressInterval*2 {
					active++
				}
				processed += s.Processed
				failed += s.Failed
			}
			p.statusMu.RUnlock()
			p.logger.Info("ocr worker progress",
				zap.Int64("processed", processed), zap.Int64("failed", failed), zap.Int("active", active))
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot returns a copy of every worker's current status for
// introspection (e.g. an admin endpoint).
func (p *Pool) Snapshot() map[int]Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	out := make(map[int]Status, len(p.status))
	for id, s := range p.status {
		out[id] = *s
	}
	return out
}
