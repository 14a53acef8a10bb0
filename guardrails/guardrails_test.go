package guardrails

import (
	"context"
	"testing"
	"time"

	"github.com/docvault/ingestd/dbpool"
	"github.com/docvault/ingestd/retrypolicy"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func defaultTestPolicy() retrypolicy.Policy {
	return retrypolicy.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

// fakeRow/fakeQuerier/fakeTx are hand-rolled test doubles in the same style
// as registry and ocrqueue's fakes, extended with transaction support since
// guardrails is the one package that needs Begin/Commit/Rollback.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeTx embeds the pgx.Tx interface (nil) so any method this package
// doesn't exercise panics loudly instead of silently doing nothing.
type fakeTx struct {
	pgx.Tx
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	committed  *bool
	rolledBack *bool
}

func (t fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.queryRowFn(ctx, sql, args...)
}
func (t fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.execFn(ctx, sql, args...)
}
func (t fakeTx) Commit(ctx context.Context) error {
	*t.committed = true
	return nil
}
func (t fakeTx) Rollback(ctx context.Context) error {
	if !*t.committed {
		*t.rolledBack = true
	}
	return nil
}

type fakeQuerier struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	panic("not used directly on the querier in these tests")
}
func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not used by these tests")
}
func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRowFn(ctx, sql, args...)
}
func (f *fakeQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	return f.beginFn(ctx)
}

func newGuardrailsWithQuerier(q dbpool.Querier) *Guardrails {
	return &Guardrails{db: q, policy: defaultTestPolicy()}
}

func TestCompleteOCR_NotFound(t *testing.T) {
	committed, rolledBack := false, false
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: &rolledBack,
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	outcome, err := g.CompleteOCR(context.Background(), uuid.New(), "a.pdf", "text", 90, 10, 100, 50)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Fatalf("expected NotFound, got %s", outcome)
	}
	if committed {
		t.Fatal("expected no commit on NotFound")
	}
}

func TestCompleteOCR_Mismatch(t *testing.T) {
	committed, rolledBack := false, false
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: &rolledBack,
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*string)) = "other.pdf"
						*(dest[1].(*string)) = "processing"
						return nil
					}}
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	outcome, err := g.CompleteOCR(context.Background(), uuid.New(), "a.pdf", "text", 90, 10, 100, 50)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome != OutcomeMismatch {
		t.Fatalf("expected Mismatch, got %s", outcome)
	}
}

func TestCompleteOCR_AlreadyDone(t *testing.T) {
	committed, rolledBack := false, false
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: &rolledBack,
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*string)) = "a.pdf"
						*(dest[1].(*string)) = "completed"
						return nil
					}}
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	outcome, err := g.CompleteOCR(context.Background(), uuid.New(), "a.pdf", "text", 90, 10, 100, 50)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome != OutcomeAlreadyDone {
		t.Fatalf("expected AlreadyDone, got %s", outcome)
	}
}

func TestCompleteOCR_QualityRejected(t *testing.T) {
	committed, rolledBack := false, false
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: &rolledBack,
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*string)) = "a.pdf"
						*(dest[1].(*string)) = "processing"
						return nil
					}}
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	outcome, err := g.CompleteOCR(context.Background(), uuid.New(), "a.pdf", "", 95, 0, 100, 50)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome != OutcomeQualityRejected {
		t.Fatalf("expected QualityRejected, got %s", outcome)
	}
}

func TestCompleteOCR_Success(t *testing.T) {
	committed, rolledBack := false, false
	execCalls := 0
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: &rolledBack,
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*string)) = "a.pdf"
						*(dest[1].(*string)) = "processing"
						return nil
					}}
				},
				execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					execCalls++
					return pgconn.NewCommandTag("UPDATE 1"), nil
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	outcome, err := g.CompleteOCR(context.Background(), uuid.New(), "a.pdf", "recognized text", 90, 5, 200, 50)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected Completed, got %s", outcome)
	}
	if !committed {
		t.Fatal("expected the transaction to be committed")
	}
	if execCalls != 2 {
		t.Fatalf("expected 2 exec calls (update document + delete queue row), got %d", execCalls)
	}
}

func TestClaimOCRJob_NoneClaimable(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	g := newGuardrailsWithQuerier(q)
	jobID, docID, err := g.ClaimOCRJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if jobID != uuid.Nil || docID != uuid.Nil {
		t.Fatal("expected nil uuids when nothing claimable")
	}
}

func TestClaimOCRJob_Claims(t *testing.T) {
	wantJob, wantDoc := uuid.New(), uuid.New()
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = wantJob
				*(dest[1].(*uuid.UUID)) = wantDoc
				return nil
			}}
		},
	}
	g := newGuardrailsWithQuerier(q)
	jobID, docID, err := g.ClaimOCRJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if jobID != wantJob || docID != wantDoc {
		t.Fatalf("expected (%s,%s), got (%s,%s)", wantJob, wantDoc, jobID, docID)
	}
}

func TestHandleOCRFailure_RetainsAttempt(t *testing.T) {
	committed := false
	execCalls := 0
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: new(bool),
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*int)) = 1
						*(dest[1].(*int)) = 3
						return nil
					}}
				},
				execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					execCalls++
					return pgconn.NewCommandTag("UPDATE 1"), nil
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	err := g.HandleOCRFailure(context.Background(), uuid.New(), uuid.New(), "transient error", "other")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !committed {
		t.Fatal("expected commit")
	}
	if execCalls != 1 {
		t.Fatalf("expected 1 exec (reset to pending), got %d", execCalls)
	}
}

func TestHandleOCRFailure_Exhausted(t *testing.T) {
	committed := false
	execCalls := 0
	q := &fakeQuerier{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return fakeTx{
				committed:  &committed,
				rolledBack: new(bool),
				queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
					return fakeRow{scan: func(dest ...any) error {
						*(dest[0].(*int)) = 3
						*(dest[1].(*int)) = 3
						return nil
					}}
				},
				execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
					execCalls++
					return pgconn.NewCommandTag("UPDATE 1"), nil
				},
			}, nil
		},
	}
	g := newGuardrailsWithQuerier(q)
	err := g.HandleOCRFailure(context.Background(), uuid.New(), uuid.New(), "fatal error", "other")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !committed {
		t.Fatal("expected commit")
	}
	if execCalls != 2 {
		t.Fatalf("expected 2 execs (mark document failed + delete queue row), got %d", execCalls)
	}
}

func TestPoolHealth_DelegatesToProber(t *testing.T) {
	want := dbpool.Health{Size: 5, Idle: 2, UtilizationPct: 60}
	g := &Guardrails{health: stubProber{health: want}, policy: defaultTestPolicy()}
	got := g.PoolHealth(context.Background(), time.Second)
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

type stubProber struct{ health dbpool.Health }

func (s stubProber) Probe(ctx context.Context, timeout time.Duration) dbpool.Health {
	return s.health
}
