package ocrqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPriorityForSize(t *testing.T) {
	cases := []struct {
		size int64
		want int
	}{
		{1, 15},
		{1 << 20, 15},
		{1<<20 + 1, 12},
		{5 << 20, 12},
		{10 << 20, 10},
		{50 << 20, 8},
		{51 << 20, 6},
	}
	for _, c := range cases {
		if got := PriorityForSize(c.size); got != c.want {
			t.Errorf("PriorityForSize(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestClampPriority(t *testing.T) {
	if got := ClampPriority(0); got != 1 {
		t.Errorf("expected clamp to 1, got %d", got)
	}
	if got := ClampPriority(25); got != 20 {
		t.Errorf("expected clamp to 20, got %d", got)
	}
	if got := ClampPriority(10); got != 10 {
		t.Errorf("expected 10 unchanged, got %d", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want FailureReason
	}{
		{"confidence below threshold", ReasonLowConfidence},
		{"context deadline exceeded", ReasonTimeout},
		{"request timeout", ReasonTimeout},
		{"out of memory (oom)", ReasonMemoryLimit},
		{"unsupported font encoding", ReasonPDFFontEncoding},
		{"pdf stream malformed", ReasonPDFParsing},
		{"file is corrupt", ReasonFileCorrupted},
		{"unsupported format: .xyz", ReasonUnsupported},
		{"access denied reading file", ReasonAccessDenied},
		{"permission denied", ReasonAccessDenied},
		{"something unexpected happened", ReasonOther},
	}
	for _, c := range cases {
		if got := Classify(c.msg); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.msg, got, c.want)
		}
	}
}

// fakeRow/fakeQuerier mirror the same hand-rolled shape used in the
// registry package's tests.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.execFn(ctx, sql, args...)
}
func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryFn != nil {
		return f.queryFn(ctx, sql, args...)
	}
	panic("not used by ocrqueue tests")
}
func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRowFn(ctx, sql, args...)
}
func (f *fakeQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	panic("not used by ocrqueue tests")
}

func notFoundRow() fakeRow {
	return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func TestDequeue_NoClaimableJob(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return notFoundRow()
		},
	}
	queue := New(q, nil)
	job, err := queue.Dequeue(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job != nil {
		t.Fatal("expected nil job when nothing claimable")
	}
}

func TestDequeue_DeletesOrphanWhenDocumentGone(t *testing.T) {
	jobID := uuid.New()
	docID := uuid.New()
	deleteCalled := false
	queryRowCalls := 0
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			queryRowCalls++
			if queryRowCalls == 2 {
				// documentClaimable's SELECT ocr_status — simulate missing document.
				return notFoundRow()
			}
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = jobID
				*(dest[1].(*uuid.UUID)) = docID
				*(dest[2].(*int)) = 10
				*(dest[3].(*Status)) = StatusProcessing
				*(dest[4].(*int)) = 1
				*(dest[5].(*int)) = 3
				return nil
			}}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			deleteCalled = true
			return pgconn.NewCommandTag("DELETE 1"), nil
		},
	}
	queue := New(q, nil)
	job, err := queue.Dequeue(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if job != nil {
		t.Fatal("expected nil job for an orphaned claim")
	}
	if !deleteCalled {
		t.Fatal("expected the orphaned row to be deleted")
	}
}

func TestFail_ResetsToPendingWhenAttemptsRemain(t *testing.T) {
	jobID := uuid.New()
	docID := uuid.New()
	var updatedStatus string
	calls := 0
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			calls++
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = jobID
				*(dest[1].(*uuid.UUID)) = docID
				*(dest[2].(*int)) = 10
				*(dest[3].(*Status)) = StatusProcessing
				*(dest[4].(*int)) = 1 // attempts
				*(dest[5].(*int)) = 3 // max_attempts
				return nil
			}}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			updatedStatus = "pending-reset"
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	queue := New(q, nil)
	if err := queue.Fail(context.Background(), jobID, "transient OCR worker error"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if updatedStatus != "pending-reset" {
		t.Fatal("expected the job to be reset to pending")
	}
}

func TestFail_ExhaustedMarksDocumentFailed(t *testing.T) {
	jobID := uuid.New()
	docID := uuid.New()
	var gotReason string
	execCalls := 0
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = jobID
				*(dest[1].(*uuid.UUID)) = docID
				*(dest[2].(*int)) = 10
				*(dest[3].(*Status)) = StatusProcessing
				*(dest[4].(*int)) = 3 // attempts == max_attempts
				*(dest[5].(*int)) = 3
				return nil
			}}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			execCalls++
			if execCalls == 1 {
				gotReason = args[1].(string)
			}
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	queue := New(q, nil)
	if err := queue.Fail(context.Background(), jobID, "pdf stream malformed"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotReason != string(ReasonPDFParsing) {
		t.Fatalf("expected classified reason %s, got %s", ReasonPDFParsing, gotReason)
	}
	if execCalls != 2 {
		t.Fatalf("expected 2 exec calls (mark document failed + delete queue row), got %d", execCalls)
	}
}

func TestFail_NotFound(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return notFoundRow()
		},
	}
	queue := New(q, nil)
	err := queue.Fail(context.Background(), uuid.New(), "whatever")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
