package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow is a hand-rolled pgx.Row, the same style as the teacher's fakes
// for aws.DynamoDBClient in the coordinator tests: a struct with a function
// field standing in for the single method under test.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// fakeQuerier implements dbpool.Querier with per-call hooks, letting each
// test wire only the methods it exercises.
type fakeQuerier struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (f *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.execFn(ctx, sql, args...)
}

func (f *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not used by registry tests")
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.queryRowFn(ctx, sql, args...)
}

func (f *fakeQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	panic("not used by registry tests")
}

func notFoundRow() fakeRow {
	return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func TestFindByUserAndHash_NotFound(t *testing.T) {
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return notFoundRow()
		},
	}
	r := New(q, nil)
	doc, err := r.FindByUserAndHash(context.Background(), uuid.New(), "abc")
	if err != nil {
		t.Fatalf("expected nil error on not-found, got %v", err)
	}
	if doc != nil {
		t.Fatal("expected nil document when absent")
	}
}

func TestCreate_SucceedsWhenNoExistingRow(t *testing.T) {
	userID := uuid.New()
	execCalled := false
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return notFoundRow()
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			execCalled = true
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	r := New(q, nil)
	doc := &Document{UserID: userID, SHA256: "deadbeef", Filename: "a.pdf"}
	created, err := r.Create(context.Background(), doc)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !execCalled {
		t.Fatal("expected INSERT to be issued")
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected a generated id")
	}
	if created.OCRStatus != OCRPending {
		t.Fatalf("expected default status pending, got %s", created.OCRStatus)
	}
}

func TestCreate_DuplicateViaPreCheck(t *testing.T) {
	existingID := uuid.New()
	userID := uuid.New()
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = existingID
				return nil
			}}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			t.Fatal("INSERT should not be issued when the pre-check finds a row")
			return pgconn.CommandTag{}, nil
		},
	}
	r := New(q, nil)
	_, err := r.Create(context.Background(), &Document{UserID: userID, SHA256: "dup"})
	var dup *ErrDuplicateContent
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateContent, got %v", err)
	}
	if dup.ExistingID != existingID {
		t.Fatalf("expected existing id %s, got %s", existingID, dup.ExistingID)
	}
}

func TestCreate_DuplicateViaUniqueViolation(t *testing.T) {
	userID := uuid.New()
	existingID := uuid.New()
	calls := 0
	q := &fakeQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			calls++
			if calls == 1 {
				// Pre-check sees nothing (a race: another insert wins first).
				return notFoundRow()
			}
			return fakeRow{scan: func(dest ...any) error {
				*(dest[0].(*uuid.UUID)) = existingID
				return nil
			}}
		},
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: uniqueViolation}
		},
	}
	r := New(q, nil)
	_, err := r.Create(context.Background(), &Document{UserID: userID, SHA256: "dup"})
	var dup *ErrDuplicateContent
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateContent from the authoritative constraint, got %v", err)
	}
	if dup.ExistingID != existingID {
		t.Fatalf("expected existing id %s, got %s", existingID, dup.ExistingID)
	}
}

func TestResetForRetry_RejectsNonFailed(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	r := New(q, nil)
	err := r.ResetForRetry(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFailed) {
		t.Fatalf("expected ErrNotFailed, got %v", err)
	}
}

func TestResetForRetry_Succeeds(t *testing.T) {
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	r := New(q, nil)
	if err := r.ResetForRetry(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestMarkFailed_IssuesUpdate(t *testing.T) {
	var gotReason string
	q := &fakeQuerier{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotReason = args[1].(string)
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	r := New(q, nil)
	if err := r.MarkFailed(context.Background(), uuid.New(), "unsupported_format", "bad magic bytes"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotReason != "unsupported_format" {
		t.Fatalf("expected reason to be passed through, got %q", gotReason)
	}
}
