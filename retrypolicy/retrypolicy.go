// Package retrypolicy implements the single retry wrapper that subsumes the
// two overlapping wrappers spec.md flags in its Open Questions (section 9).
// Every database call in registry, ocrqueue, guardrails, and syncengine
// goes through Do, labelled for logging and classified by Kind so the
// wrapper only ever inspects the kind, never error strings, per section 9's
// error-surface design note.
package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Kind is the small set of typed error kinds described in spec.md section 9.
type Kind int

const (
	// Transient covers pool exhaustion, connection reset, timeout, lock
	// contention — retried with backoff.
	Transient Kind = iota
	// Conflict covers uniqueness violations and concurrent updates —
	// surfaced to the caller as typed outcomes, not retried.
	Conflict
	// Precondition covers filename mismatch, already-completed OCR, a
	// stale job lease — logged, abandoned, not retried.
	Precondition
	// Permanent covers unsupported format, corrupted input, access denied —
	// classified and recorded, not retried automatically.
	Permanent
	// Cancelled covers user stop or shutdown.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Conflict:
		return "conflict"
	case Precondition:
		return "precondition"
	case Permanent:
		return "permanent"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classified wraps an error with its Kind so errors.As recovers both the
// kind and the original cause at any call site.
type Classified struct {
	Kind  Kind
	Label string
	Err   error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %s: %v", c.Label, c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Classifier decides the Kind of an error returned by an operation. fn may
// return a nil error (success) or any error; Classifier is only consulted
// on non-nil errors.
type Classifier func(error) Kind

// Policy controls attempt count and backoff shape. The zero value is not
// usable; use Default() or New() to obtain one.
type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Logger receives a warning per retried attempt and the final failure.
	// Nil is valid and logs nothing, matching the zero value constructed by
	// code that has no logger to give it (e.g. tests).
	Logger *zap.Logger
}

// Default returns the standard policy from spec.md section 5: max 3
// attempts, exponential backoff 100ms * 2^n with jitter, capped at 2s.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do runs fn, retrying on Transient-classified errors per p, and returns the
// last error (wrapped as *Classified) if it never succeeds. Non-Transient
// errors are returned immediately without retrying, labelled for the
// caller's logs.
func Do(ctx context.Context, p Policy, label string, classify Classifier, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(p.BaseDelay)
	backoff = retry.WithMaxRetries(p.MaxAttempts-1, backoff)
	backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	var lastKind Kind
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		kind := classify(err)
		lastKind = kind

		if kind != Transient {
			// A plain (non-RetryableError) return stops retry.Do immediately.
			return &Classified{Kind: kind, Label: label, Err: err}
		}

		if p.Logger != nil {
			p.Logger.Warn("retrying after transient error", zap.String("op", label), zap.Error(err))
		}
		return retry.RetryableError(err)
	})

	if err == nil {
		return nil
	}

	var classified *Classified
	if !errors.As(err, &classified) {
		classified = &Classified{Kind: lastKind, Label: label, Err: err}
	}
	if p.Logger != nil && classified.Kind == Transient {
		p.Logger.Error("operation failed after retries", zap.String("op", label), zap.Error(classified.Err))
	}
	return classified
}

// IsKind reports whether err carries the given Kind via a *Classified
// wrapper anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind == kind
	}
	return false
}
