// Package etag implements RFC 7232 ETag comparison: smart equality (weak
// validators compare equal to their strong counterpart) and strong equality
// (weak validators never compare equal, even to themselves). Used by the
// source-sync engine's smart-sync decision (spec.md section 4.2) to decide
// between SkipSync, TargetedScan, and FullDeepScan.
package etag

import "strings"

const weakPrefix = "W/"

// Parsed is an ETag split into its opacity and value, per RFC 7232 section 2.3.
type Parsed struct {
	Weak  bool
	Value string // the quoted-string payload, quotes stripped
}

// Parse splits a raw ETag header value into its weak flag and unquoted
// value. Malformed input (missing quotes) is tolerated by treating the raw
// string as the value.
func Parse(raw string) Parsed {
	weak := false
	s := raw
	if strings.HasPrefix(s, weakPrefix) {
		weak = true
		s = s[len(weakPrefix):]
	}
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return Parsed{Weak: weak, Value: s}
}

// SmartEqual implements RFC 7232's weak comparison: two ETags are equal if
// their values match, regardless of weak/strong tagging. W/"x" and "x" are
// equal. Comparison is case-sensitive on the value per the glossary.
func SmartEqual(a, b string) bool {
	return Parse(a).Value == Parse(b).Value
}

// StrongEqual implements RFC 7232's strong comparison: both ETags must be
// strong (not weak) and their values must match. W/"x" never strong-equals
// "x", even though their values are identical.
func StrongEqual(a, b string) bool {
	pa, pb := Parse(a), Parse(b)
	return !pa.Weak && !pb.Weak && pa.Value == pb.Value
}
