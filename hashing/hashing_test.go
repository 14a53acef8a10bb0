package hashing

import (
	"bytes"
	"strings"
	"testing"
)

func TestBytes_Deterministic(t *testing.T) {
	data := []byte("hello, world")
	a := Bytes(data)
	b := Bytes(data)
	if a != b {
		t.Fatalf("expected deterministic hash, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestBytes_Empty(t *testing.T) {
	got := Bytes(nil)
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("expected well-known empty sha256, got %s", got)
	}
}

func TestStream_MatchesBytes(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 1<<20) // 1 MiB
	viaStream, err := Stream(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	viaBytes := Bytes(data)
	if viaStream != viaBytes {
		t.Fatalf("Stream and Bytes disagree: %s vs %s", viaStream, viaBytes)
	}
}

func TestBytes_Unicode(t *testing.T) {
	data := []byte("héllo wörld 日本語")
	a := Bytes(data)
	b := Bytes(data)
	if a != b {
		t.Fatalf("expected deterministic hash on unicode input")
	}
}

func TestTeeAndHash(t *testing.T) {
	data := []byte(strings.Repeat("ab", 1000))
	var out bytes.Buffer
	digest, n, err := TeeAndHash(bytes.NewReader(data), &out)
	if err != nil {
		t.Fatalf("TeeAndHash: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes copied, got %d", len(data), n)
	}
	if out.String() != string(data) {
		t.Fatal("expected copied output to match input")
	}
	if digest != Bytes(data) {
		t.Fatal("expected TeeAndHash digest to match Bytes digest")
	}
}
