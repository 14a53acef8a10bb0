package ocrengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCommandProcessor_CapturesStdout(t *testing.T) {
	p := NewCommandProcessor("echo", []string{"recognized text"}, time.Second)
	text, confidence, words, err := p.Process(context.Background(), uuid.New(), "/tmp/ignored-by-echo")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if text == "" {
		t.Fatal("expected non-empty text")
	}
	if confidence != 100 {
		t.Fatalf("expected confidence 100, got %v", confidence)
	}
	if words == 0 {
		t.Fatal("expected a non-zero word count")
	}
}

func TestCommandProcessor_CommandFailureIsWrapped(t *testing.T) {
	p := NewCommandProcessor("false", nil, time.Second)
	_, _, _, err := p.Process(context.Background(), uuid.New(), "/tmp/ignored")
	if err == nil {
		t.Fatal("expected an error from a failing command")
	}
}
