// Package ocrengine provides the workerpool.Processor that invokes the
// actual OCR recognition step. The recognition engine itself is out of
// this module's scope (spec.md's non-goals) — this is only the process
// boundary a real engine (Tesseract, a hosted OCR API, ...) plugs into.
package ocrengine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommandProcessor shells out to an external OCR command for each
// document, the simplest integration point for a pluggable engine: one
// process per page/document, stdout captured as recognized text.
//
// It does not attempt confidence scoring or language detection beyond
// what the command line itself reports; a real deployment swaps this for
// a binding to whatever engine its infra already runs.
type CommandProcessor struct {
	// Command is the OCR binary (e.g. "tesseract"). TrailingArgs follow
	// the document's storage path on the command line (e.g. "stdout" for
	// tesseract to write recognized text to its standard output).
	Command      string
	TrailingArgs []string
	Timeout      time.Duration
}

// NewCommandProcessor constructs a CommandProcessor invoking command with
// trailingArgs after the target file path.
func NewCommandProcessor(command string, trailingArgs []string, timeout time.Duration) *CommandProcessor {
	return &CommandProcessor{Command: command, TrailingArgs: trailingArgs, Timeout: timeout}
}

// Process runs the configured command against storagePath and returns its
// stdout as recognized text. Confidence is reported as 100 when the
// command exits zero and its output contains at least one word, 0
// otherwise — real
// confidence scoring is the engine's job, not this shim's.
func (p *CommandProcessor) Process(ctx context.Context, documentID uuid.UUID, storagePath string) (string, float64, int, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{storagePath}, p.TrailingArgs...)
	cmd := exec.CommandContext(ctx, p.Command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", 0, 0, fmt.Errorf("ocrengine: %s failed for document %s: %w: %s", p.Command, documentID, err, stderr.String())
	}

	text := stdout.String()
	wordCount := len(strings.Fields(text))
	confidence := 0.0
	if wordCount > 0 {
		confidence = 100
	}
	return text, confidence, wordCount, nil
}
