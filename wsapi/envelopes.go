// Package wsapi implements the C5 real-time transport of spec.md section
// 4.5: an HTTP router exposing a health check and a per-source WebSocket
// endpoint that streams progress.Tracker snapshots to subscribers.
package wsapi

import (
	"time"

	"github.com/docvault/ingestd/progress"
	"github.com/goccy/go-json"
)

// envelopeType tags the outer shape of every message sent over a progress
// WebSocket connection, spec.md section 4.5.
type envelopeType string

const (
	envelopeConnected envelopeType = "connected"
	envelopeProgress  envelopeType = "progress"
	envelopeHeartbeat envelopeType = "heartbeat"
	envelopeError     envelopeType = "error"
)

// envelope is the wire shape every outbound message shares: a type tag plus
// a type-specific payload. connected carries its fields flat
// (source_id/timestamp at the top level, per spec.md section 4.5's
// literal message shapes); heartbeat, progress and error nest theirs
// under "data".
type envelope struct {
	Type      envelopeType `json:"type"`
	SourceID  string       `json:"source_id,omitempty"`
	Timestamp int64        `json:"timestamp,omitempty"`
	Data      any          `json:"data,omitempty"`
}

type heartbeatData struct {
	SourceID string `json:"source_id"`
	IsActive bool   `json:"is_active"`
	Timestamp int64 `json:"timestamp"`
}

type errorData struct {
	Message string `json:"message"`
}

func marshalEnvelope(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func connectedEnvelope(sourceID string) envelope {
	return envelope{Type: envelopeConnected, SourceID: sourceID, Timestamp: time.Now().Unix()}
}

func progressEnvelope(s progress.Snapshot) envelope {
	return envelope{Type: envelopeProgress, Data: s}
}

func heartbeatEnvelope(sourceID string, now time.Time) envelope {
	return envelope{Type: envelopeHeartbeat, Data: heartbeatData{
		SourceID:  sourceID,
		IsActive:  false,
		Timestamp: now.Unix(),
	}}
}

func errorEnvelope(msg string) envelope {
	return envelope{Type: envelopeError, Data: errorData{Message: msg}}
}
