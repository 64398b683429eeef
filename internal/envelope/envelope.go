// Package envelope standardizes the framing every pipeline queue uses:
// version-tagged JSON, base64-encoded so it survives queue transports that
// mangle raw JSON.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CurrentVersion is the only version this build of the pipeline emits.
// Receivers tolerate older versions with the same payload shape.
const CurrentVersion = 1

// Envelope is the wire shape for every queue message.
type Envelope struct {
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Status mirrors the job state machine and lets receivers short-circuit
// misrouted messages without decoding the full payload shape.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusWebCrawling  Status = "WebCrawling"
	StatusScraped      Status = "scraped"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Encode wraps a payload in an Envelope and returns the base64(JSON) wire form.
func Encode(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal payload: %w", err)
	}
	env := Envelope{Version: CurrentVersion, Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode reverses Encode and unmarshals the inner payload into dst.
// An empty or malformed string is reported as an error so callers can
// route it straight to poison-message quarantine.
func Decode(wire string, dst any) error {
	if wire == "" {
		return fmt.Errorf("envelope: empty message")
	}
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return fmt.Errorf("envelope: base64 decode: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("envelope: unmarshal envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("envelope: empty payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("envelope: unmarshal payload: %w", err)
	}
	return nil
}
