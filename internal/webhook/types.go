// Package webhook delivers usage events to an operator-configured HTTP
// endpoint: HMAC-signed, retried with exponential backoff, and dead-lettered
// once retries are exhausted.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// maxPayloadBytes caps the body actually sent over the wire. An event beyond
// this size is replaced by a small truncation marker document; this protects a
// slow or misbehaving receiver from a runaway body.
const maxPayloadBytes = 1 << 20 // 1 MiB

// UsageEvent is the wire payload delivered to the configured webhook URL.
// Field names and truncation match the event recorded for every evaluated
// call, allowed or denied.
type UsageEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	APIKey         string    `json:"apiKey"`
	KeyName        string    `json:"keyName"`
	Tool           string    `json:"tool"`
	CreditsCharged int64     `json:"creditsCharged"`
	Allowed        bool      `json:"allowed"`
	DenyReason     string    `json:"denyReason,omitempty"`
	Namespace      string    `json:"namespace,omitempty"`
}

// marshal serializes the event and truncates the body if it exceeds
// maxPayloadBytes. A truncated payload is replaced wholesale with a marker
// document carrying the original event's identity, since truncating JSON
// mid-structure would produce an unparseable body.
func (e UsageEvent) marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(body) <= maxPayloadBytes {
		return body, nil
	}
	return json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		APIKey    string    `json:"apiKey"`
		Tool      string    `json:"tool"`
		Truncated bool      `json:"truncated"`
	}{Timestamp: e.Timestamp, APIKey: e.APIKey, Tool: e.Tool, Truncated: true})
}

// sign computes the X-Webhook-Signature value for a body: sha256=<hex HMAC-SHA256>.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
