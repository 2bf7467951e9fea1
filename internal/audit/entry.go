// Package audit keeps a durable record of every tool invocation the
// orchestrator makes, one JSON line per call. The run event stream is
// ephemeral; the audit log answers "what did the agent actually do to
// my Jira board" days later.
package audit

import (
	"encoding/json"
	"strings"
	"time"
)

// Status classifies how an invocation ended.
type Status string

const (
	// StatusOK means the tool ran and returned a normal result.
	StatusOK Status = "ok"
	// StatusError means the tool ran and reported a failure, or the
	// call never reached a server.
	StatusError Status = "error"
	// StatusDenied means the approval gate refused the call.
	StatusDenied Status = "denied"
)

// Entry records one tool invocation from request to outcome.
type Entry struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Step      int            `json:"step"`
	Server    string         `json:"server,omitempty"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"-"`
}

// MarshalJSON writes Duration as integer milliseconds.
func (e *Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(&struct {
		*alias
		DurationMs int64 `json:"duration_ms"`
	}{
		alias:      (*alias)(e),
		DurationMs: e.Duration.Milliseconds(),
	})
}

// UnmarshalJSON reads Duration from integer milliseconds.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	aux := &struct {
		*alias
		DurationMs int64 `json:"duration_ms"`
	}{
		alias: (*alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	e.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// Filter selects entries from the log.
type Filter struct {
	RunID  string
	Server string
	Tool   string
	Status Status
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Matches reports whether the entry satisfies every set criterion.
func (e *Entry) Matches(f Filter) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Server != "" && e.Server != f.Server {
		return false
	}
	if f.Tool != "" && e.Tool != f.Tool {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"secret":      true,
	"token":       true,
	"api_key":     true,
	"apikey":      true,
	"credentials": true,
	"auth":        true,
}

// SanitizeArgs copies args with values under sensitive keys redacted.
// Tool arguments routinely carry credentials destined for remote
// services; they must never reach the log in the clear.
func SanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]any, len(args))
	for key, value := range args {
		lower := strings.ToLower(key)
		redacted := sensitiveKeys[lower]
		if !redacted {
			for sensitive := range sensitiveKeys {
				if strings.Contains(lower, sensitive) {
					redacted = true
					break
				}
			}
		}
		if redacted {
			sanitized[key] = "[REDACTED]"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

// TruncateResult caps a result string for storage. limit <= 0 uses the
// default cap.
func TruncateResult(result string, limit int) string {
	if limit <= 0 {
		limit = 1000
	}
	if len(result) <= limit {
		return result
	}
	return result[:limit] + "...[truncated]"
}
