// Package audit records security-relevant events as newline-delimited JSON.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies an audit Event.
type EventType string

const (
	EventServerStart          EventType = "server_start"
	EventServerStop           EventType = "server_stop"
	EventConfigReload         EventType = "config_reload"
	EventConfigChange         EventType = "config_change"
	EventAuthAttempt          EventType = "auth_attempt"
	EventAuthSuccess          EventType = "auth_success"
	EventAuthFailure          EventType = "auth_failure"
	EventAuthorizationFailure EventType = "authorization_failure"
	EventRequest              EventType = "request"
	EventResponse             EventType = "response"
	EventError                EventType = "error"
	EventServerSpawn          EventType = "server_spawn"
	EventServerStopRequest    EventType = "server_stop_request"
	EventRateLimitHit         EventType = "rate_limit_hit"
	EventSuspiciousActivity   EventType = "suspicious_activity"
)

// Event is one audit record.
type Event struct {
	Timestamp    time.Time       `json:"timestamp"`
	Type         EventType       `json:"event_type"`
	UserID       string          `json:"user_id,omitempty"`
	ClientIP     string          `json:"client_ip,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	ServerName   string          `json:"server_name,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// NewEvent returns a successful event of type t stamped with the current UTC time.
func NewEvent(t EventType) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      t,
		Success:   true,
	}
}

// WithUser sets the user id.
func (e Event) WithUser(id string) Event {
	e.UserID = id
	return e
}

// WithClientIP sets the client address.
func (e Event) WithClientIP(ip string) Event {
	e.ClientIP = ip
	return e
}

// WithRequestID sets the correlation id.
func (e Event) WithRequestID(id string) Event {
	e.RequestID = id
	return e
}

// WithServer sets the MCP server name.
func (e Event) WithServer(name string) Event {
	e.ServerName = name
	return e
}

// WithDetails marshals v into the details field. Values that cannot be marshaled are recorded as their %v text.
func (e Event) WithDetails(v any) Event {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	e.Details = b
	return e
}

// WithError marks the event failed.
func (e Event) WithError(msg string) Event {
	e.Success = false
	e.ErrorMessage = msg
	return e
}

// MarshalJSON writes the timestamp in RFC 3339 UTC.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		Timestamp string `json:"timestamp"`
	}{
		plain:     plain(e),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func orDash(s string, dash string) string {
	if s == "" {
		return dash
	}
	return s
}

// pretty renders e as a single human-readable line.
func (e Event) pretty() string {
	status := "OK"
	if !e.Success {
		status = "FAIL"
	}

	line := fmt.Sprintf(
		"[%s] %s | user=%s | ip=%s | server=%s | status=%s | type=%s",
		e.Timestamp.UTC().Format(time.RFC3339),
		orDash(e.RequestID, "-"),
		orDash(e.UserID, "anonymous"),
		orDash(e.ClientIP, "unknown"),
		orDash(e.ServerName, "-"),
		status,
		e.Type,
	)
	if e.ErrorMessage != "" {
		line += " | error=" + e.ErrorMessage
	}

	return line + "\n"
}
