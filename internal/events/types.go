package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of event pushed to clients
type EventType string

const (
	// EventTypeProviderStatus is a backend lifecycle step (checking, warming, ready...)
	EventTypeProviderStatus EventType = "provider_status"
	// EventTypeCredentialMigration asks the UI to offer importing an env credential
	EventTypeCredentialMigration EventType = "credential_migration"
	// EventTypeRequestLog carries the metadata of a finished gateway call
	EventTypeRequestLog EventType = "request_log"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents an event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RequestLogEvent describes one gateway call. It never holds text.
type RequestLogEvent struct {
	RequestID          string  `json:"request_id"`
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	Local              bool    `json:"local"`
	Outcome            string  `json:"outcome"`
	ErrorKind          string  `json:"error_kind,omitempty"`
	Replacements       int     `json:"replacements"`
	ExtractionDegraded bool    `json:"extraction_degraded"`
	DurationMS         float64 `json:"duration_ms"`
}

// ConnectionEvent represents connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a websocket client connection
type Client struct {
	ID          string
	conn        *websocket.Conn
	send        chan Event
	ConnectedAt time.Time
	IP          string

	// nil subscribes to everything
	subscription map[EventType]bool
}
