package domain

import "time"

type ConnectionStatus string

const (
	StatusConnected     ConnectionStatus = "connected"
	StatusAuthenticated ConnectionStatus = "authenticated"
	StatusDisconnected  ConnectionStatus = "disconnected"
)

// TransportKind names the client transport a connection arrived on.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportPolling   TransportKind = "polling"
)

// Connection is a snapshot of one live client session.
type Connection struct {
	ID             string           `json:"socket_id"`
	ConnectedAt    time.Time        `json:"connected_at"`
	LastActivity   time.Time        `json:"last_activity"`
	RemoteAddr     string           `json:"remote_addr"`
	UserAgent      string           `json:"user_agent,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	OrganizationID string           `json:"organization_id,omitempty"`
	Role           string           `json:"role,omitempty"`
	Rooms          []string         `json:"rooms"`
	Status         ConnectionStatus `json:"status"`
	Transport      TransportKind    `json:"transport"`
}

func (c Connection) IsAuthenticated() bool {
	return c.Status == StatusAuthenticated
}

// Identity is what a successful authenticate request establishes.
type Identity struct {
	UserID         string
	OrganizationID string
	Role           string
}

// Sender is the write side of a client transport. Send must not block: it reports false
// when the frame could not be queued, which the caller treats as a transport failure.
type Sender interface {
	Send(frame []byte) bool
	Close(reason string)
	Transport() TransportKind
}

// Stats summarizes the registry and directory.
type Stats struct {
	Connections     int            `json:"connections"`
	Authenticated   int            `json:"authenticated"`
	Rooms           int            `json:"rooms"`
	Organizations   map[string]int `json:"organizations"`
	ByTransport     map[string]int `json:"by_transport"`
	CommandQueueLen int            `json:"command_queue_len"`
}
