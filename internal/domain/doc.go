// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files: room.go (scopes and the room-key rule), connection.go, event.go
// (the closed set of broadcast events and their priority rules), envelope.go (the outbound wire
// shape) and errors.go. Interfaces live here so adapters and the broadcast core don't import each other.
package domain
