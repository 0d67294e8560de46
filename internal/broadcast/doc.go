// Package broadcast implements the realtime core using the actor pattern.
//
// A single goroutine owns the connection registry, the room directory and the membership map
// (room key to connection ids). Every operation is a command on one channel, so the state needs
// no locks and broadcasts from one producer reach each member in dispatch order. Transports plug
// in through domain.Sender and only ever receive serialized frames.
package broadcast
