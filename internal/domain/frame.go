package domain

import (
	"encoding/json"
	"fmt"
)

// Server frame names.
const (
	FrameConnected = "connected"
	FrameMessage   = "message"
	FrameAck       = "ack"
)

// Frame is the JSON object exchanged over every client transport:
//
//	{"event":"subscribe","data":{...},"ack":"7"}
type Frame struct {
	Event string `json:"event"`
	Ack   string `json:"ack,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// EncodeFrame serializes a server frame.
func EncodeFrame(event, ack string, data any) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: event, Ack: ack, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return b, nil
}

// ConnectedPayload is sent once when a connection is registered.
type ConnectedPayload struct {
	SocketID   string `json:"socket_id"`
	ServerTime string `json:"server_time"`
}
