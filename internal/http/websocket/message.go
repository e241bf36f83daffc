package websocket

import "github.com/google/uuid"

type socketMessageType int

const (
	Update socketMessageType = iota
	Welcome
)

// SocketMessage is one activity update pushed to a connected client. The
// Target field, when set, causes the hub to deliver the message only to
// the client with a matching UUID (used for the welcome payload);
// otherwise the message is broadcast to every connected client.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Type   socketMessageType      `json:"type"`
	Target *uuid.UUID             `json:"-"`
}
