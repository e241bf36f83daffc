package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type socketClient struct {
	id     *uuid.UUID
	socket *websocket.Conn
}

func (client *socketClient) SendMessage(message *SocketMessage) error {
	return client.socket.WriteJSON(message)
}

// Wait blocks until the clients websocket connection closes or errors.
// The activity stream is push-only; anything the client sends is read and
// discarded, so a closed connection is detected promptly. It is the
// responsibility of the caller to de-register the client afterwards.
func (client *socketClient) Wait() error {
	for {
		if _, _, err := client.socket.ReadMessage(); err != nil {
			return err
		}
	}
}

// Close will close this clients socket
func (client *socketClient) Close() {
	client.socket.Close()
}
