package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

var socketLogger = logger.Get("WebSocket")

// SocketHub is responsible for upgrading incoming connections to
// websockets and pushing activity messages out to every connected client.
// It is a one-way stream; clients observe job activity live rather than
// polling the status endpoint.
type SocketHub struct {
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	connectionCallback func() map[string]interface{}

	// mu guards running and doneCh; Send and UpgradeToSocket run on
	// caller goroutines and race the Start/close lifecycle otherwise.
	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
}

// New returns a new SocketHub with the channels and
// slices initialised to sane starting values
func New() *SocketHub {
	return &SocketHub{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		running: false,
	}
}

// WithConnectionCallback sets a callback that will be executed each time a new
// client connects to this socketHub. This allows the client to be furnished with
// a payload of the servers current state, without having to wait for an UPDATE
// packet from the server (which may never come if the content does not change).
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// Start begins the socket hub by listening on all related channels
// for incoming clients and outbound messages
func (hub *SocketHub) Start(ctx context.Context) {
	hub.mu.Lock()
	if hub.running {
		hub.mu.Unlock()
		socketLogger.Emit(logger.WARNING, "Attempting to start socketHub when already running! Ignoring request.\n")
		return
	} else if ctx.Err() != nil {
		hub.mu.Unlock()
		socketLogger.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	}
	socketLogger.Emit(logger.INFO, "Opening SocketHub!\n")

	hub.sendCh = make(chan *SocketMessage)
	hub.registerCh = make(chan *socketClient)
	hub.deregisterCh = make(chan *socketClient)
	hub.clients = make([]*socketClient, 0)
	hub.doneCh = make(chan struct{})
	hub.running = true
	hub.mu.Unlock()

	defer hub.close()
loop:
	for {
		select {
		case message := <-hub.sendCh:
			// Deliver to the targetted client if the message names one,
			// otherwise broadcast to all.
			if message.Target != nil {
				if _, client := hub.findClient(message.Target); client != nil {
					if err := client.SendMessage(message); err != nil {
						socketLogger.Emit(logger.ERROR, "Failed to send message to target {%v}: %v\n", message.Target, err.Error())
					}
				} else {
					socketLogger.Emit(logger.WARNING, "Attempted to send message to target {%v}, but no matching client was found.\n", message.Target)
				}

				break
			}

			for _, client := range hub.clients {
				if err := client.SendMessage(message); err != nil {
					socketLogger.Emit(logger.ERROR, "Failed to broadcast to client {%v}: %v\n", client.id, err.Error())
				}
			}
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				socketLogger.Emit(logger.ERROR, "Attempted to register client that is already registered (duplicate uuid)! Illegal!\n")
				client.Close()

				break
			}

			hub.clients = append(hub.clients, client)
			socketLogger.Emit(logger.NEW, "Registered new client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				socketLogger.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)

				break
			}

			socketLogger.Emit(logger.WARNING, "Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			socketLogger.Emit(logger.REMOVE, "Shutting down socket hub! Closing all clients.\n")
			break loop
		}
	}
}

// Send accepts a socket message and will emit this message on
// the send channel - message is ignored if hub is not running (see Start())
// A message provided that has a Target will only be sent to the client with
// a matching ID
func (hub *SocketHub) Send(message *SocketMessage) {
	hub.mu.Lock()
	running, sendCh, doneCh := hub.running, hub.sendCh, hub.doneCh
	hub.mu.Unlock()

	if !running {
		socketLogger.Emit(logger.WARNING, "Attempted to send message via socket hub, however the hub is offline. Ignoring message.\n")
		return
	}

	// The hub may shut down between the check above and the send; dropping
	// the message then is fine, blocking forever is not.
	select {
	case sendCh <- message:
	case <-doneCh:
		socketLogger.Emit(logger.WARNING, "Dropping message, socket hub closed mid-send\n")
	}
}

// UpgradeToSocket upgrades a given HTTP request to a websocket and adds the
// new client to the hub
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	hub.mu.Lock()
	running, doneCh := hub.running, hub.doneCh
	hub.mu.Unlock()

	if !running {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: SocketHub has not been started!\n")
		return
	}

	// Try generate UUID first - if we do this later and it fails... we've already
	// upgraded the connection to a websocket.
	id, err := uuid.NewRandom()
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to generate UUID for new connection - aborting!\n")
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		socketLogger.Emit(logger.ERROR, "Failed to upgrade incoming HTTP request to a websocket: %v\n", err.Error())
		return
	}

	client := &socketClient{
		id:     &id,
		socket: sock,
	}

	select {
	case hub.registerCh <- client:
	case <-doneCh:
		client.Close()
		return
	}

	// Welcome the client with the servers current state so it need not
	// wait for the next activity update.
	body := map[string]interface{}{}
	if hub.connectionCallback != nil {
		body = hub.connectionCallback()
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	defer func() {
		select {
		case hub.deregisterCh <- client:
		case <-doneCh:
		}
		client.Close()
	}()

	if err := client.Wait(); err != nil {
		socketLogger.Emit(logger.DEBUG, "Client {%v} closed: %v\n", client.id, err.Error())
	}
}

// close the sockethub by closing all connected clients and sockets
func (hub *SocketHub) close() {
	hub.mu.Lock()
	if !hub.running {
		hub.mu.Unlock()
		socketLogger.Emit(logger.WARNING, "Attempted to close a socket hub that is not running!\n")
		return
	}

	hub.running = false
	close(hub.doneCh)
	hub.mu.Unlock()

	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	socketLogger.Emit(logger.STOP, "Socket hub is now closed!\n")
}

func (hub *SocketHub) findClient(id *uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id || *client.id == *id {
			return idx, client
		}
	}

	return -1, nil
}
