package api

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/download"
	"github.com/hbomb79/Fetcharr/internal/http/websocket"
)

const (
	TitleDownloadUpdate   = "DOWNLOAD_UPDATE"
	TitleDownloadProgress = "DOWNLOAD_PROGRESS"
	TitleDownloadComplete = "DOWNLOAD_COMPLETE"
)

type (
	DownloadUpdate struct {
		JobId    uuid.UUID `json:"job_id"`
		Status   string    `json:"status"`
		Progress float64   `json:"progress"`
		Message  string    `json:"message"`
	}

	broadcasterStore interface {
		Get(id uuid.UUID) (*download.DownloadJob, error)
	}

	// broadcaster relays job lifecycle events onto the activity socket
	// hub so connected clients observe downloads live instead of polling
	// the status endpoint.
	broadcaster struct {
		socketHub *websocket.SocketHub
		store     broadcasterStore
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, store broadcasterStore) *broadcaster {
	return &broadcaster{socketHub: socketHub, store: store}
}

func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	return hub.broadcastJob(TitleDownloadUpdate, id)
}

func (hub *broadcaster) BroadcastDownloadProgressUpdate(id uuid.UUID) error {
	return hub.broadcastJob(TitleDownloadProgress, id)
}

func (hub *broadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	return hub.broadcastJob(TitleDownloadComplete, id)
}

func (hub *broadcaster) broadcastJob(title string, id uuid.UUID) error {
	job, err := hub.store.Get(id)
	if err != nil {
		return err
	}

	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body: map[string]interface{}{"update": DownloadUpdate{
			JobId:    job.ID,
			Status:   job.State.String(),
			Progress: job.ProgressPercent,
			Message:  job.StatusMessage,
		}},
		Type: websocket.Update,
	})

	return nil
}
