package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Fetcharr/internal/event"
	"github.com/hbomb79/Fetcharr/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Second * 2
	MAX_TIMER_DURATION time.Duration = time.Second * 5

	RAPID_EVENT_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	RAPID_EVENT_MAX_TIMER_DURATION time.Duration = time.Second * 2
)

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastDownloadUpdate(uuid.UUID) error
		BroadcastDownloadProgressUpdate(uuid.UUID) error
		BroadcastDownloadComplete(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	// activityManager subscribes to the event bus and relays job activity
	// to the websocket broadcaster. Noisy events are debounced per-job so
	// that a burst of progress updates does not translate in to an equally
	// large burst of socket messages, with a max timer to bound how stale
	// a client's view can become during a sustained burst.
	activityManager struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventCoordinator
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityManager(broadcaster broadcaster, eventBus event.EventCoordinator) *activityManager {
	return &activityManager{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       eventBus,
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (manager *activityManager) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	manager.eventBus.RegisterHandlerChannel(messageChan,
		event.DOWNLOAD_UPDATE, event.DOWNLOAD_PROGRESS, event.DOWNLOAD_COMPLETE)

	log.Emit(logger.NEW, "Activity manager started\n")
	for {
		select {
		case ev := <-messageChan:
			if err := manager.handleEvent(ev); err != nil {
				log.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			log.Emit(logger.STOP, "Activity manager closed\n")
			return nil
		}
	}
}

func (manager *activityManager) handleEvent(ev event.HandlerEvent) error {
	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}

	switch ev.Event {
	case event.DOWNLOAD_UPDATE:
		manager.scheduleEventBroadcast(resourceKey, manager.BroadcastDownloadUpdate)
	case event.DOWNLOAD_PROGRESS:
		manager.scheduleRapidEventBroadcast(resourceKey, manager.BroadcastDownloadProgressUpdate)
	case event.DOWNLOAD_COMPLETE:
		// Completion is terminal, so broadcast it immediately and flush any
		// pending progress broadcast for the same job.
		manager.broadcast(eventKey{id: resourceID, ev: event.DOWNLOAD_PROGRESS}, manager.BroadcastDownloadProgressUpdate)
		return manager.BroadcastDownloadComplete(resourceID)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (manager *activityManager) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	manager._scheduleEventBroadcast(resourceKey, handler, DEBOUNCE_DURATION, MAX_TIMER_DURATION)
}

func (manager *activityManager) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	manager._scheduleEventBroadcast(resourceKey, handler, RAPID_EVENT_DEBOUNCE_DURATION, RAPID_EVENT_MAX_TIMER_DURATION)
}

func (manager *activityManager) _scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler, debounceTime time.Duration, maxTime time.Duration) {
	manager.Lock()
	defer manager.Unlock()

	broadcaster := func() { manager.broadcast(resourceKey, handler) }

	// Cancel and re-set a debounce timer
	if t, ok := manager.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	manager.debounceTimers[resourceKey] = time.AfterFunc(debounceTime, broadcaster)

	// Set a max timer if not already set
	if _, ok := manager.maxTimers[resourceKey]; !ok {
		manager.maxTimers[resourceKey] = time.AfterFunc(maxTime, broadcaster)
	}
}

func (manager *activityManager) broadcast(resourceKey eventKey, handler broadcastHandler) {
	manager.Lock()
	defer manager.Unlock()

	pending := false
	if t, ok := manager.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(manager.debounceTimers, resourceKey)
		pending = true
	}

	if t, ok := manager.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(manager.maxTimers, resourceKey)
		pending = true
	}

	if !pending {
		return
	}

	if err := handler(resourceKey.id); err != nil {
		log.Emit(logger.ERROR, "Broadcast for %s failed: %v\n", resourceKey.id, err)
	}
}
