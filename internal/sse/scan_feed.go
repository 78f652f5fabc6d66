package sse

import (
	"context"
	"sync"

	"ms-checkin/internal/models"
)

// ScanEvent is one line of the live staff dashboard.
type ScanEvent struct {
	Record     models.ScanRecord `json:"record"`
	HolderName string            `json:"holder_name,omitempty"`
	Seat       string            `json:"seat,omitempty"`
	Message    string            `json:"message"`
}

// ScanFeedEmitter fans scan events out to dashboards subscribed to a gate or
// to a whole event. Slow subscribers miss events rather than slow scanning.
type ScanFeedEmitter struct {
	bufferSize int

	mu           sync.RWMutex
	gateClients  map[string][]chan ScanEvent
	eventClients map[string][]chan ScanEvent
}

func NewScanFeedEmitter(bufferSize int) *ScanFeedEmitter {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	return &ScanFeedEmitter{
		bufferSize:   bufferSize,
		gateClients:  make(map[string][]chan ScanEvent),
		eventClients: make(map[string][]chan ScanEvent),
	}
}

// SubscribeToGate streams events scanned at gateID until ctx is done; the
// channel is closed afterwards.
func (e *ScanFeedEmitter) SubscribeToGate(ctx context.Context, gateID string) <-chan ScanEvent {
	return e.subscribe(ctx, e.gateClients, gateID)
}

// SubscribeToEvent streams events for every gate of eventID.
func (e *ScanFeedEmitter) SubscribeToEvent(ctx context.Context, eventID string) <-chan ScanEvent {
	return e.subscribe(ctx, e.eventClients, eventID)
}

func (e *ScanFeedEmitter) subscribe(ctx context.Context, clients map[string][]chan ScanEvent, id string) <-chan ScanEvent {
	ch := make(chan ScanEvent, e.bufferSize)

	e.mu.Lock()
	clients[id] = append(clients[id], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(clients, id, ch)
	}()

	return ch
}

// Emit broadcasts ev to its gate and event subscribers. Sends happen under
// the read lock so a subscriber cannot be closed mid-send.
func (e *ScanFeedEmitter) Emit(ev ScanEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	send(e.gateClients[ev.Record.GateID], ev)
	if ev.Record.EventID != "" {
		send(e.eventClients[ev.Record.EventID], ev)
	}
}

func send(clients []chan ScanEvent, ev ScanEvent) {
	for _, ch := range clients {
		select {
		case ch <- ev:
		default:
			// buffer full, drop for this client
		}
	}
}

func (e *ScanFeedEmitter) remove(clients map[string][]chan ScanEvent, id string, ch chan ScanEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := clients[id]
	for i, c := range list {
		if c == ch {
			clients[id] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(clients[id]) == 0 {
		delete(clients, id)
	}
}

func (e *ScanFeedEmitter) GateClientCount(gateID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.gateClients[gateID])
}

func (e *ScanFeedEmitter) EventClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.eventClients[eventID])
}
