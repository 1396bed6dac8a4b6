// Package sse provides the Server-Sent Events live feed for crowdwatch dashboards.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout is the timeout for writing to SSE clients.
	// Prevents blocking on stale connections.
	WriteTimeout = 2 * time.Second
)

// Event types published on the live feed.
const (
	EventConnected      = "connected"
	EventFrameAnalyzed  = "frame_analyzed"
	EventAlertTriggered = "alert_triggered"
)

// Event is the envelope written to clients.
type Event struct {
	Type string `json:"type"`
	Time string `json:"time"`
	Data any    `json:"data,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	ID        string
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// Broadcaster manages SSE client connections and event fan-out.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
	now     func() time.Time
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// AddClient adds a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("client_id", id).
		Int("clients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("client_id", client.ID).
		Int("clients", clientCount).
		Msg("SSE client disconnected")
}

// removeClientByID removes a client by ID (for dead client cleanup).
func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	if exists {
		client.close()
	}

	log.Debug().
		Str("client_id", id).
		Int("clients", clientCount).
		Msg("Dead SSE client removed")
}

// Publish sends a typed event to all connected clients.
func (b *Broadcaster) Publish(eventType string, data any) {
	ev := Event{Type: eventType, Time: b.now().Format(time.RFC3339), Data: data}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal SSE event")
		return
	}
	b.broadcast(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}

// broadcast writes message to every client concurrently. Writes that fail
// or exceed WriteTimeout drop the client.
func (b *Broadcaster) broadcast(message string) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadClientsCh := make(chan string, len(clients))
	var wg sync.WaitGroup

	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				b.writeToClient(c, message, deadClientsCh)
			}(client)
		}
	}

	wg.Wait()
	close(deadClientsCh)

	for clientID := range deadClientsCh {
		b.removeClientByID(clientID)
	}
}

// writeToClient writes a message to a single client with timeout.
// The writer goroutine never sends on deadCh; it may outlive broadcast.
func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- string) {
	errCh := make(chan error, 1)

	go func() {
		_, err := client.Writer.Write([]byte(message))
		if err == nil {
			client.Flusher.Flush()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Debug().
				Str("client_id", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			deadCh <- client.ID
		}
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("client_id", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		deadCh <- client.ID
	case <-client.Done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	fmt.Fprintf(w, "event: %s\ndata: {\"type\":%q,\"clientId\":%q}\n\n", EventConnected, EventConnected, client.ID)
	client.Flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
