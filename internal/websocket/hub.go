package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openmusicplayer/mediafetch/internal/download"
	"github.com/openmusicplayer/mediafetch/internal/metrics"
)

// JobSource reads job state and streams its progress
type JobSource interface {
	GetJob(ctx context.Context, jobID string) (*download.DownloadJob, error)
	SubscribeToJob(ctx context.Context, jobID string) (*download.ProgressSubscription, error)
}

// Hub tracks the clients watching each job. One relay per watched job
// forwards its Redis progress events to every client of that job.
type Hub struct {
	source  JobSource
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// Registered clients by job ID
	clients map[string]map[*Client]bool
	relays  map[string]context.CancelFunc

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ProgressMessage
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub(source JobSource, m *metrics.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		source:     source,
		metrics:    m,
		logger:     log.With().Str("component", "websocket").Logger(),
		clients:    make(map[string]map[*Client]bool),
		relays:     make(map[string]context.CancelFunc),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *ProgressMessage),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	var relays sync.WaitGroup
	defer func() {
		close(h.done)
		h.mu.Lock()
		for jobID, clients := range h.clients {
			for client := range clients {
				h.drop(jobID, client)
			}
		}
		h.mu.Unlock()
		relays.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.metrics.IncWSConnections()

			if _, ok := h.relays[client.jobID]; !ok {
				relayCtx, cancel := context.WithCancel(ctx)
				h.relays[client.jobID] = cancel
				relays.Add(1)
				go func(jobID string) {
					defer relays.Done()
					h.relay(relayCtx, jobID)
				}(client.jobID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.jobID][client]; ok {
				h.drop(client.jobID, client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[message.JobID] {
				select {
				case client.send <- message:
					// A terminal update ends the watch; a later client
					// gets a fresh relay that replays the final state.
					if message.Terminal() {
						h.drop(message.JobID, client)
					}
				default:
					// Client's buffer is full, close the connection
					h.drop(message.JobID, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client; the last client of a job stops its relay.
// Callers hold h.mu.
func (h *Hub) drop(jobID string, client *Client) {
	clients := h.clients[jobID]
	delete(clients, client)
	close(client.send)
	h.metrics.DecWSConnections()

	if len(clients) == 0 {
		delete(h.clients, jobID)
		if cancel, ok := h.relays[jobID]; ok {
			cancel()
			delete(h.relays, jobID)
		}
	}
}

// relay forwards one job's updates, starting with its current state so a
// watcher that connects after the job finished still gets the outcome.
func (h *Hub) relay(ctx context.Context, jobID string) {
	sub, err := h.source.SubscribeToJob(ctx, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("progress subscription failed")
		h.send(ctx, unavailable(jobID))
		return
	}
	defer sub.Close()
	updates := sub.Channel()

	job, err := h.source.GetJob(ctx, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to load job")
		h.send(ctx, unavailable(jobID))
		return
	}
	if !h.send(ctx, messageFor(job)) || job.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if !h.send(ctx, messageFor(update)) || update.IsTerminal() {
				return
			}
		}
	}
}

func (h *Hub) send(ctx context.Context, msg *ProgressMessage) bool {
	select {
	case h.broadcast <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Register adds a client; it is a no-op once the hub has stopped
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; it is safe after the hub has stopped
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of clients watching a job.
func (h *Hub) ClientCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
