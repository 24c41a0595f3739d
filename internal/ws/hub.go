package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"marketplace/internal/metrics"
)

const (
	// maxDroppedMessagesBeforeDisconnect is the threshold for disconnecting slow clients
	maxDroppedMessagesBeforeDisconnect = 100

	registerTimeout = 5 * time.Second
)

type registerRequest struct {
	client *Client
	done   chan struct{}
}

// Hub tracks live connections by account and pushes dispatch events to them.
// An account may hold several connections at once.
type Hub struct {
	clients        map[*Client]struct{}
	accountClients map[string]map[*Client]struct{}
	registerSync   chan registerRequest
	unregister     chan *Client
	shutdown       chan struct{}
	stopped        chan struct{}
	shutdownOnce   sync.Once
	sequence       atomic.Int64
	mu             sync.RWMutex
	logger         *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:        make(map[*Client]struct{}),
		accountClients: make(map[string]map[*Client]struct{}),
		registerSync:   make(chan registerRequest),
		unregister:     make(chan *Client),
		shutdown:       make(chan struct{}),
		stopped:        make(chan struct{}),
		logger:         logger.With("component", "hub"),
	}
}

func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.shutdownSend()
				delete(h.clients, client)
			}
			h.accountClients = make(map[string]map[*Client]struct{})
			metrics.WSConnections.Set(0)
			h.mu.Unlock()
			h.logger.Info("shutdown complete")
			return

		case req := <-h.registerSync:
			h.mu.Lock()
			h.clients[req.client] = struct{}{}
			set, ok := h.accountClients[req.client.accountID]
			if !ok {
				set = make(map[*Client]struct{})
				h.accountClients[req.client.accountID] = set
			}
			set[req.client] = struct{}{}
			metrics.WSConnections.Set(float64(len(h.clients)))
			h.mu.Unlock()
			close(req.done)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if set, ok := h.accountClients[client.accountID]; ok {
					delete(set, client)
					if len(set) == 0 {
						delete(h.accountClients, client.accountID)
					}
				}
				client.shutdownSend()
			}
			metrics.WSConnections.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// register adds c to the hub and waits until the run loop has recorded it.
func (h *Hub) register(c *Client) bool {
	done := make(chan struct{})
	timer := time.NewTimer(registerTimeout)
	defer timer.Stop()

	select {
	case h.registerSync <- registerRequest{client: c, done: done}:
	case <-h.shutdown:
		return false
	case <-timer.C:
		h.logger.Warn("registration send timeout", "account_id", c.accountID)
		return false
	}

	select {
	case <-done:
		return true
	case <-timer.C:
		h.logger.Warn("registration timeout", "account_id", c.accountID)
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Caller must hold at least a read lock on h.mu.
func (h *Hub) sendToClientLocked(client *Client, msg *WSMessage) {
	if !client.canReceive() {
		return
	}
	select {
	case client.send <- msg:
	default:
		dropped := client.dropped.Add(1)
		if dropped%10 == 1 {
			h.logger.Warn("dropped messages for slow client", "dropped", dropped, "account_id", client.accountID)
		}
		if dropped >= maxDroppedMessagesBeforeDisconnect {
			h.logger.Warn("disconnecting slow client", "account_id", client.accountID, "dropped", dropped)
			client.Close()
		}
	}
}

// deliver queues msg for a single client.
func (h *Hub) deliver(c *Client, msg *WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.sendToClientLocked(c, msg)
}

func (h *Hub) dispatch(eventType string, payload any) *WSMessage {
	seq := h.sequence.Add(1)
	return &WSMessage{Op: OpDispatch, Type: eventType, Data: payload, Seq: &seq}
}

// SendToAccounts delivers one DISPATCH event to every connection of the
// given accounts. Accounts without a live connection are skipped.
func (h *Hub) SendToAccounts(accountIDs []string, eventType string, payload any) {
	msg := h.dispatch(eventType, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for client := range h.accountClients[id] {
			h.sendToClientLocked(client, msg)
		}
	}
}

func (h *Hub) IsOnline(accountID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accountClients[accountID]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}
