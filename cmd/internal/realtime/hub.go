package realtime

import (
	"log/slog"
	"sync"
	"time"

	"secretwall/cmd/identity"
)

// Hub is the wall's membership set and broadcast fanout.
//
// Join and Leave are safe under concurrent Broadcast. Broadcast never blocks:
// a viewer whose queue is full misses the event.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	members map[string]*Client
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		members: make(map[string]*Client),
	}
}

func (h *Hub) Join(c *Client) {
	if c == nil || c.ID == "" {
		return
	}
	h.mu.Lock()
	h.members[c.ID] = c
	h.mu.Unlock()

	h.log.Debug("wall.viewer.join", "client_id", c.ID, "account_id", c.AccountID)
}

// Leave removes the client, then signals it to stop.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	c := h.members[id]
	delete(h.members, id)
	h.mu.Unlock()

	if c != nil {
		c.Close()
		h.log.Debug("wall.viewer.leave", "client_id", id)
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Broadcast delivers env to every live member and returns how many accepted it.
func (h *Hub) Broadcast(env Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, m := range h.members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
		}
	}
	return delivered
}

// PublishSecret announces a newly submitted secret to the wall.
func (h *Hub) PublishSecret(secret string) {
	now := h.now()
	id, err := identity.NewULID(now)
	if err != nil {
		h.log.Error("wall.publish.fail", "err", err)
		return
	}
	env, err := newEnvelope(TypeSecretNew, id, now, SecretPayload{Secret: secret})
	if err != nil {
		h.log.Error("wall.publish.fail", "err", err)
		return
	}
	n := h.Broadcast(env)
	h.log.Debug("wall.publish", "event_id", id, "delivered", n)
}
