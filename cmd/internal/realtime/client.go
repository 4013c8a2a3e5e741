package realtime

import "sync"

// Client is one connected viewer.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	ID        string
	AccountID string
	Send      chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(id, accountID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:        id,
		AccountID: accountID,
		Send:      make(chan Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
