package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

// Client is the worker side of the bridge. Requests are correlated by id:
// the reader loop delivers each response to exactly one waiting call, and
// a response arriving after its caller gave up (or arriving twice) is
// dropped.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]chan Message
	closed  bool

	// OnSyncTrigger runs on every pushed sync trigger. Set before Run.
	OnSyncTrigger func()
}

type ClientOptions struct {
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Dial connects to the daemon's bridge endpoint.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection. Run must be started for any
// request to complete.
func NewClient(conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		conn:    conn,
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
		pending: map[string]chan Message{},
	}
}

// Run reads frames until the connection drops or ctx is done, waking the
// callers waiting on correlated responses.
func (c *Client) Run(ctx context.Context) error {
	defer c.failPending()
	for {
		var msg Message
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msg.Type == TypeSyncTrigger {
			if c.OnSyncTrigger != nil {
				c.OnSyncTrigger()
			}
			continue
		}
		c.deliver(msg)
	}
}

func (c *Client) deliver(msg Message) {
	if msg.RequestID == "" {
		c.logger.Warn("dropping bridge frame without request id", zap.String("type", msg.Type))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		// Stale or duplicate response; its caller already timed out or
		// was answered.
		c.logger.Debug("dropping unmatched bridge response",
			zap.String("type", msg.Type),
			zap.String("requestId", msg.RequestID))
		return
	}
	ch <- msg
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) call(ctx context.Context, req Message) (Message, error) {
	req.RequestID = correlationID()
	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, ErrClosed
	}
	c.pending[req.RequestID] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		c.abandon(req.RequestID)
		return Message{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Message{}, ErrClosed
		}
		return resp, nil
	case <-timer.C:
		c.abandon(req.RequestID)
		return Message{}, ErrTimeout
	case <-ctx.Done():
		c.abandon(req.RequestID)
		return Message{}, ctx.Err()
	}
}

func (c *Client) abandon(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// QueuedSyncs fetches the pending sync jobs from the daemon.
func (c *Client) QueuedSyncs(ctx context.Context) ([]syncqueue.QueuedSync, error) {
	resp, err := c.call(ctx, Message{Type: TypeGetQueuedSyncs})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, errors.New(resp.Error)
	}
	return resp.Syncs, nil
}

// ClearSyncs asks the daemon to drop finished sync jobs.
func (c *Client) ClearSyncs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	resp, err := c.call(ctx, Message{Type: TypeClearQueuedSyncs, ClearIDs: ids})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}

// RegisterRetry asks the daemon to schedule a retry wake-up. It satisfies
// syncqueue.RetryRegistrar so a processor embedded in the worker can use
// the bridge directly.
func (c *Client) RegisterRetry(ctx context.Context) error {
	resp, err := c.call(ctx, Message{Type: TypeRegisterRetry})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "done")
}
