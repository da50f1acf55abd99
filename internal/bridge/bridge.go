// Package bridge carries sync-queue traffic between the daemon and the
// background sync worker over a websocket. The daemon side owns the queue;
// the worker side only ever asks for jobs, clears finished ones, and asks
// for a retry wake-up. Every request carries a correlation id and the
// worker matches responses to requests by that id, so slow or reordered
// replies never complete the wrong call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

const (
	TypeGetQueuedSyncs      = "get_queued_syncs"
	TypeQueuedSyncsResponse = "queued_syncs_response"
	TypeClearQueuedSyncs    = "clear_queued_syncs"
	TypeClearAck            = "clear_ack"
	TypeRegisterRetry       = "register_retry"
	TypeRetryAck            = "retry_ack"
	TypeSyncTrigger         = "sync_trigger"
)

var (
	ErrTimeout = errors.New("bridge request timed out")
	ErrClosed  = errors.New("bridge connection closed")
)

// Message is the single frame shape for both directions. Fields beyond
// Type and RequestID are populated per message type.
type Message struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Syncs     []syncqueue.QueuedSync `json:"syncs,omitempty"`
	ClearIDs  []string               `json:"clearIds,omitempty"`
	OK        bool                   `json:"ok,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// RetryScheduler is the daemon's hook for platform retry registration.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context) error
}

// Server answers worker requests against the daemon's sync store and can
// push sync triggers to every connected worker.
type Server struct {
	store     *syncqueue.SyncStore
	scheduler RetryScheduler
	logger    *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(store *syncqueue.SyncStore, scheduler RetryScheduler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
		conns:     map[*websocket.Conn]struct{}{},
	}
}

// ServeConn owns one worker connection until it drops or ctx is done.
func (s *Server) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		reply, ok := s.handle(ctx, msg)
		if !ok {
			continue
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, msg Message) (Message, bool) {
	switch msg.Type {
	case TypeGetQueuedSyncs:
		return Message{
			Type:      TypeQueuedSyncsResponse,
			RequestID: msg.RequestID,
			Syncs:     s.store.QueuedSyncs(),
			OK:        true,
		}, true
	case TypeClearQueuedSyncs:
		reply := Message{Type: TypeClearAck, RequestID: msg.RequestID, OK: true}
		if err := s.store.ClearSyncs(msg.ClearIDs); err != nil {
			reply.OK = false
			reply.Error = err.Error()
		}
		return reply, true
	case TypeRegisterRetry:
		reply := Message{Type: TypeRetryAck, RequestID: msg.RequestID, OK: true}
		if s.scheduler == nil {
			reply.OK = false
			reply.Error = "no retry scheduler configured"
		} else if err := s.scheduler.ScheduleRetry(ctx); err != nil {
			reply.OK = false
			reply.Error = err.Error()
		}
		return reply, true
	default:
		s.logger.Warn("ignoring unknown bridge message", zap.String("type", msg.Type))
		return Message{}, false
	}
}

// NotifySync pushes a sync trigger to every connected worker. Delivery is
// best effort; a worker that missed the push will still poll.
func (s *Server) NotifySync(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		if err := wsjson.Write(ctx, conn, Message{Type: TypeSyncTrigger}); err != nil {
			s.logger.Warn("failed to push sync trigger", zap.Error(err))
		}
	}
}

// correlationSeq disambiguates ids minted in the same nanosecond; the
// client keys its pending-request map by correlation id, so ids must be
// unique within a process.
var correlationSeq atomic.Uint64

func correlationID() string {
	return fmt.Sprintf("yarny_%d_%d", time.Now().UnixNano(), correlationSeq.Add(1))
}
