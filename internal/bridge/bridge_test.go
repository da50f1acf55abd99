package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/LindsayB610/yarny-app-sub005/internal/kv"
	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

type fakeScheduler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeScheduler) ScheduleRetry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeScheduler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type bridgeFixture struct {
	store     *syncqueue.SyncStore
	server    *Server
	scheduler *fakeScheduler
	client    *Client
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	store := syncqueue.NewSyncStore(kv.NewMemoryStore(), zap.NewNop())
	scheduler := &fakeScheduler{}
	server := NewServer(store, scheduler, zap.NewNop())

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = server.ServeConn(r.Context(), conn)
	}))
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, err := Dial(ctx, httpServer.URL, ClientOptions{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	runCtx, runCancel := context.WithCancel(context.Background())
	t.Cleanup(runCancel)
	go func() { _ = client.Run(runCtx) }()

	return &bridgeFixture{store: store, server: server, scheduler: scheduler, client: client}
}

func TestQueuedSyncsRoundTrip(t *testing.T) {
	fx := newBridgeFixture(t)
	job := syncqueue.QueuedSync{
		SnippetID: "s1", GdocFileID: "g1", ParentFolderID: "f1",
		Content: "draft", Timestamp: "2024-03-01T10:00:00.000Z",
	}
	if err := fx.store.UpsertSync(job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	syncs, err := fx.client.QueuedSyncs(ctx)
	if err != nil {
		t.Fatalf("queued syncs: %v", err)
	}
	if len(syncs) != 1 || syncs[0] != job {
		t.Fatalf("unexpected syncs %+v", syncs)
	}
}

func TestClearSyncsOverBridge(t *testing.T) {
	fx := newBridgeFixture(t)
	job := syncqueue.QueuedSync{
		SnippetID: "s1", GdocFileID: "g1", Content: "draft",
		Timestamp: "2024-03-01T10:00:00.000Z",
	}
	if err := fx.store.UpsertSync(job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.client.ClearSyncs(ctx, []string{job.Timestamp}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if depth := fx.store.SyncDepth(); depth != 0 {
		t.Fatalf("expected cleared queue, depth %d", depth)
	}
}

func TestRegisterRetryOverBridge(t *testing.T) {
	fx := newBridgeFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.client.RegisterRetry(ctx); err != nil {
		t.Fatalf("register retry: %v", err)
	}
	if fx.scheduler.callCount() != 1 {
		t.Fatalf("expected one scheduler call, got %d", fx.scheduler.callCount())
	}
}

func TestRegisterRetrySurfacesSchedulerError(t *testing.T) {
	fx := newBridgeFixture(t)
	fx.scheduler.mu.Lock()
	fx.scheduler.err = errors.New("platform refused")
	fx.scheduler.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := fx.client.RegisterRetry(ctx)
	if err == nil || err.Error() != "platform refused" {
		t.Fatalf("expected scheduler error, got %v", err)
	}
}

func TestSyncTriggerPush(t *testing.T) {
	fx := newBridgeFixture(t)
	triggered := make(chan struct{}, 1)
	fx.client.OnSyncTrigger = func() {
		select {
		case triggered <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// A round trip guarantees the server has registered the connection.
	if _, err := fx.client.QueuedSyncs(ctx); err != nil {
		t.Fatalf("queued syncs: %v", err)
	}
	fx.server.NotifySync(ctx)

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatalf("sync trigger never delivered")
	}
}

func TestStaleResponseIgnored(t *testing.T) {
	// A handler that precedes every real reply with a frame carrying a
	// request id nobody is waiting on.
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			stale := Message{Type: TypeQueuedSyncsResponse, RequestID: "stale-id", OK: true}
			if err := wsjson.Write(ctx, conn, stale); err != nil {
				return
			}
			real := Message{Type: TypeQueuedSyncsResponse, RequestID: msg.RequestID, OK: true}
			if err := wsjson.Write(ctx, conn, real); err != nil {
				return
			}
		}
	}))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, httpServer.URL, ClientOptions{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	go func() { _ = client.Run(context.Background()) }()

	syncs, err := client.QueuedSyncs(ctx)
	if err != nil {
		t.Fatalf("queued syncs: %v", err)
	}
	if len(syncs) != 0 {
		t.Fatalf("unexpected syncs %+v", syncs)
	}
}

func TestRequestTimeout(t *testing.T) {
	// A handler that reads requests and never answers.
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			var msg Message
			if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
				return
			}
		}
	}))
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, httpServer.URL, ClientOptions{
		RequestTimeout: 50 * time.Millisecond,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	go func() { _ = client.Run(context.Background()) }()

	_, err = client.QueuedSyncs(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCorrelationIDsDistinctUnderBurst(t *testing.T) {
	const n = 5000
	seen := make(map[string]struct{}, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				id := correlationID()
				mu.Lock()
				_, dup := seen[id]
				seen[id] = struct{}{}
				mu.Unlock()
				if dup {
					t.Errorf("duplicate correlation id %q", id)
					return
				}
			}
		}()
	}
	wg.Wait()
}
