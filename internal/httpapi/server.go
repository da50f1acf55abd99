// Package httpapi is the daemon's local HTTP surface: the editor appends
// saves, triggers drains, reads content, and checks conflicts here, and
// the background sync worker attaches its websocket bridge here.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/LindsayB610/yarny-app-sub005/internal/bridge"
	"github.com/LindsayB610/yarny-app-sub005/internal/conflict"
	"github.com/LindsayB610/yarny-app-sub005/internal/contentstore"
	"github.com/LindsayB610/yarny-app-sub005/internal/mirror"
	"github.com/LindsayB610/yarny-app-sub005/internal/syncqueue"
)

type ServerConfig struct {
	// AuthToken guards every /v1 route. Empty disables auth, which is only
	// acceptable for a loopback dev daemon.
	AuthToken       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	store       *syncqueue.SyncStore
	processor   *syncqueue.Processor
	content     *contentstore.Store
	detector    *conflict.Detector
	mirror      *mirror.Repository
	bridge      *bridge.Server
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
}

type ServerOptions struct {
	Store     *syncqueue.SyncStore
	Processor *syncqueue.Processor
	Content   *contentstore.Store
	Detector  *conflict.Detector
	Mirror    *mirror.Repository
	Bridge    *bridge.Server
	Config    ServerConfig
	Logger    *zap.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sync store is required")
	}
	if opts.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	cfg := opts.Config
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       opts.Store,
		processor:   opts.Processor,
		content:     opts.Content,
		detector:    opts.Detector,
		mirror:      opts.Mirror,
		bridge:      opts.Bridge,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)
	if !s.authorize(w, r, correlationID) {
		return
	}

	switch {
	case r.URL.Path == "/v1/saves" && r.Method == http.MethodPost:
		s.handleAppendSave(w, r, correlationID)
	case r.URL.Path == "/v1/drain" && r.Method == http.MethodPost:
		s.handleDrain(w, r, correlationID)
	case r.URL.Path == "/v1/content" && r.Method == http.MethodGet:
		s.handleReadContent(w, r, correlationID)
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r, correlationID)
	case r.URL.Path == "/v1/conflicts/check" && r.Method == http.MethodPost:
		s.handleConflictCheck(w, r, correlationID)
	case r.URL.Path == "/v1/conflicts/resolve" && r.Method == http.MethodPost:
		s.handleConflictResolve(w, r, correlationID)
	case r.URL.Path == "/v1/sync/ws" && r.Method == http.MethodGet:
		s.handleSyncSocket(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, correlationID string) bool {
	if s.rateLimiter != nil && !s.rateLimiter.allow(r.RemoteAddr, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", correlationID)
		return false
	}
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", correlationID)
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		writeError(w, http.StatusForbidden, "forbidden", "invalid token", correlationID)
		return false
	}
	return true
}

func (s *Server) handleAppendSave(w http.ResponseWriter, r *http.Request, correlationID string) {
	var entry syncqueue.QueuedSave
	if !s.decodeJSONBody(w, r, correlationID, &entry) {
		return
	}
	if err := s.store.AppendSave(entry); err != nil {
		if errors.Is(err, syncqueue.ErrInvalidEntry) {
			writeError(w, http.StatusUnprocessableEntity, "invalid_entry", "save entry failed validation", correlationID)
			return
		}
		s.logger.Error("failed to append save", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to persist save", correlationID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued": true,
		"depth":  s.store.SaveDepth(),
	})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request, correlationID string) {
	err := s.processor.Drain(r.Context())
	remaining := s.store.SaveDepth()
	if err != nil {
		s.logger.Warn("drain stopped early", zap.Error(err), zap.Int("remaining", remaining))
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"code":          "drain_failed",
			"message":       "drain stopped at a failing entry; remaining entries kept",
			"remaining":     remaining,
			"correlationId": correlationID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drained":   true,
		"remaining": remaining,
	})
}

func (s *Server) handleReadContent(w http.ResponseWriter, r *http.Request, correlationID string) {
	contentID := r.URL.Query().Get("contentId")
	parentFolderID := r.URL.Query().Get("parentFolderId")
	if contentID == "" || parentFolderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "contentId and parentFolderId are required", correlationID)
		return
	}
	unit, ok, err := s.content.Read(r.Context(), contentID, parentFolderID)
	if err != nil {
		s.logger.Warn("content read failed", zap.String("contentId", contentID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "remote store unavailable", correlationID)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no content for this id", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, correlationID string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"saveDepth":     s.store.SaveDepth(),
		"syncDepth":     s.store.SyncDepth(),
		"mirrorEnabled": s.mirror.Root() != "",
		"mirrorRoot":    s.mirror.Root(),
	})
}

type conflictCheckRequest struct {
	SnippetID      string `json:"snippetId"`
	ParentFolderID string `json:"parentFolderId"`
}

func (s *Server) handleConflictCheck(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.detector == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "conflict detection is not configured", correlationID)
		return
	}
	var req conflictCheckRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if req.SnippetID == "" || req.ParentFolderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "snippetId and parentFolderId are required", correlationID)
		return
	}
	c, err := s.detector.Check(r.Context(), req.SnippetID, req.ParentFolderID)
	if err != nil {
		s.logger.Warn("conflict check failed", zap.String("snippetId", req.SnippetID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "conflict check failed", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflict": conflictPayload(c)})
}

type conflictResolveRequest struct {
	SnippetID            string `json:"snippetId"`
	ParentFolderID       string `json:"parentFolderId"`
	ExternalDocID        string `json:"externalDocId"`
	LocalContent         string `json:"localContent"`
	RemoteContent        string `json:"remoteContent"`
	BaselineModifiedTime string `json:"baselineModifiedTime"`
	RemoteModifiedTime   string `json:"remoteModifiedTime"`
	Resolution           string `json:"resolution"`
}

func (s *Server) handleConflictResolve(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.detector == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "conflict detection is not configured", correlationID)
		return
	}
	var req conflictResolveRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	choice, ok := parseResolution(req.Resolution)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "resolution must be keep_local, use_remote, or cancel", correlationID)
		return
	}
	c := &conflict.Conflict{
		SnippetID:            req.SnippetID,
		ParentFolderID:       req.ParentFolderID,
		ExternalDocID:        req.ExternalDocID,
		LocalContent:         req.LocalContent,
		RemoteContent:        req.RemoteContent,
		BaselineModifiedTime: req.BaselineModifiedTime,
		RemoteModifiedTime:   req.RemoteModifiedTime,
	}
	if err := s.detector.Resolve(r.Context(), c, choice); err != nil {
		s.logger.Warn("conflict resolve failed", zap.String("snippetId", req.SnippetID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "conflict resolution failed", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

func (s *Server) handleSyncSocket(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.bridge == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "sync bridge is not configured", correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	if err := s.bridge.ServeConn(r.Context(), conn); err != nil {
		s.logger.Debug("bridge connection closed", zap.Error(err))
	}
}

func conflictPayload(c *conflict.Conflict) map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"snippetId":            c.SnippetID,
		"parentFolderId":       c.ParentFolderID,
		"externalDocId":        c.ExternalDocID,
		"localContent":         c.LocalContent,
		"remoteContent":        c.RemoteContent,
		"baselineModifiedTime": c.BaselineModifiedTime,
		"remoteModifiedTime":   c.RemoteModifiedTime,
	}
}

func parseResolution(raw string) (conflict.Resolution, bool) {
	switch raw {
	case "keep_local":
		return conflict.KeepLocal, true
	case "use_remote":
		return conflict.UseRemote, true
	case "cancel":
		return conflict.Cancel, true
	default:
		return 0, false
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}
