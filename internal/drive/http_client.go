package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxListPages bounds pagination so a misbehaving paginator cannot hold a
// drain cycle open forever.
const maxListPages = 20

type AccessTokenProvider func(ctx context.Context) (string, error)

type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider AccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Logger        *zap.Logger
}

// HTTPClient implements Client against the remote document service's REST
// surface with bounded retry on transient failures.
type HTTPClient struct {
	baseURL       string
	tokenProvider AccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	logger        *zap.Logger
}

func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		logger:        logger,
	}
}

func (c *HTTPClient) ListFolder(ctx context.Context, folderID string) ([]FileInfo, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return nil, ErrInvalidInput
	}
	files := []FileInfo{}
	pageToken := ""
	for page := 0; ; page++ {
		if page >= maxListPages {
			c.logger.Warn("folder listing hit page ceiling; truncating",
				zap.String("folderId", folderID),
				zap.Int("pages", maxListPages))
			return files, nil
		}
		q := url.Values{}
		q.Set("folderId", folderID)
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var out ListPage
		if err := c.doJSON(ctx, http.MethodGet, "/v1/files?"+q.Encode(), nil, &out); err != nil {
			return nil, err
		}
		files = append(files, out.Files...)
		if strings.TrimSpace(out.NextPageToken) == "" {
			return files, nil
		}
		pageToken = out.NextPageToken
	}
}

func (c *HTTPClient) Read(ctx context.Context, fileID string) (FileContent, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return FileContent{}, ErrInvalidInput
	}
	var out FileContent
	err := c.doJSON(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID), nil, &out)
	return out, err
}

func (c *HTTPClient) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return WriteResult{}, ErrInvalidInput
	}
	var out WriteResult
	err := c.doJSON(ctx, http.MethodPost, "/v1/files", req, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, fileID string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return ErrInvalidInput
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/files/"+url.PathEscape(fileID), nil, nil)
}

func (c *HTTPClient) Rename(ctx context.Context, fileID, newName string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" || strings.TrimSpace(newName) == "" {
		return ErrInvalidInput
	}
	body := map[string]string{"name": strings.TrimSpace(newName)}
	return c.doJSON(ctx, http.MethodPatch, "/v1/files/"+url.PathEscape(fileID), body, nil)
}

func (c *HTTPClient) ReadDoc(ctx context.Context, docID string) (DocContent, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return DocContent{}, ErrInvalidInput
	}
	var out DocContent
	err := c.doJSON(ctx, http.MethodGet, "/v1/docs/"+url.PathEscape(docID), nil, &out)
	return out, err
}

func (c *HTTPClient) UpdateDoc(ctx context.Context, docID, content string) (string, error) {
	docID = strings.TrimSpace(docID)
	if docID == "" {
		return "", ErrInvalidInput
	}
	body := map[string]string{"content": content}
	var out struct {
		ModifiedTime string `json:"modifiedTime"`
	}
	err := c.doJSON(ctx, http.MethodPut, "/v1/docs/"+url.PathEscape(docID), body, &out)
	return out.ModifiedTime, err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	token := ""
	if c.tokenProvider != nil {
		var err error
		token, err = c.tokenProvider(ctx)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s %s", ErrNotFound, method, requestPath)
		}
		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = strings.TrimSpace(string(payloadBytes))
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID() string {
	return fmt.Sprintf("yarny_%d", time.Now().UnixNano())
}
