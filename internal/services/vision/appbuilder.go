// Package vision drives remote vision-understanding backends. The
// default backend is the AppBuilder conversation API: a three-call
// protocol (create conversation, upload file, run query) with session
// state carried across calls and a uniform retry policy on every
// request.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/describo/internal/models"
)

const (
	// DefaultBaseURL is the base URL for the AppBuilder API.
	DefaultBaseURL = "https://qianfan.baidubce.com/v2"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// authHeader carries the opaque caller-supplied credential.
	authHeader = "X-Appbuilder-Authorization"

	createConversationPath = "/app/conversation"
	uploadFilePath         = "/app/conversation/file/upload"
	runsPath               = "/app/conversation/runs"
)

// Client is an AppBuilder conversation API client. Session state
// (conversation id, last uploaded file id) is an explicit value owned by
// the client; it is reused across calls until Reset.
type Client struct {
	baseURL       string
	appID         string
	authorization string
	httpClient    *http.Client
	logger        arbor.ILogger
	limiter       *rate.Limiter
	retry         *RetryPolicy

	session models.SessionState
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retry = NewRetryPolicy(maxRetries, delay)
	}
}

// WithConversationID seeds the client with an externally obtained
// conversation, skipping the create call.
func WithConversationID(conversationID string) ClientOption {
	return func(c *Client) {
		c.session.ConversationID = conversationID
	}
}

// NewClient creates a new AppBuilder API client.
func NewClient(appID, authorization string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       DefaultBaseURL,
		appID:         appID,
		authorization: authorization,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		retry: NewRetryPolicy(3, 10*time.Second),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = arbor.NewLogger()
	}

	return c
}

// ConversationID returns the currently held conversation id, empty when
// no session has been established.
func (c *Client) ConversationID() string {
	return c.session.ConversationID
}

// Reset discards the held session so the next call starts a fresh
// conversation.
func (c *Client) Reset() {
	c.session = models.SessionState{}
}

// Status returns a debug snapshot of the client state with the
// credential redacted to its last characters.
func (c *Client) Status() map[string]string {
	redacted := c.authorization
	if len(redacted) > 8 {
		redacted = "***" + redacted[len(redacted)-8:]
	}
	return map[string]string{
		"app_id":          c.appID,
		"authorization":   redacted,
		"conversation_id": c.session.ConversationID,
		"last_file_id":    c.session.LastFileID,
	}
}

// CreateConversation starts a new conversation and records its id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"app_id": c.appID})
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation request: %w", err)
	}

	status, body, err := c.doRequest(ctx, "create_conversation", createConversationPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create conversation failed: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("create conversation returned HTTP %d", status)
	}

	var result struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode conversation response: %w", err)
	}
	if result.ConversationID == "" {
		return "", fmt.Errorf("create conversation returned no conversation_id")
	}

	c.session.ConversationID = result.ConversationID
	c.logger.Info().
		Str("conversation_id", result.ConversationID).
		Msg("Created new conversation")

	return result.ConversationID, nil
}

// UploadFile uploads a local asset into the conversation. When the
// client already holds a conversation id it is sent with the request,
// but the server-returned id is authoritative and overwrites the held
// value; dropping that precedence would fork the session.
func (c *Client) UploadFile(ctx context.Context, path string) (string, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("app_id", c.appID); err != nil {
		return "", "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if c.session.HasConversation() {
		if err := writer.WriteField("conversation_id", c.session.ConversationID); err != nil {
			return "", "", fmt.Errorf("failed to build upload form: %w", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(path)))
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", "", fmt.Errorf("failed to read asset %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	c.logger.Info().Str("path", path).Msg("Starting file upload")

	status, body, err := c.doRequest(ctx, "upload_file", uploadFilePath, writer.FormDataContentType(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", "", fmt.Errorf("file upload failed: %w", err)
	}
	if status != http.StatusOK {
		return "", "", fmt.Errorf("file upload returned HTTP %d", status)
	}

	var result struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	if result.ConversationID != "" {
		if result.ConversationID != c.session.ConversationID {
			c.logger.Info().
				Str("conversation_id", result.ConversationID).
				Msg("Got new conversation ID from upload")
		}
		c.session.ConversationID = result.ConversationID
	}
	c.session.LastFileID = result.ID

	return result.ID, c.session.ConversationID, nil
}

// Run executes one text+asset query in the held conversation. When no
// conversation exists yet, one is created first; callers do not sequence
// the protocol manually for the happy path.
func (c *Client) Run(ctx context.Context, query string, fileIDs ...string) (*models.RunResponse, error) {
	if !c.session.HasConversation() {
		if _, err := c.CreateConversation(ctx); err != nil {
			return nil, err
		}
	}

	request := map[string]interface{}{
		"app_id":          c.appID,
		"query":           query,
		"stream":          false,
		"conversation_id": c.session.ConversationID,
	}
	if len(fileIDs) > 0 {
		request["file_ids"] = fileIDs
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run request: %w", err)
	}

	c.logger.Info().
		Str("conversation_id", c.session.ConversationID).
		Int("file_count", len(fileIDs)).
		Msg("Starting run query")

	status, body, err := c.doRequest(ctx, "run_query", runsPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("run query failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("run query returned HTTP %d", status)
	}

	var result models.RunResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode run response: %w", err)
	}

	return &result, nil
}

// doRequest performs one POST under the retry policy and rate limiter
func (c *Client) doRequest(ctx context.Context, operation, path, contentType string, requestBody *bytes.Reader) (int, []byte, error) {
	return c.retry.Execute(ctx, c.logger, operation, func() (int, []byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return 0, nil, err
			}
		}

		// Rewind so every retry sends the full body
		if _, err := requestBody.Seek(0, io.SeekStart); err != nil {
			return 0, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, requestBody)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set(authHeader, c.authorization)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, err
		}

		return resp.StatusCode, body, nil
	})
}

// Describe uploads the image and runs the instructional prompt against
// it, returning the raw answer text. This satisfies the VisionService
// interface used by the resolver.
func (c *Client) Describe(ctx context.Context, prompt string, imagePath string) (string, error) {
	fileID, conversationID, err := c.UploadFile(ctx, imagePath)
	if err != nil {
		return "", err
	}
	if fileID == "" || conversationID == "" {
		return "", fmt.Errorf("upload returned empty file or conversation id")
	}

	result, err := c.Run(ctx, prompt, fileID)
	if err != nil {
		return "", err
	}
	if result.Answer == "" {
		return "", fmt.Errorf("run query returned empty answer")
	}

	return result.Answer, nil
}

// HealthCheck verifies the client can establish a conversation.
func (c *Client) HealthCheck(ctx context.Context) error {
	probe := NewClient(c.appID, c.authorization,
		WithBaseURL(c.baseURL),
		WithHTTPClient(c.httpClient),
		WithLogger(c.logger),
		WithRetry(0, 0),
	)
	if _, err := probe.CreateConversation(ctx); err != nil {
		return fmt.Errorf("AppBuilder health check failed: %w", err)
	}
	return nil
}

// Close releases client resources. The HTTP client needs no explicit
// cleanup.
func (c *Client) Close() error {
	return nil
}
