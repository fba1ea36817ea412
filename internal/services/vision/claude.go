package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
)

// ClaudeService implements the VisionService interface using the
// Anthropic Claude API. Like Gemini, the image travels base64-encoded
// inside a single message; no session protocol is involved.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    *anthropic.Client
	maxTokens int
}

// NewClaudeService creates a new Claude vision service instance.
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set via ANTHROPIC_API_KEY, DESCRIBO_CLAUDE_API_KEY, or vision.claude.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "claude-haiku-3-5-20241022"
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	service := &ClaudeService{
		config:    config,
		logger:    logger,
		client:    &client,
		maxTokens: maxTokens,
	}

	logger.Debug().
		Str("model", config.Model).
		Int("max_tokens", maxTokens).
		Msg("Claude vision service initialized successfully")

	return service, nil
}

// Describe sends the prompt plus the base64-encoded image to Claude and
// returns the generated text.
func (s *ClaudeService) Describe(ctx context.Context, prompt string, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read asset %s: %w", imagePath, err)
	}

	startTime := time.Now()
	s.logger.Debug().
		Str("path", imagePath).
		Int("bytes", len(data)).
		Msg("Starting Claude image description")

	encoded := base64.StdEncoding.EncodeToString(data)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.config.Model),
		MaxTokens: int64(s.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeTypeForPath(imagePath), encoded),
				anthropic.NewTextBlock(prompt),
			),
		},
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Claude API")
	}

	s.logger.Debug().
		Int("response_length", response.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Claude image description completed")

	return response.String(), nil
}

// HealthCheck verifies the Claude client is initialized.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("Claude client is not initialized")
	}
	return nil
}

// Close releases resources.
func (s *ClaudeService) Close() error {
	s.client = nil
	return nil
}
