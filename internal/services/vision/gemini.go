package vision

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/describo/internal/common"
)

// GeminiService implements the VisionService interface using the Google
// Gemini API. Gemini has no conversation/upload protocol; the image
// bytes ride inline with the prompt in a single call.
type GeminiService struct {
	config *common.GeminiConfig
	logger arbor.ILogger
	client *genai.Client
}

// NewGeminiService creates a new Gemini vision service instance.
func NewGeminiService(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set via DESCRIBO_GEMINI_API_KEY or vision.gemini.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "gemini-3-flash-preview"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config: config,
		logger: logger,
		client: client,
	}

	logger.Debug().
		Str("model", config.Model).
		Msg("Gemini vision service initialized successfully")

	return service, nil
}

// Describe sends the prompt plus the image bytes to Gemini and returns
// the generated text.
func (s *GeminiService) Describe(ctx context.Context, prompt string, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read asset %s: %w", imagePath, err)
	}

	startTime := time.Now()
	s.logger.Debug().
		Str("path", imagePath).
		Int("bytes", len(data)).
		Msg("Starting Gemini image description")

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeTypeForPath(imagePath)),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.config.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Gemini generation failed: %w", err)
	}

	var response strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					response.WriteString(part.Text)
				}
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from Gemini")
	}

	s.logger.Debug().
		Int("response_length", response.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini image description completed")

	return response.String(), nil
}

// HealthCheck verifies the Gemini client is initialized.
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("Gemini client is not initialized")
	}
	return nil
}

// Close releases resources. The genai.Client doesn't require explicit
// cleanup.
func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}

// mimeTypeForPath maps the normalized asset suffix to its media type.
// The normalizer only ever hands over .png or .jpg files.
func mimeTypeForPath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	default:
		return "image/jpeg"
	}
}
