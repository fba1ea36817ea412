package vision

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/describo/internal/common"
	"github.com/ternarybob/describo/internal/interfaces"
)

// NewVisionService creates the appropriate vision service implementation
// based on configuration.
func NewVisionService(cfg *common.Config, logger arbor.ILogger) (interfaces.VisionService, error) {
	logger.Info().Str("provider", string(cfg.Vision.Provider)).Msg("Initializing vision service")

	switch cfg.Vision.Provider {
	case common.VisionProviderAppBuilder, "":
		opts := []ClientOption{
			WithLogger(logger),
			WithRetry(cfg.Vision.RetryCount, cfg.Vision.RetryDelay.Std()),
		}
		if cfg.Vision.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.Vision.BaseURL))
		}
		if cfg.Vision.RateLimit > 0 {
			opts = append(opts, WithRateLimit(cfg.Vision.RateLimit))
		}
		if cfg.Vision.Timeout > 0 {
			opts = append(opts, WithHTTPClient(newHTTPClient(cfg.Vision)))
		}
		return NewClient(cfg.App.AppID, cfg.App.Authorization, opts...), nil

	case common.VisionProviderGemini:
		return NewGeminiService(&cfg.Vision.Gemini, logger)

	case common.VisionProviderClaude:
		return NewClaudeService(&cfg.Vision.Claude, logger)

	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.Vision.Provider)
	}
}

func newHTTPClient(cfg common.VisionConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout.Std()}
}
