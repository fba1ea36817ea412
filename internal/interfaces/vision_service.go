package interfaces

import (
	"context"
)

// VisionService resolves one local image to descriptive text using a
// vision-understanding backend. Implementations own their session and
// retry handling; a nil-error return always carries a non-empty answer.
type VisionService interface {
	// Describe sends the instructional prompt plus the image at path to
	// the backend and returns the raw answer text.
	Describe(ctx context.Context, prompt string, imagePath string) (string, error)

	// HealthCheck verifies the backend is reachable and configured
	HealthCheck(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
