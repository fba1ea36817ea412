package interfaces

import (
	"github.com/ternarybob/describo/internal/models"
)

// DescriptionStore caches vision answers keyed by asset content hash.
// Lookups and stores degrade gracefully; a miss is (nil, false), never an
// error the caller must branch on.
type DescriptionStore interface {
	Get(hash string) (*models.Description, bool)
	Put(desc *models.Description) error
	Close() error
}
