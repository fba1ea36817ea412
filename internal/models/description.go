package models

import "time"

// Description is a cached vision answer keyed by asset content hash
type Description struct {
	Hash      string    `json:"hash" badgerhold:"key"`
	Reference string    `json:"reference"`
	Answer    string    `json:"answer"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}
