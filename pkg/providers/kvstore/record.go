// Package kvstore persists the tenant-facing key/value store and mediates
// every call through the capability and ratelimit layers before touching
// the database.
package kvstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/scriptrt/pkg/tenant"
	"github.com/wisbric/scriptrt/pkg/valuetree"
)

// Record is one stored key/value entry.
type Record struct {
	ID            uuid.UUID
	Owner         tenant.ID
	Scopes        []string
	Key           string
	Value         valuetree.Value
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	ExpiresAt     *time.Time
}

const (
	// MaxKeyLength and MinKeyLength bound a KV key's length.
	MaxKeyLength = 64
	MinKeyLength = 3

	// DefaultMaxValueBytes is the default cap on an encoded record value.
	DefaultMaxValueBytes = 256 * 1024
)
