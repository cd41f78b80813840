// Package artifacts stores tool-produced files and their metadata: small
// payloads ride inline on the artifact record, larger ones live in a blob
// store and are fetched by reference.
package artifacts

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

// Store is the blob backend behind a Repository. Implementations must be
// safe for concurrent use.
type Store interface {
	// Put writes the artifact data and returns a backend-specific reference.
	Put(ctx context.Context, artifactID string, data io.Reader, opts PutOptions) (string, error)

	// Get opens the artifact data for reading.
	Get(ctx context.Context, artifactID string) (io.ReadCloser, error)

	// Delete removes the artifact data. Deleting a missing artifact is not
	// an error.
	Delete(ctx context.Context, artifactID string) error

	// Close releases backend resources.
	Close() error
}

// PutOptions carries optional hints for a Store.Put call.
type PutOptions struct {
	MimeType string
	TTL      time.Duration
	Metadata map[string]string
}

// Metadata is the repository-side record of a stored artifact.
type Metadata struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	MimeType   string    `json:"mime_type,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	TTLSeconds int64     `json:"ttl_seconds,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	EdgeID     string    `json:"edge_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Filter selects artifacts for listing.
type Filter struct {
	SessionID     string
	EdgeID        string
	Type          string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Repository manages artifact metadata and data together.
type Repository interface {
	// StoreArtifact persists the artifact record and its data.
	StoreArtifact(ctx context.Context, artifact *models.Artifact, data io.Reader) error

	// GetArtifact returns the artifact record and a reader for its data.
	GetArtifact(ctx context.Context, artifactID string) (*models.Artifact, io.ReadCloser, error)

	// ListArtifacts finds artifacts matching the filter.
	ListArtifacts(ctx context.Context, filter Filter) ([]*models.Artifact, error)

	// DeleteArtifact removes an artifact and its data.
	DeleteArtifact(ctx context.Context, artifactID string) error

	// PruneExpired deletes artifacts past their TTL, returning the count.
	PruneExpired(ctx context.Context) (int, error)
}

var (
	ttlMu       sync.RWMutex
	defaultTTLs = map[string]time.Duration{
		"screenshot": 7 * 24 * time.Hour,
		"recording":  30 * 24 * time.Hour,
		"file":       14 * 24 * time.Hour,
	}
)

// fallbackTTL applies to artifact types with no configured retention.
const fallbackTTL = 24 * time.Hour

// GetDefaultTTL returns the retention period for an artifact type.
func GetDefaultTTL(artifactType string) time.Duration {
	ttlMu.RLock()
	defer ttlMu.RUnlock()
	if ttl, ok := defaultTTLs[strings.ToLower(strings.TrimSpace(artifactType))]; ok {
		return ttl
	}
	return fallbackTTL
}

// SetDefaultTTLs merges configured retention periods over the built-in
// defaults. A nil or empty map leaves the defaults untouched.
func SetDefaultTTLs(ttls map[string]time.Duration) {
	if len(ttls) == 0 {
		return
	}
	ttlMu.Lock()
	defer ttlMu.Unlock()
	for artifactType, ttl := range ttls {
		if ttl > 0 {
			defaultTTLs[strings.ToLower(strings.TrimSpace(artifactType))] = ttl
		}
	}
}
