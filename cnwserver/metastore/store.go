// Package metastore provides interfaces and implementations for persisting
// per-license metadata (status, expiry flag) keyed by license id and meta key.
package metastore

import (
	"context"
	"fmt"
	"regexp"
)

// Well-known metadata keys and values.
const (
	KeyStatus  = "status"
	KeyExpired = "expired"

	StatusActive = "active"
	FlagYes      = "yes"
)

// validIdentifier matches safe table and collection names (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Metadata is the key/value state stored for a single license and meta key.
type Metadata map[string]string

// Status returns the stored license status and whether it is present.
func (m Metadata) Status() (string, bool) {
	s, ok := m[KeyStatus]
	return s, ok
}

// Expired reports whether the one-way expired flag has been recorded.
func (m Metadata) Expired() bool {
	return m[KeyExpired] == FlagYes
}

// Clone returns a shallow copy. A nil Metadata clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store persists license metadata.
type Store interface {
	// Get returns the metadata for a license and meta key.
	// A missing record yields an empty Metadata and a nil error.
	Get(ctx context.Context, licenseID int64, key string) (Metadata, error)

	// Update replaces the metadata for a license and meta key (upsert).
	Update(ctx context.Context, licenseID int64, key string, meta Metadata) error

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

func checkIdentifier(name string) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}
