// Package catalog provides product and license lookups for the license server.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
)

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("not found")

// LicenseFinder resolves a license record from its key.
// It returns (nil, nil) when no license matches.
type LicenseFinder interface {
	FindLicense(ctx context.Context, licenseKey string) (*cnwserver.License, error)
}

// StaticCatalog is a map-backed catalog and license finder.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[int64]cnwserver.ProductMeta
	licenses map[string]cnwserver.License
}

// NewStaticCatalog creates an empty StaticCatalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		products: make(map[int64]cnwserver.ProductMeta),
		licenses: make(map[string]cnwserver.License),
	}
}

// PutProduct stores product metadata.
func (c *StaticCatalog) PutProduct(productID int64, meta cnwserver.ProductMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[productID] = meta.Clone()
}

// PutLicense stores a license under its key.
func (c *StaticCatalog) PutLicense(l cnwserver.License) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.licenses[l.LicenseKey] = l
}

func (c *StaticCatalog) GetData(_ context.Context, productID int64) (cnwserver.ProductMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.products[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return meta.Clone(), nil
}

func (c *StaticCatalog) FindLicense(_ context.Context, licenseKey string) (*cnwserver.License, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.licenses[licenseKey]
	if !ok {
		return nil, nil
	}
	return &l, nil
}
