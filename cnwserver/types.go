package cnwserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/metastore"
)

// License states computed by the dispatcher.
const (
	StateActive  = "active"
	StateExpired = "expired"
)

// Request flags sent by client plugins in the "flag" parameter.
const (
	FlagCron          = "cron"
	FlagUpdateThemes  = "update_themes"
	FlagUpdatePlugins = "update_plugins"
)

// License is a license record resolved from request parameters.
// A nil *License means it could not be resolved.
type License struct {
	ID         int64      `json:"id"`
	ProductID  int64      `json:"product_id"`
	LicenseKey string     `json:"license_key"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// StateAt computes the license state at now: "expired" once ExpiresAt has passed,
// otherwise "active" for active licenses and the raw status for everything else.
func (l *License) StateAt(now time.Time) string {
	if l == nil {
		return ""
	}
	if l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return StateExpired
	}
	if l.Status == "" {
		return StateActive
	}
	return l.Status
}

// Parameters are the request parameters forwarded by the dispatcher.
type Parameters map[string]string

// Flag returns the request intent marker, or "" when absent.
func (p Parameters) Flag() string {
	return p["flag"]
}

// ProductMeta is the product data returned by a ProductCatalog.
type ProductMeta map[string]any

// Clone returns a shallow copy. A nil ProductMeta clones to an empty one.
func (m ProductMeta) Clone() ProductMeta {
	out := make(ProductMeta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package returns the download URL attached under "package", if any.
func (m ProductMeta) Package() (string, bool) {
	s, ok := m[PackageKey].(string)
	return s, ok
}

// PackageKey is the product_meta key holding the download URL.
const PackageKey = "package"

// Response is the response data shaped by the Validator.
// A zero Code means no code was set; it is omitted when encoded.
type Response struct {
	ProductID   int64          `json:"productId"`
	State       string         `json:"state"`
	ProductMeta ProductMeta    `json:"product_meta,omitempty"`
	Meta        ProductMeta    `json:"meta,omitempty"`
	Error       string         `json:"error,omitempty"`
	Code        Code           `json:"code,omitempty"`
	Extra       map[string]any `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object. Typed fields win on conflict.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	base, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+6)
	for k, v := range r.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(base, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and keeps every other key in Extra.
func (r *Response) UnmarshalJSON(b []byte) error {
	type plain Response
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range []string{"productId", "state", "product_meta", "meta", "error", "code"} {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*r = Response(p)
	return nil
}

// Err returns the sentinel error for a failure code, or nil on success.
func (r Response) Err() error {
	return r.Code.Err()
}

// OK reports whether the response represents success: no error and no failure code.
func (r Response) OK() bool {
	return r.Error == "" && r.Code.Err() == nil
}

// MetadataStore is the persistence contract for license metadata.
type MetadataStore interface {
	Get(ctx context.Context, licenseID int64, key string) (metastore.Metadata, error)
	Update(ctx context.Context, licenseID int64, key string, meta metastore.Metadata) error
}

// ProductCatalog returns product metadata by product id.
type ProductCatalog interface {
	GetData(ctx context.Context, productID int64) (ProductMeta, error)
}

// StorageSigner produces a presigned download URL for a license's package.
type StorageSigner interface {
	PresignedURLFor(ctx context.Context, license *License) (string, error)
}

// ResponseBuilder composes the success response for scheduled checks.
type ResponseBuilder interface {
	Send(ctx context.Context, license *License, key string, meta metastore.Metadata, productMeta ProductMeta, state string) Response
}

// ResponseBuilderFunc adapts a function to ResponseBuilder.
type ResponseBuilderFunc func(ctx context.Context, license *License, key string, meta metastore.Metadata, productMeta ProductMeta, state string) Response

func (f ResponseBuilderFunc) Send(ctx context.Context, license *License, key string, meta metastore.Metadata, productMeta ProductMeta, state string) Response {
	return f(ctx, license, key, meta, productMeta, state)
}
