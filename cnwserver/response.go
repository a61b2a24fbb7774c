package cnwserver

import (
	"context"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/metastore"
)

// DefaultResponseBuilder builds the scheduled-check response: product and state,
// the license key, the stored status and expiry flag, and the product metadata.
type DefaultResponseBuilder struct{}

func (DefaultResponseBuilder) Send(_ context.Context, license *License, key string, meta metastore.Metadata, productMeta ProductMeta, state string) Response {
	status, _ := meta.Status()
	return Response{
		ProductID:   license.ProductID,
		State:       state,
		ProductMeta: productMeta,
		Code:        CodeOK,
		Extra: map[string]any{
			"licenseKey": license.LicenseKey,
			"metaKey":    key,
			"status":     status,
			"expired":    meta.Expired(),
		},
	}
}
