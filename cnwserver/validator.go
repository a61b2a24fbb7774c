package cnwserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/metastore"
)

const defaultPersistTimeout = 5 * time.Second

// Validator shapes the dispatcher's response for a license request.
// It is safe for concurrent use once constructed.
type Validator struct {
	store          MetadataStore
	catalog        ProductCatalog
	builder        ResponseBuilder
	resolver       *PackageResolver
	logger         *zap.Logger
	metrics        Metrics
	persistTimeout time.Duration

	pending sync.WaitGroup
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMetadataStore sets the store used to persist the expired flag.
func WithMetadataStore(s MetadataStore) ValidatorOption {
	return func(v *Validator) {
		v.store = s
	}
}

// WithProductCatalog sets the catalog that supplies product metadata.
func WithProductCatalog(c ProductCatalog) ValidatorOption {
	return func(v *Validator) {
		v.catalog = c
	}
}

// WithResponseBuilder sets the builder for scheduled-check responses.
// Default: DefaultResponseBuilder.
func WithResponseBuilder(b ResponseBuilder) ValidatorOption {
	return func(v *Validator) {
		v.builder = b
	}
}

// WithPackageResolver sets the package resolver. Default: a resolver with remote storage disabled.
func WithPackageResolver(r *PackageResolver) ValidatorOption {
	return func(v *Validator) {
		v.resolver = r
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = l
	}
}

// WithMetrics sets the metrics sink. Default: NoopMetrics.
func WithMetrics(m Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithPersistTimeout bounds the background metadata update made when a license
// expires. Non-positive values keep the default of 5s.
func WithPersistTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.persistTimeout = d
	}
}

// NewValidator creates a Validator from its collaborators.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{persistTimeout: defaultPersistTimeout}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.metrics == nil {
		v.metrics = NoopMetrics{}
	}
	if v.persistTimeout <= 0 {
		v.persistTimeout = defaultPersistTimeout
	}
	if v.builder == nil {
		v.builder = DefaultResponseBuilder{}
	}
	if v.resolver == nil {
		v.resolver = NewPackageResolver(WithResolverLogger(v.logger), WithResolverMetrics(v.metrics))
	}
	return v
}

// Validate applies the license decision table to data:
//  1. Unresolved license: code 400
//  2. Metadata without status: code 401
//  3. Marks metadata expired (once) when state is expired
//  4. Cron checks: response built by the ResponseBuilder, no enforcement
//  5. Plain requests (no update flag): data with code 200
//  6. Update requests: product meta attached; 402 when inactive, 403 when expired,
//     otherwise the package URL is added and no code is set
//
// meta is mutated in place when the expired flag is recorded. The store write
// runs in the background; use Wait to drain it.
func (v *Validator) Validate(ctx context.Context, data Response, key string, meta metastore.Metadata, params Parameters, license *License) Response {
	flag := params.Flag()
	resp := v.validate(ctx, data, key, meta, flag, license)
	v.metrics.IncValidation(flag, resp.Code)
	return resp
}

func (v *Validator) validate(ctx context.Context, data Response, key string, meta metastore.Metadata, flag string, license *License) Response {
	if license == nil {
		return Response{Error: MsgLicenseUnresolved, Code: CodeLicenseUnresolved}
	}
	status, ok := meta.Status()
	if !ok {
		return Response{Error: MsgStatusUnverifiable, Code: CodeStatusUnverifiable}
	}

	state := data.State
	if state == StateExpired && !meta.Expired() {
		meta[metastore.KeyExpired] = metastore.FlagYes
		v.persistExpired(ctx, license, key, meta)
	}

	isSchedule := flag == FlagCron
	isUpdate := flag == FlagUpdateThemes || flag == FlagUpdatePlugins

	if isSchedule {
		productMeta := v.productMeta(ctx, license.ProductID)
		return v.builder.Send(ctx, license, key, meta, productMeta, state)
	}

	// Plain validation requests are not checked for status or expiry.
	if !isUpdate {
		data.Code = CodeOK
		return data
	}

	data.ProductMeta = v.productMeta(ctx, license.ProductID)

	if status != metastore.StatusActive {
		data.Error = MsgLicenseInactive
		data.Code = CodeLicenseInactive
		return data
	}
	if state == StateExpired {
		data.Error = MsgLicenseExpired
		data.Code = CodeLicenseExpired
		return data
	}

	data.ProductMeta[PackageKey] = v.resolver.Resolve(ctx, license)
	return data
}

// DispatchProductDetails attaches the catalog data for data.ProductID as Meta.
func (v *Validator) DispatchProductDetails(ctx context.Context, data Response) Response {
	data.Meta = v.productMeta(ctx, data.ProductID)
	return data
}

// persistExpired writes a copy of meta back to the store in the background,
// detached from the request context and bounded by the persist timeout.
// Failures are logged only.
func (v *Validator) persistExpired(ctx context.Context, license *License, key string, meta metastore.Metadata) {
	if v.store == nil {
		return
	}
	snapshot := meta.Clone()
	licenseID, licenseKey := license.ID, license.LicenseKey
	ctx = context.WithoutCancel(ctx)

	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, v.persistTimeout)
		defer cancel()

		if err := v.store.Update(ctx, licenseID, key, snapshot); err != nil {
			v.logger.Error("persist expired flag failed",
				zap.Int64("license_id", licenseID),
				zap.String("meta_key", key),
				zap.Error(err),
			)
			return
		}
		v.metrics.IncExpiryMarked()
		v.logger.Info("license marked expired",
			zap.Int64("license_id", licenseID),
			zap.String("license_key", MaskKey(licenseKey)),
		)
	}()
}

// Wait blocks until all background metadata writes have finished.
func (v *Validator) Wait() {
	v.pending.Wait()
}

// productMeta returns a copy of the catalog data, or an empty map when unavailable.
func (v *Validator) productMeta(ctx context.Context, productID int64) ProductMeta {
	if v.catalog == nil {
		return ProductMeta{}
	}
	meta, err := v.catalog.GetData(ctx, productID)
	if err != nil {
		v.logger.Warn("product data lookup failed",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
		return ProductMeta{}
	}
	return meta.Clone()
}

// MaskKey hides all but the first and last four characters of a license key.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
