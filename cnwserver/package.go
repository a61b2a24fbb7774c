package cnwserver

import (
	"context"

	"go.uber.org/zap"
)

// PackageFilter post-processes a resolved package URL. Filters run in
// registration order and may replace the URL entirely.
type PackageFilter struct {
	Name  string
	Apply func(url string) string
}

// PackageResolver resolves the download URL for a validated license.
type PackageResolver struct {
	useRemote bool
	signer    StorageSigner
	filters   []PackageFilter
	logger    *zap.Logger
	metrics   Metrics
}

// ResolverOption configures a PackageResolver.
type ResolverOption func(*PackageResolver)

// WithRemoteStorage toggles presigned object storage URLs. Default: disabled.
func WithRemoteStorage(enabled bool) ResolverOption {
	return func(r *PackageResolver) {
		r.useRemote = enabled
	}
}

// WithStorageSigner sets the signer used when remote storage is enabled.
func WithStorageSigner(s StorageSigner) ResolverOption {
	return func(r *PackageResolver) {
		r.signer = s
	}
}

// WithPackageFilter appends a named filter to the resolver's filter chain.
func WithPackageFilter(name string, fn func(string) string) ResolverOption {
	return func(r *PackageResolver) {
		r.AddFilter(name, fn)
	}
}

// WithResolverLogger sets the logger. Default: zap.NewNop().
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *PackageResolver) {
		r.logger = l
	}
}

// WithResolverMetrics sets the metrics sink. Default: NoopMetrics.
func WithResolverMetrics(m Metrics) ResolverOption {
	return func(r *PackageResolver) {
		r.metrics = m
	}
}

// NewPackageResolver creates a resolver. With no options it always resolves to "".
func NewPackageResolver(opts ...ResolverOption) *PackageResolver {
	r := &PackageResolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = NoopMetrics{}
	}
	return r
}

// AddFilter appends a named filter. Nil functions are ignored.
// Not safe to call concurrently with Resolve.
func (r *PackageResolver) AddFilter(name string, fn func(string) string) {
	if fn == nil {
		return
	}
	r.filters = append(r.filters, PackageFilter{Name: name, Apply: fn})
}

// Filters returns the names of the registered filters in order.
func (r *PackageResolver) Filters() []string {
	names := make([]string, 0, len(r.filters))
	for _, f := range r.filters {
		names = append(names, f.Name)
	}
	return names
}

// Resolve returns the package URL for license. Signing failures are logged
// and degrade to an empty URL before the filter chain runs; Resolve never fails.
func (r *PackageResolver) Resolve(ctx context.Context, license *License) string {
	url := ""
	switch {
	case !r.useRemote:
		r.metrics.IncPackageResolution(ResolutionDisabled)
	case r.signer == nil:
		r.logger.Warn("remote storage enabled without a signer")
		r.metrics.IncPackageResolution(ResolutionFailed)
	default:
		signed, err := r.signer.PresignedURLFor(ctx, license)
		if err != nil {
			r.logger.Warn("presign package url failed",
				zap.Int64("license_id", licenseID(license)),
				zap.Error(err),
			)
			r.metrics.IncPackageResolution(ResolutionFailed)
		} else {
			url = signed
			r.metrics.IncPackageResolution(ResolutionSigned)
		}
	}

	for _, f := range r.filters {
		url = f.Apply(url)
	}
	return url
}

func licenseID(l *License) int64 {
	if l == nil {
		return 0
	}
	return l.ID
}
