// Package httpapi exposes the license validator over HTTP.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/catalog"
	"github.com/CloudNativeWorks/cnw-license-server/cnwserver/metastore"
)

// Handler serves the license endpoints.
type Handler struct {
	validator      *cnwserver.Validator
	finder         catalog.LicenseFinder
	store          cnwserver.MetadataStore
	logger         *zap.Logger
	apiKey         string
	defaultMetaKey string
	requestTimeout time.Duration
	metricsHandler http.Handler
	now            func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithAPIKey requires requests under /v1 to carry a matching X-API-Key header.
func WithAPIKey(key string) Option {
	return func(h *Handler) {
		h.apiKey = key
	}
}

// WithDefaultMetaKey sets the meta key used when a request omits meta_key. Default: "license".
func WithDefaultMetaKey(key string) Option {
	return func(h *Handler) {
		h.defaultMetaKey = key
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithRequestTimeout bounds each request. Default: 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

// WithMetricsHandler serves h at /metrics. Default: promhttp.Handler().
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) {
		h.metricsHandler = mh
	}
}

// NewHandler creates a Handler.
func NewHandler(v *cnwserver.Validator, finder catalog.LicenseFinder, store cnwserver.MetadataStore, opts ...Option) *Handler {
	h := &Handler{
		validator:      v,
		finder:         finder,
		store:          store,
		defaultMetaKey: "license",
		requestTimeout: 30 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.metricsHandler == nil {
		h.metricsHandler = promhttp.Handler()
	}
	return h
}

// Routes returns the chi router for all endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", h.metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(h.requestTimeout))
		r.Use(h.requireAPIKey)
		r.Post("/validate", h.Validate)
		r.Get("/licenses/{key}", h.GetLicense)
	})
	return r
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(h.apiKey)) != 1 {
			writeFailure(w, r, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Validate handles POST /v1/validate. The JSON body is flattened into request
// parameters; license_key, meta_key and flag are the keys of interest.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeFailure(w, r, http.StatusBadRequest, "invalid json body")
		return
	}
	params := toParameters(body)
	licenseKey := params["license_key"]
	metaKey := params["meta_key"]
	if metaKey == "" {
		metaKey = h.defaultMetaKey
	}

	license, err := h.findLicense(r, licenseKey)
	if err != nil {
		h.logger.Error("license lookup failed",
			zap.String("request_id", reqID),
			zap.String("license_key", cnwserver.MaskKey(licenseKey)),
			zap.Error(err),
		)
		writeFailure(w, r, http.StatusInternalServerError, "license lookup failed")
		return
	}

	meta := metastore.Metadata{}
	data := cnwserver.Response{Extra: map[string]any{"licenseKey": licenseKey}}
	if license != nil {
		meta, err = h.store.Get(ctx, license.ID, metaKey)
		if err != nil {
			h.logger.Error("metadata lookup failed",
				zap.String("request_id", reqID),
				zap.Int64("license_id", license.ID),
				zap.Error(err),
			)
			writeFailure(w, r, http.StatusInternalServerError, "metadata lookup failed")
			return
		}
		data.ProductID = license.ProductID
		data.State = license.StateAt(h.now())
	}

	resp := h.validator.Validate(ctx, data, metaKey, meta, params, license)

	h.logger.Info("license validated",
		zap.String("request_id", reqID),
		zap.String("license_key", cnwserver.MaskKey(licenseKey)),
		zap.String("flag", params.Flag()),
		zap.Stringer("code", resp.Code),
	)
	render.Status(r, resp.Code.HTTPStatus())
	render.JSON(w, r, resp)
}

// GetLicense handles GET /v1/licenses/{key}: license summary with product details as meta.
func (h *Handler) GetLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	license, err := h.findLicense(r, key)
	if err != nil {
		h.logger.Error("license lookup failed", zap.String("license_key", cnwserver.MaskKey(key)), zap.Error(err))
		writeFailure(w, r, http.StatusInternalServerError, "license lookup failed")
		return
	}
	if license == nil {
		render.Status(r, cnwserver.CodeLicenseUnresolved.HTTPStatus())
		render.JSON(w, r, cnwserver.Response{Error: cnwserver.MsgLicenseUnresolved, Code: cnwserver.CodeLicenseUnresolved})
		return
	}

	data := cnwserver.Response{
		ProductID: license.ProductID,
		State:     license.StateAt(h.now()),
		Code:      cnwserver.CodeOK,
		Extra: map[string]any{
			"licenseKey": license.LicenseKey,
			"status":     license.Status,
			"expiresAt":  license.ExpiresAt,
		},
	}
	render.JSON(w, r, h.validator.DispatchProductDetails(r.Context(), data))
}

func (h *Handler) findLicense(r *http.Request, key string) (*cnwserver.License, error) {
	if key == "" || h.finder == nil {
		return nil, nil
	}
	return h.finder.FindLicense(r.Context(), key)
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"error": message, "code": status})
}

// toParameters keeps string values as-is and formats other scalars; nested values are dropped.
func toParameters(body map[string]any) cnwserver.Parameters {
	params := make(cnwserver.Parameters, len(body))
	for k, v := range body {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64, bool:
			params[k] = fmt.Sprint(val)
		}
	}
	return params
}
