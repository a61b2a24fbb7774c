package cnwserver

import "github.com/prometheus/client_golang/prometheus"

// Metrics records validation outcomes.
type Metrics interface {
	IncValidation(flag string, code Code)
	IncPackageResolution(result string)
	IncExpiryMarked()
}

// Package resolution results.
const (
	ResolutionSigned   = "signed"
	ResolutionFailed   = "failed"
	ResolutionDisabled = "disabled"
)

// NoopMetrics implements Metrics without emitting anything.
type NoopMetrics struct{}

func (NoopMetrics) IncValidation(string, Code)   {}
func (NoopMetrics) IncPackageResolution(string) {}
func (NoopMetrics) IncExpiryMarked()            {}

// PromMetrics implements Metrics backed by Prometheus counters.
type PromMetrics struct {
	validations *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	expiryMarks prometheus.Counter
}

// NewPromMetrics creates the counters and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewPromMetrics(namespace string, reg prometheus.Registerer) *PromMetrics {
	p := &PromMetrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "License validations by request flag and response code",
		}, []string{"flag", "code"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_resolutions_total",
			Help:      "Package URL resolutions by result",
		}, []string{"result"}),
		expiryMarks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_marks_total",
			Help:      "Expired flags successfully written to the metadata store",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(p.validations, p.resolutions, p.expiryMarks)
	return p
}

func (p *PromMetrics) IncValidation(flag string, code Code) {
	p.validations.WithLabelValues(flagLabel(flag), code.String()).Inc()
}

// flagLabel maps a request flag onto a fixed label set so that client input
// cannot create new series.
func flagLabel(flag string) string {
	switch flag {
	case FlagCron, FlagUpdateThemes, FlagUpdatePlugins:
		return flag
	case "":
		return "none"
	default:
		return "other"
	}
}

func (p *PromMetrics) IncPackageResolution(result string) {
	p.resolutions.WithLabelValues(result).Inc()
}

func (p *PromMetrics) IncExpiryMarked() {
	p.expiryMarks.Inc()
}
