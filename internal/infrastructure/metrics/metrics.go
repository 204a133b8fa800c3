package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "onboarding_workflow"

// Recorder implements port.MetricsRecorder on a private registry
type Recorder struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewRecorder registers the workflow collectors. withRuntime adds the Go
// and process collectors.
func NewRecorder(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied stage transitions.",
		}, []string{"request_type", "stage", "action", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_failures_total",
			Help:      "Refused or failed decisions by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts.",
		}, []string{"channel", "result"}),
	}

	r.registry.MustRegister(r.transitions, r.failures, r.notifications)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// ObserveTransition counts one committed transition
func (r *Recorder) ObserveTransition(requestType, stage, action, outcome string) {
	r.transitions.WithLabelValues(requestType, stage, action, outcome).Inc()
}

// ObserveDecisionFailure counts one refused decision
func (r *Recorder) ObserveDecisionFailure(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

// ObserveNotification counts one delivery attempt
func (r *Recorder) ObserveNotification(channel, result string) {
	r.notifications.WithLabelValues(channel, result).Inc()
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
