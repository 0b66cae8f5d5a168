package metrics

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soaringjerry/pricecrowd/internal/services"
)

const namespace = "pricecrowd"

// Recorder implements services.Observer on top of a private registry.
type Recorder struct {
	registry          *prometheus.Registry
	sessionsCreated   prometheus.Counter
	proposalsAccepted prometheus.Counter
	proposalsRejected *prometheus.CounterVec
	sessionsSettled   prometheus.Counter
	suggestedPrice    prometheus.Histogram
}

var _ services.Observer = (*Recorder)(nil)

func New() *Recorder {
	reg := prometheus.NewRegistry()
	m := &Recorder{
		registry: reg,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Pricing sessions created.",
		}),
		proposalsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "proposals_accepted_total",
			Help: "Price proposals recorded.",
		}),
		proposalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "proposals_rejected_total",
			Help: "Price proposals rejected, by error code.",
		}, []string{"code"}),
		sessionsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_settled_total",
			Help: "Sessions ended with a real price.",
		}),
		suggestedPrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "suggested_price",
			Help:    "Suggested price at settlement.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsCreated,
		m.proposalsAccepted,
		m.proposalsRejected,
		m.sessionsSettled,
		m.suggestedPrice,
	)
	return m
}

func (m *Recorder) SessionCreated(*services.Session) { m.sessionsCreated.Inc() }

func (m *Recorder) ProposalAccepted(common.Address) { m.proposalsAccepted.Inc() }

func (m *Recorder) ProposalRejected(code services.ErrorCode) {
	m.proposalsRejected.WithLabelValues(string(code)).Inc()
}

func (m *Recorder) SessionSettled(report *services.CloseReport) {
	m.sessionsSettled.Inc()
	m.suggestedPrice.Observe(float64(report.SuggestedPrice))
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Recorder) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
