package p4mesh

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the prometheus metrics of the control plane. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	WorkerState    *prometheus.GaugeVec
	RulesInstalled *prometheus.CounterVec
	WorkerFailures *prometheus.CounterVec
}

// NewMetrics registers the control plane metrics against the provided registerer, defaulting to
// the global prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p4mesh_worker_state",
		Help: "Current lifecycle state of each switch worker, see p4mesh.State for values.",
	}, []string{"switch"}), "p4mesh_worker_state")
	if err != nil {
		return nil, err
	}

	rules, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p4mesh_rules_installed_total",
		Help: "Total number of table entries written, labeled by switch and table.",
	}, []string{"switch", "table"}), "p4mesh_rules_installed_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p4mesh_worker_failures_total",
		Help: "Total number of fatal worker failures, labeled by switch and reason.",
	}, []string{"switch", "reason"}), "p4mesh_worker_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:       gatherer,
		WorkerState:    state,
		RulesInstalled: rules,
		WorkerFailures: failures,
	}, nil
}

// SetWorkerState records the current state of a switch worker.
func (m *Metrics) SetWorkerState(switchName string, s State) {
	if m == nil {
		return
	}

	m.WorkerState.WithLabelValues(switchName).Set(float64(s))
}

// IncRulesInstalled counts one written table entry.
func (m *Metrics) IncRulesInstalled(switchName, table string) {
	if m == nil {
		return
	}

	m.RulesInstalled.WithLabelValues(switchName, table).Inc()
}

// IncWorkerFailure counts one fatal worker failure.
func (m *Metrics) IncWorkerFailure(switchName, reason string) {
	if m == nil {
		return
	}

	m.WorkerFailures.WithLabelValues(switchName, reason).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}

	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewMetricsServer returns an http server serving the metrics handler at /metrics on addr.
func NewMetricsServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}
}

func registerCounterVec(
	reg prometheus.Registerer,
	vec *prometheus.CounterVec,
	name string,
) (*prometheus.CounterVec, error) {
	err := reg.Register(vec)
	if err == nil {
		return vec, nil
	}

	var are prometheus.AlreadyRegisteredError
	if ok := asAlreadyRegistered(err, &are); ok {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing, nil
		}

		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}

	return nil, err
}

func registerGaugeVec(
	reg prometheus.Registerer,
	vec *prometheus.GaugeVec,
	name string,
) (*prometheus.GaugeVec, error) {
	err := reg.Register(vec)
	if err == nil {
		return vec, nil
	}

	var are prometheus.AlreadyRegisteredError
	if ok := asAlreadyRegistered(err, &are); ok {
		if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
			return existing, nil
		}

		return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
	}

	return nil, err
}

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError) //nolint:errorlint
	if ok {
		*target = are
	}

	return ok
}

// ShutdownMetricsServer gracefully stops the metrics server, waiting at most shutdownTimeout for
// in flight scrapes.
func ShutdownMetricsServer(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(ctx)
}
