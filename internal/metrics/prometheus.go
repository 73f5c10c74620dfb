package metrics

import (
    "fmt"
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/etncore/ars/pkg/logger"
)

type PrometheusMetrics struct {
    counters   map[string]*prometheus.CounterVec
    histograms map[string]*prometheus.HistogramVec
    gauges     map[string]*prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
    pm := &PrometheusMetrics{
        counters:   make(map[string]*prometheus.CounterVec),
        histograms: make(map[string]*prometheus.HistogramVec),
        gauges:     make(map[string]*prometheus.GaugeVec),
    }

    // Register common metrics
    pm.registerMetrics()

    return pm
}

func (pm *PrometheusMetrics) registerMetrics() {
    // Counters
    pm.counters["ars_dial_attempts"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_dial_attempts_total",
            Help: "Dial attempts per route",
        },
        []string{"route"},
    )

    pm.counters["ars_route_dispositions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_route_dispositions_total",
            Help: "Per-route attempt dispositions",
        },
        []string{"route", "disposition"},
    )

    pm.counters["ars_route_at_limit"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_route_at_limit_total",
            Help: "Admissions refused because the facility was at its concurrency limit",
        },
        []string{"route"},
    )

    pm.counters["ars_preemptions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_preemptions_total",
            Help: "Active calls evicted by preemption",
        },
        []string{"facility"},
    )

    pm.counters["ars_auth_rejected"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_auth_rejected_total",
            Help: "Authorization codes rejected",
        },
        []string{"profile"},
    )

    pm.counters["ars_ohq_admissions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_ohq_admissions_total",
            Help: "Off-hook queue admissions",
        },
        []string{"route"},
    )

    pm.counters["ars_cbq_admissions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_admissions_total",
            Help: "Call-back queue admissions",
        },
        []string{"route"},
    )

    pm.counters["ars_cbq_promotions"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_promotions_total",
            Help: "Call-back entries promoted by the queue-promotion timer",
        },
        []string{},
    )

    pm.counters["ars_cbq_route_advances"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_route_advances_total",
            Help: "Call-back entries moved by the route-advance timer",
        },
        []string{},
    )

    pm.counters["ars_cbq_dispatches"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_dispatches_total",
            Help: "Call-back connections dispatched",
        },
        []string{"route"},
    )

    pm.counters["ars_cbq_failures"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_failures_total",
            Help: "Call-back originations that failed",
        },
        []string{},
    )

    pm.counters["ars_cbq_cancellations"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_cbq_cancellations_total",
            Help: "Call-back entries cancelled administratively",
        },
        []string{},
    )

    pm.counters["ars_ledger_anomalies"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "ars_ledger_anomalies_total",
            Help: "Ledger states that indicate a bug",
        },
        []string{},
    )

    pm.counters["agi_requests_failed"] = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Name: "agi_requests_failed_total",
            Help: "AGI requests that failed",
        },
        []string{"action", "error"},
    )

    // Histograms
    pm.histograms["ars_ohq_wait_seconds"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "ars_ohq_wait_seconds",
            Help:    "Off-hook queue wait time",
            Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
        },
        []string{"route", "woken"},
    )

    pm.histograms["agi_processing_time"] = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Name:    "agi_processing_time_seconds",
            Help:    "AGI request processing time",
            Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30, 120},
        },
        []string{"action"},
    )

    // Gauges
    pm.gauges["ars_active_calls"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "ars_active_calls",
            Help: "Current active ledger records",
        },
        []string{},
    )

    pm.gauges["ars_queued_calls"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "ars_queued_calls",
            Help: "Current queued ledger records",
        },
        []string{},
    )

    pm.gauges["agi_connections_active"] = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Name: "agi_connections_active",
            Help: "Current active AGI connections",
        },
        []string{},
    )

    // Register all metrics
    for _, counter := range pm.counters {
        prometheus.MustRegister(counter)
    }
    for _, histogram := range pm.histograms {
        prometheus.MustRegister(histogram)
    }
    for _, gauge := range pm.gauges {
        prometheus.MustRegister(gauge)
    }
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
    if counter, exists := pm.counters[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        counter.With(prometheus.Labels(labels)).Inc()
    }
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
    if histogram, exists := pm.histograms[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        histogram.With(prometheus.Labels(labels)).Observe(value)
    }
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
    if gauge, exists := pm.gauges[name]; exists {
        if labels == nil {
            labels = make(map[string]string)
        }
        gauge.With(prometheus.Labels(labels)).Set(value)
    }
}

func (pm *PrometheusMetrics) ServeHTTP(port int) error {
    http.Handle("/metrics", promhttp.Handler())
    addr := fmt.Sprintf(":%d", port)
    logger.WithField("addr", addr).Info("Metrics server started")
    return http.ListenAndServe(addr, nil)
}
