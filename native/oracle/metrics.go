package oracle

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type oracleMetrics struct {
	pushes       *prometheus.CounterVec
	calculations *prometheus.CounterVec
	rosterSize   *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metrics     *oracleMetrics
)

func defaultMetrics() *oracleMetrics {
	metricsOnce.Do(func() {
		metrics = &oracleMetrics{
			pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "oracle",
				Name:      "pushes_total",
				Help:      "Total observation pushes accepted per oracle and source.",
			}, []string{"oracle_id", "result"}),
			calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "oracle",
				Name:      "calculations_total",
				Help:      "Total slot calculations attempted per oracle and result.",
			}, []string{"oracle_id", "result"}),
			rosterSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "oracle",
				Name:      "roster_size",
				Help:      "Reporter roster size last refreshed from the reputation table, per oracle.",
			}, []string{"oracle_id"}),
		}
		prometheus.MustRegister(metrics.pushes, metrics.calculations, metrics.rosterSize)
	})
	return metrics
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
