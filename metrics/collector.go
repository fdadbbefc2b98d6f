package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collectTimeout bounds the store read of one scrape.
const collectTimeout = 5 * time.Second

var counterDesc = prometheus.NewDesc(
	"brainz_metric_total",
	"Value of a project counter kept in the shared cache.",
	[]string{"project", "name"},
	nil,
)

// Collector exposes the counters of one or more projects to Prometheus.
// Values are read from the store on every scrape.
type Collector struct {
	counters []*Counters
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector for the given projects.
func NewCollector(counters ...*Counters) *Collector {
	return &Collector{counters: counters}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- counterDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()
	for _, m := range c.counters {
		stats, err := m.Stats(ctx)
		if err != nil {
			m.log.Error("cannot collect counters: %v", err)
			ch <- prometheus.NewInvalidMetric(counterDesc, err)
			continue
		}
		for name, v := range stats.Counters {
			ch <- prometheus.MustNewConstMetric(counterDesc, prometheus.CounterValue, float64(v), m.project, name)
		}
	}
}

// Handler serves Stats as JSON, for telegraf and other pollers.
func (m *Counters) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := m.Stats(r.Context())
		if err != nil {
			m.log.WithContext(r.Context()).Error("cannot read counters: %v", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
}
