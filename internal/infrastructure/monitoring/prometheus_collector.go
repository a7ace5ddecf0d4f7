package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the orchestration-layer gauges and counters.
type PrometheusCollector struct {
	workersTotal    prometheus.Gauge
	routersActive   prometheus.Gauge
	roomsActive     prometheus.Gauge
	sessionsActive  prometheus.Gauge
	transportsTotal prometheus.Gauge
	producersTotal  prometheus.Gauge
	consumersTotal  prometheus.Gauge

	messagesTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	workerDeaths   prometheus.Counter
	joinDuration   prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return NewPrometheusCollectorWith(prometheus.DefaultRegisterer)
}

// NewPrometheusCollectorWith registers the metrics on a caller-supplied
// registerer, so tests can use an isolated registry.
func NewPrometheusCollectorWith(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		workersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_media_workers",
			Help: "Number of live media workers",
		}),
		routersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_routers_active",
			Help: "Number of live per-room routers",
		}),
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_rooms_active",
			Help: "Number of rooms that have not ended",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_signaling_sessions",
			Help: "Number of live signaling connections",
		}),
		transportsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_transports_active",
			Help: "Number of registered transports",
		}),
		producersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_producers_active",
			Help: "Number of registered producers",
		}),
		consumersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctorsfu_consumers_active",
			Help: "Number of registered consumers",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctorsfu_signaling_messages_total",
			Help: "Signaling messages handled, by message type",
		}, []string{"type"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctorsfu_signaling_errors_total",
			Help: "Signaling errors sent to clients, by error code",
		}, []string{"code"}),
		workerDeaths: factory.NewCounter(prometheus.CounterOpts{
			Name: "proctorsfu_media_worker_deaths_total",
			Help: "Unexpected media worker exits",
		}),
		joinDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctorsfu_room_join_duration_seconds",
			Help:    "Time from room.join receipt to room.state sent",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (p *PrometheusCollector) ObserveJoin(d time.Duration) {
	p.joinDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) IncMessage(msgType string) {
	p.messagesTotal.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) IncError(code string) {
	p.errorsTotal.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) IncWorkerDeath() {
	p.workerDeaths.Inc()
}

func (p *PrometheusCollector) SessionOpened() { p.sessionsActive.Inc() }
func (p *PrometheusCollector) SessionClosed() { p.sessionsActive.Dec() }

// SetCounts refreshes the registry gauges from a periodic sweep.
func (p *PrometheusCollector) SetCounts(workers, routers, rooms, transports, producers, consumers int) {
	p.workersTotal.Set(float64(workers))
	p.routersActive.Set(float64(routers))
	p.roomsActive.Set(float64(rooms))
	p.transportsTotal.Set(float64(transports))
	p.producersTotal.Set(float64(producers))
	p.consumersTotal.Set(float64(consumers))
}
