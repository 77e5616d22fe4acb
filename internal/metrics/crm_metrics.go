package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты синхронизации заказа с CRM.
const (
	SyncResultSynced    = "synced"
	SyncResultFailed    = "failed"
	SyncResultDuplicate = "duplicate"
	SyncResultSkipped   = "skipped"
)

// CRMMetrics содержит метрики выгрузки заказов в CRM.
type CRMMetrics struct {
	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram
	requests     *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// NewCRMMetrics регистрирует метрики в DefaultRegisterer.
func NewCRMMetrics() *CRMMetrics {
	return NewCRMMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCRMMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCRMMetricsWithRegisterer(registerer prometheus.Registerer) *CRMMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CRMMetrics{
		syncs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_crm_sync_total",
			Help: "Order synchronizations with CRM grouped by result",
		}, []string{"result"}),
		syncDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shop_crm_sync_duration_seconds",
			Help:    "Duration of a full order synchronization with CRM",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_crm_requests_total",
			Help: "CRM API requests grouped by endpoint and result",
		}, []string{"endpoint", "result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_crm_sync_in_flight",
			Help: "Number of order synchronizations currently running",
		}),
	}
}

// RecordSync фиксирует результат синхронизации.
func (m *CRMMetrics) RecordSync(result string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(result).Inc()
}

// RecordSyncDuration записывает длительность синхронизации.
func (m *CRMMetrics) RecordSyncDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(duration.Seconds())
}

// RecordRequest фиксирует вызов API CRM.
func (m *CRMMetrics) RecordRequest(endpoint string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(endpoint, result).Inc()
}

// SyncStarted увеличивает число активных синхронизаций.
func (m *CRMMetrics) SyncStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// SyncFinished уменьшает число активных синхронизаций.
func (m *CRMMetrics) SyncFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
