package sync

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/synchroclock/base/metrics"
)

type engineMetrics struct {
	polls            prometheus.Counter
	outliers         prometheus.Counter
	netCorrections   prometheus.Counter
	driftCorrections prometheus.Counter
	offset           prometheus.Gauge
	sessionDrift     prometheus.Gauge
	ledgerDrift      prometheus.Gauge
	reach            prometheus.Gauge
	nextPoll         prometheus.Gauge
}

var mtrcs atomic.Pointer[engineMetrics]

func init() {
	mtrcs.Store(newEngineMetrics())
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		polls: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncPollsN,
			Help: metrics.SyncPollsH,
		}),
		outliers: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncOutliersN,
			Help: metrics.SyncOutliersH,
		}),
		netCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncNetCorrectionsN,
			Help: metrics.SyncNetCorrectionsH,
		}),
		driftCorrections: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.SyncDriftCorrectionsN,
			Help: metrics.SyncDriftCorrectionsH,
		}),
		offset: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncOffsetN,
			Help: metrics.SyncOffsetH,
		}),
		sessionDrift: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncSessionDriftN,
			Help: metrics.SyncSessionDriftH,
		}),
		ledgerDrift: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncLedgerDriftN,
			Help: metrics.SyncLedgerDriftH,
		}),
		reach: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncReachN,
			Help: metrics.SyncReachH,
		}),
		nextPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.SyncNextPollN,
			Help: metrics.SyncNextPollH,
		}),
	}
}
