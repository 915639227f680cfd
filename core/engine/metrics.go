package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/bendulum-clock/base/metrics"
)

type engineMetrics struct {
	beatsProcessed prometheus.Counter
	beatInterval   prometheus.Gauge
	runMode        prometheus.Gauge
	advances       prometheus.Counter
	correction     prometheus.Gauge
	ledgerPending  prometheus.Gauge
	ledgerCommits  prometheus.Counter
	storeSaves     prometheus.Counter
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{
		beatsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.EngineBeatsProcessedN,
			Help: metrics.EngineBeatsProcessedH,
		}),
		beatInterval: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.EngineBeatIntervalN,
			Help: metrics.EngineBeatIntervalH,
		}),
		runMode: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.EngineRunModeN,
			Help: metrics.EngineRunModeH,
		}),
		advances: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.EngineAdvancesN,
			Help: metrics.EngineAdvancesH,
		}),
		correction: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.EngineCorrectionN,
			Help: metrics.EngineCorrectionH,
		}),
		ledgerPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: metrics.LedgerPendingN,
			Help: metrics.LedgerPendingH,
		}),
		ledgerCommits: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.LedgerCommitsN,
			Help: metrics.LedgerCommitsH,
		}),
		storeSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.StoreSavesN,
			Help: metrics.StoreSavesH,
		}),
	}
}
