package tray

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	traysDesc = prometheus.NewDesc(
		"mortuary_trays",
		"Number of trays per state.",
		[]string{"state"}, nil,
	)
	occupancyDesc = prometheus.NewDesc(
		"mortuary_tray_occupancy_percent",
		"Occupied trays as a percentage of all trays.",
		nil, nil,
	)
	overThresholdDesc = prometheus.NewDesc(
		"mortuary_trays_over_threshold",
		"Occupied trays whose occupied time exceeds the alert threshold.",
		[]string{"level"}, nil,
	)
)

// Collector exports tray statistics computed on every scrape, so the gauges
// are never staler than the scrape itself.
type Collector struct {
	svc     *Service
	timeout time.Duration
	logger  zerolog.Logger
}

func NewCollector(svc *Service, logger zerolog.Logger) *Collector {
	return &Collector{svc: svc, timeout: 5 * time.Second, logger: logger}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- traysDesc
	ch <- occupancyDesc
	ch <- overThresholdDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.svc.ComputeStatistics(ctx, time.Now().UTC())
	if err != nil {
		c.logger.Error().Err(err).Msg("collect tray statistics")
		ch <- prometheus.NewInvalidMetric(traysDesc, err)
		return
	}

	for state, n := range map[State]int{
		StateAvailable:    stats.Available,
		StateOccupied:     stats.Occupied,
		StateMaintenance:  stats.Maintenance,
		StateOutOfService: stats.OutOfService,
	} {
		ch <- prometheus.MustNewConstMetric(traysDesc, prometheus.GaugeValue, float64(n), string(state))
	}
	ch <- prometheus.MustNewConstMetric(occupancyDesc, prometheus.GaugeValue, stats.OccupancyPercent)
	ch <- prometheus.MustNewConstMetric(overThresholdDesc, prometheus.GaugeValue, float64(stats.OverWarn), string(AlertWarning))
	ch <- prometheus.MustNewConstMetric(overThresholdDesc, prometheus.GaugeValue, float64(stats.OverCritical), string(AlertCritical))
}
