// Package metrics exposes link layer counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rigado/blell/ll"
	"github.com/rigado/blell/ll/sched"
)

var (
	descGranted = prometheus.NewDesc(
		"blell_sched_events_granted_total",
		"Radio events granted by the scheduler.",
		[]string{"role"},
		nil,
	)

	descPreempted = prometheus.NewDesc(
		"blell_sched_events_preempted_total",
		"Radio events that lost arbitration to a higher priority role.",
		[]string{"role"},
		nil,
	)

	descMissedAnchors = prometheus.NewDesc(
		"blell_missed_anchors_total",
		"Connection events in which nothing was received from the peer.",
		nil,
		nil,
	)

	descSupervisionTimeouts = prometheus.NewDesc(
		"blell_supervision_timeouts_total",
		"Links dropped by supervision timeout.",
		nil,
		nil,
	)

	descQueueOverflows = prometheus.NewDesc(
		"blell_queue_overflows_total",
		"Work items refused because the controller queue was full.",
		nil,
		nil,
	)

	descISOSDUs = prometheus.NewDesc(
		"blell_iso_sdus_total",
		"Isochronous SDUs handled, by direction.",
		[]string{"dir"},
		nil,
	)

	descLinks = prometheus.NewDesc(
		"blell_links",
		"Active links by kind.",
		[]string{"kind"},
		nil,
	)
)

// CollectFunc returns the counters to export.
type CollectFunc func() ll.Stats

type collector struct {
	CollectFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	st := c.CollectFunc()

	for r := 0; r < sched.NumRoles; r++ {
		role := sched.Role(r).String()
		ch <- prometheus.MustNewConstMetric(descGranted, prometheus.CounterValue, float64(st.Sched.Granted[r]), role)
		ch <- prometheus.MustNewConstMetric(descPreempted, prometheus.CounterValue, float64(st.Sched.Preempted[r]), role)
	}

	ch <- prometheus.MustNewConstMetric(descMissedAnchors, prometheus.CounterValue, float64(st.MissedAnchors))
	ch <- prometheus.MustNewConstMetric(descSupervisionTimeouts, prometheus.CounterValue, float64(st.SupervisionTimeouts))
	ch <- prometheus.MustNewConstMetric(descQueueOverflows, prometheus.CounterValue, float64(st.QueueOverflows))

	ch <- prometheus.MustNewConstMetric(descISOSDUs, prometheus.CounterValue, float64(st.ISOSDUsSent), "tx")
	ch <- prometheus.MustNewConstMetric(descISOSDUs, prometheus.CounterValue, float64(st.ISOSDUsReceived), "rx")

	ch <- prometheus.MustNewConstMetric(descLinks, prometheus.GaugeValue, float64(st.Connections), "acl")
	ch <- prometheus.MustNewConstMetric(descLinks, prometheus.GaugeValue, float64(st.CIS), "cis")
	ch <- prometheus.MustNewConstMetric(descLinks, prometheus.GaugeValue, float64(st.BIG), "big")
}

// RegisterCollector registers a collector reading from f.
func RegisterCollector(f CollectFunc, reg prometheus.Registerer) {
	reg.MustRegister(&collector{f})
}
