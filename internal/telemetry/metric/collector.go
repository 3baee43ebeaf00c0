package metric

import "github.com/prometheus/client_golang/prometheus"

// Stats is a snapshot of registry entity counts.
type Stats struct {
	Users         int
	Devices       int
	ActiveDevices int
	Domains       int
}

// StatsFunc returns the current entity counts.
type StatsFunc func() Stats

// Collector exports registry entity counts, read at scrape time.
type Collector struct {
	stats StatsFunc

	users         *prometheus.Desc
	devices       *prometheus.Desc
	devicesActive *prometheus.Desc
	domains       *prometheus.Desc
}

// NewCollector creates a collector over fn.
func NewCollector(fn StatsFunc) *Collector {
	return &Collector{
		stats: fn,
		users: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "users"),
			"Registered users.", nil, nil),
		devices: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "devices"),
			"Registered devices.", nil, nil),
		devicesActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "devices_active"),
			"Devices currently claimed by a live session.", nil, nil),
		domains: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "domains"),
			"Registered domains.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.devices
	ch <- c.devicesActive
	ch <- c.domains
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(st.Users))
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(st.Devices))
	ch <- prometheus.MustNewConstMetric(c.devicesActive, prometheus.GaugeValue, float64(st.ActiveDevices))
	ch <- prometheus.MustNewConstMetric(c.domains, prometheus.GaugeValue, float64(st.Domains))
}
