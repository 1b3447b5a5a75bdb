// Copyright (c) 2026 by Marko Gaćeša.
// Licensed under the Apache License, Version 2.0.
// See the LICENSE file or http://www.apache.org/licenses/LICENSE-2.0 for details.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is the read-only view of the counters the exporter publishes.
// *stats.Counters implements it.
type Source interface {
	Recv() uint64
	Sent() uint64
	RxBytes() uint64
	TxBytes() uint64
	UniqueClients() int
}

const (
	NamePacketsReceived = "udp_packets_received_total"
	NamePacketsSent     = "udp_packets_sent_total"
	NameUniqueClients   = "udp_unique_clients"
	NameRxBytes         = "udp_rx_bytes_total"
	NameTxBytes         = "udp_tx_bytes_total"
)

// names lists the metric families in exposition order.
var names = [...]string{
	NamePacketsReceived,
	NamePacketsSent,
	NameUniqueClients,
	NameRxBytes,
	NameTxBytes,
}

var _ prometheus.Collector = (*Collector)(nil)

// Collector reads a Source on every scrape. It never modifies the source.
type Collector struct {
	src Source

	packetsReceived *prometheus.Desc
	packetsSent     *prometheus.Desc
	uniqueClients   *prometheus.Desc
	rxBytes         *prometheus.Desc
	txBytes         *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	return &Collector{
		src:             src,
		packetsReceived: prometheus.NewDesc(NamePacketsReceived, "Total UDP packets received", nil, nil),
		packetsSent:     prometheus.NewDesc(NamePacketsSent, "Total UDP packets sent", nil, nil),
		uniqueClients:   prometheus.NewDesc(NameUniqueClients, "Unique client count", nil, nil),
		rxBytes:         prometheus.NewDesc(NameRxBytes, "Total received bytes", nil, nil),
		txBytes:         prometheus.NewDesc(NameTxBytes, "Total sent bytes", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsReceived
	ch <- c.packetsSent
	ch <- c.uniqueClients
	ch <- c.rxBytes
	ch <- c.txBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(c.src.Recv()))
	ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(c.src.Sent()))
	ch <- prometheus.MustNewConstMetric(c.uniqueClients, prometheus.GaugeValue, float64(c.src.UniqueClients()))
	ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(c.src.RxBytes()))
	ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(c.src.TxBytes()))
}

// values reads the source once, in the order of names.
func (c *Collector) values() [len(names)]uint64 {
	return [len(names)]uint64{
		c.src.Recv(),
		c.src.Sent(),
		uint64(c.src.UniqueClients()),
		c.src.RxBytes(),
		c.src.TxBytes(),
	}
}
