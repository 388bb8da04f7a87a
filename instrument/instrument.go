// instrument.go - Prometheus collectors over protocol counters.
// Copyright (C) 2024  The quillnet authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument exposes connection, channel and socket counters
// as Prometheus collectors.  The socket collector is safe to scrape
// from any goroutine; the connection and channel collectors read
// counters owned by the protocol loop, so register them in a registry
// that is scraped from that loop or tolerate slightly stale values.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quillnet/quillnet/core/connection"
	"github.com/quillnet/quillnet/core/reliable"
	"github.com/quillnet/quillnet/network"
)

const namespace = "quillnet"

type counterSource interface {
	Counter(index int) uint64
}

type collector struct {
	source counterSource
	descs  []*prometheus.Desc
}

func newCollector(source counterSource, subsystem string, names []string) *collector {
	c := &collector{source: source}
	for _, name := range names {
		c.descs = append(c.descs, prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name),
			subsystem+" "+name, nil, nil,
		))
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for i, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(c.source.Counter(i)))
	}
}

// NewConnectionCollector exposes a connection's counters.  The counter
// order matches the connection package's counter indices.
func NewConnectionCollector(conn *connection.Connection) prometheus.Collector {
	return newCollector(conn, "connection", []string{
		"packets_read_total",
		"packets_written_total",
		"packets_acked_total",
		"packets_discarded_total",
	})
}

// NewReliableChannelCollector exposes a reliable channel's counters.
func NewReliableChannelCollector(ch *reliable.Channel) prometheus.Collector {
	return newCollector(ch, "reliable", []string{
		"messages_sent_total",
		"messages_written_total",
		"messages_read_total",
		"messages_received_total",
		"messages_discarded_late_total",
		"messages_discarded_early_total",
	})
}

// NewUDPCollector exposes a UDP interface's counters.
func NewUDPCollector(u *network.UDP) prometheus.Collector {
	return newCollector(u, "socket", []string{
		"packets_sent_total",
		"packets_received_total",
		"protocol_id_mismatch_total",
		"serialize_write_overflow_total",
		"serialize_read_overflow_total",
		"aborted_reads_total",
		"send_failures_total",
		"create_packet_failures_total",
		"packet_too_large_to_send_total",
	})
}
