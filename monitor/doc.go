// Package monitor counts what the shipper does and exports the counters in
// Prometheus text format.
//
// MetricsCollector is registered both as a write observer on the transport
// and as a listener on the connection manager. On shutdown the CLI writes
// the counters to a file picked up by the node exporter textfile collector.
package monitor
