// Package expo renders results in the Prometheus text exposition format and
// publishes them as <dir>/<name>.prom files for a node-exporter style
// textfile collector.
//
// Job files use a fixed layout (the value line carries an
// execution_frequency label, followed by a return code gauge). Internal
// health signals are plain gauges gathered from a client_golang registry.
package expo
