// Package metrics exposes stream engine statistics to Prometheus.
//
// Key metrics:
//   - Connection state, connects and failures by kind
//   - Reconnect scheduling and current backoff delay
//   - Frame, keep-alive, parse error and drop counts
//   - Per-channel pending, appended and flushed counts
//   - Seconds since the last received byte
package metrics
