// Package stream implements the streaming ingestion engine.
//
// The engine runs three independent schedules for its whole lifetime:
//   - The reader loop: one worker owning the live connection, decoding
//     length-delimited frames and handing messages to the feed classifier
//   - The liveness monitor: a periodic check that some byte (data or
//     keep-alive) arrived within the staleness threshold
//   - The flush task: a periodic drain of every channel into the writer
//
// Connect failures, read failures and stalls all go through the reconnect
// scheduler, which retries after a delay that doubles per consecutive
// failure and resets on the next successful connect. Retries never stop.
//
// Wire format: "<decimal-length>\r\n<payload>" repeated over one HTTP
// response body; a bare "\r\n" is a keep-alive.
package stream
