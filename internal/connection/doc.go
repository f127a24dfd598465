// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Builds the signed streaming request (query string for GET, form body for POST)
//   - Opens it over a fresh transport with bounded connect and idle-read timeouts
//   - Accepts only HTTP 200; every other outcome is logged and reported as failure
//   - Tracks the reconnect backoff (doubling from a floor, reset on success)
//
// It never schedules retries itself; that is the stream engine's job.
package connection
