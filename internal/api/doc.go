// Package api provides the REST client used around the stream.
//
// Endpoints:
//   - GET  account/verify_credentials.json: checks credentials before streaming
//   - POST users/lookup.json: resolves screen names to numeric IDs, 100 at a time
//
// Base URL: https://api.twitter.com/1.1
package api
