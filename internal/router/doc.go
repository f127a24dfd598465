// Package router implements the Channel Buffer and the classification contract.
//
// The router:
//   - Decodes frame payloads into Messages (JSON objects, numbers kept as json.Number)
//   - Defines the Classifier strategy each feed type supplies
//   - Buffers classified messages per named channel until the next flush
//   - Hands drained channels to writers as Batches
package router
