// Package feed provides the concrete stream types: the public filter stream
// and the user stream.
//
// Each type knows its endpoint and request parameters and classifies
// decoded messages into its output channels:
//
//	Filter: tweets, limit, other
//	User:   events, other
package feed
