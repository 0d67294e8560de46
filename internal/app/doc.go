// Package app holds the ingest use case shared by every producer transport: decode a payload,
// dispatch it to connected clients and account for the outcome.
package app
