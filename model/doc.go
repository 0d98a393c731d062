// Package model defines stable boundary types for the value-exchange core.
//
// The ingestion pipeline, verifier, and stores exchange these structs; they
// are the only types intended for direct JSON serialization by consumers.
// Content-store payload identity (ObservationPayload bytes and their CID) is
// unaffected by any projection of these types.
package model
