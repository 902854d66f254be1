// Package audit keeps a durable history of events an operator may need
// after the fact: roster changes, uploads that exhausted their retries,
// manual retries and newly published versions.
//
// Writes are best-effort. A failure to record never affects a station.
package audit
