// Package api implements the operator HTTP API and WebSocket event feed.
//
// This package provides:
//   - Station list with live interaction state and unread counts
//   - Per-mailbox message history and WAV download of any stored clip
//   - Failed upload list with manual retry
//   - Running and published version status
//   - Operator history (audit log) with filtering and paging
//   - WebSocket hub pushing station, delivery, upload and version events
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Every route except /api/v1/health requires an HS256 bearer token minted
// with `transponder token`. Browsers cannot set headers on a WebSocket
// handshake, so /api/v1/ws also accepts the token as a query parameter.
//
// # Graceful Degradation
//
// The API is read-mostly. Station workers never depend on it, so a failed
// listener only loses operator visibility.
package api
