// Package api implements the HTTP REST API and WebSocket server for graycast.
//
// This package provides:
//   - REST endpoints for pairing receivers and sending them commands
//   - Read endpoints for volume, playback and capability state
//   - A debounced YouTube search endpoint for pickers
//   - A WebSocket hub pushing capability changes and discoveries
//   - An audit trail of commands and pairing changes
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Bearer tokens are HS256 JWTs signed with security.jwt.secret, normally
// minted by Gray Logic Core or with `graycast -token`. When an issuer is
// configured it must match. The token role gates each route group (see
// package auth).
// WebSocket connections use single-use tickets so tokens never appear in
// URLs.
package api
