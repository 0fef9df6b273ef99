// Package auth provides bearer-token authentication and authorisation for
// the graycast API.
//
// graycast keeps no user accounts. Tokens are HS256 JWTs signed with the
// shared secret from security.jwt and carry a role:
//   - viewer: read devices, discovery, capabilities and connections
//   - operator: viewer plus commands and search
//   - admin: operator plus pairing, unpairing and the audit trail
//
// Role permissions are a static mapping (compile-time, no database lookup).
package auth
