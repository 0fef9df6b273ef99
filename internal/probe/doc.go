// Package probe inspects remote content before it is handed to a receiver.
//
// Receivers fail late and opaquely on unreachable or mistyped media, so
// the controller checks URLs itself first: a HEAD request for the status
// and content type of a media URL, and a small GET for the first line of
// a radio playlist.
//
// Requests go through go-retryablehttp on top of a go-cleanhttp pooled
// transport. When a server omits the content type, or reports a generic
// binary type, the type is derived from the file extension and, failing
// that, from the magic bytes of the first few hundred bytes (h2non/filetype).
//
// Thread Safety:
//   - A Client is safe for concurrent use.
package probe
