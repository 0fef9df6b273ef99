// Package cast is the Chromecast control core of graycast.
//
// It turns mDNS advertisements into a canonical device view, keeps at most
// one reference-counted transport connection per receiver, converges
// concurrent callers onto a single launch or join per receiver application,
// and exposes typed playback commands on top of that.
//
// # Architecture
//
//	discovery.Feed ──► Registry ──► ConnectionManager ──► SessionManager ──► Controller
//	  (mDNS)          (Upsert)     (Acquire/Release)    (Get/JoinApplication)  (commands)
//
// The wire codec is not part of this package. A Dialer (see the transport
// subpackage) produces Conn values; everything here works against the
// Dialer, Conn and Channel interfaces so it can be tested with fakes.
//
// # Connection lifecycle
//
// Each device has a connection object in one of four states:
//
//	absent ──Acquire──► connecting ──dial ok──► open ──last Release──► closing ──► absent
//	                        │                     │
//	                        └──dial error─────────┴──transport error──────────────► absent
//
// Acquire attaches to an in-flight dial instead of starting another one and
// returns only once the connection is usable. While a connection is closing,
// Acquire waits for the close to finish and then opens a fresh one.
//
// # Error kinds
//
// Every Controller command returns nil or an error that matches one of the
// package sentinels under errors.Is: ErrUnknownDevice, ErrConnectionFailed,
// ErrNoActiveSession, ErrInvalidURL, ErrDebounced or ErrUnsupportedCommand.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package cast
