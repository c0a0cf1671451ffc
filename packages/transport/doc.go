// Package transport holds the request and response model shared by the
// hitwire transports and the Engine that drives an exchange.
//
// It provides:
//   - Request, Response, Snapshot and Redirect types with their JSON shape
//   - The Listener event contract and the Transport interface
//   - HAR timings computed from per hop timestamps
//   - Redirect decisions, loop detection and cookie carry over
//   - Body decoding for deflate, gzip and br
//   - TLS config building with p12 and pem client certificates
//   - Typed errors for network, protocol, redirect and decoding failures
//
// The socket and library subpackages implement Transport on top of Engine.
package transport
