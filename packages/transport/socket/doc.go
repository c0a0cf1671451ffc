// Package socket implements the transport that writes HTTP/1.1 messages
// directly on a TCP or TLS connection.
//
// Every byte of the request is under the caller's control: the Host header
// may be overridden, header names keep their casing and the message sent is
// recorded verbatim. Responses are read with an incremental parser that
// handles content-length, chunked and close delimited bodies.
//
// Proxies are supported in two ways. Plain http targets are requested from
// the proxy with an absolute URL, https targets go through a CONNECT tunnel.
// NTLM authentication runs the three message handshake on one connection.
package socket
