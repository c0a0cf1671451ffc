// Package library implements the transport backed by net/http.
//
// It reports the same listener events as the socket transport and shares
// its engine, so redirects, cookies, NTLM and response assembly behave the
// same. net/http owns the wire format: header names are canonicalized and
// the client's own redirect following is turned off.
package library
