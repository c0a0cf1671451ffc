// Package payload turns request bodies into the bytes written on the wire.
//
// It provides:
//   - Line ending normalization of text bodies to CRLF
//   - Pass-through of binary bodies
//   - Multipart form encoding with files read from a base directory
//   - Blob readers that carry their own content type
package payload
