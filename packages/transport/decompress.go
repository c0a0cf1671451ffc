package transport

import (
	"bytes"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Decompress decodes body according to a content-encoding header value.
// Unknown encodings return body unchanged.
func Decompress(body []byte, encoding string) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	encoding = strings.ToLower(encoding)
	switch {
	case strings.Contains(encoding, "deflate"):
		return inflate(body)
	case strings.Contains(encoding, "gzip"):
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, &DecompressionError{Encoding: "gzip", Err: err}
		}
		defer r.Close()
		return readAll("gzip", r)
	case strings.Contains(encoding, "br"):
		return readAll("br", brotli.NewReader(bytes.NewReader(body)))
	}
	return body, nil
}

// inflate accepts zlib wrapped deflate data and, as some servers send it,
// raw deflate data.
func inflate(body []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		out, err := io.ReadAll(r)
		r.Close()
		if err == nil {
			return out, nil
		}
	}
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	return readAll("deflate", r)
}

func readAll(encoding string, r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecompressionError{Encoding: encoding, Err: err}
	}
	return out, nil
}
