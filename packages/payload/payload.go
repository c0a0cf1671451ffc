package payload

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/headers"
)

// UnsupportedPayloadError is returned by ToBuffer for payload kinds it cannot
// serialize.
type UnsupportedPayloadError struct {
	Type string
}

func (e *UnsupportedPayloadError) Error() string {
	return fmt.Sprintf("unsupported payload message: %s", e.Type)
}

// Blob is an io.Reader that knows its media type.
type Blob interface {
	io.Reader
	ContentType() string
}

// Buffered is a reader payload that was read into memory. Unlike the reader
// it came from it can be sent any number of times.
type Buffered struct {
	Data []byte
	Type string
}

// Replayable reads an io.Reader payload into a *Buffered, keeping the media
// type of a Blob. Every other payload is returned unchanged.
func Replayable(payload any) (any, error) {
	r, ok := payload.(io.Reader)
	if !ok {
		return payload, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	b := &Buffered{Data: data}
	if blob, ok := r.(Blob); ok {
		b.Type = blob.ContentType()
	}
	return b, nil
}

// ToBuffer converts a request payload into the bytes written after the header
// block. A nil result means the request has no body. Headers may be updated
// with a content type for multipart forms and blobs.
func ToBuffer(payload any, h *headers.Headers) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		if p == "" {
			return nil, nil
		}
		return []byte(NormalizeString(p)), nil
	case []byte:
		if len(p) == 0 {
			return nil, nil
		}
		return p, nil
	case *Form:
		if p == nil || len(p.Fields) == 0 {
			return nil, nil
		}
		body, contentType, err := p.Encode()
		if err != nil {
			return nil, err
		}
		if h != nil && !h.Has("content-type") {
			h.Set("Content-Type", contentType)
		}
		return body, nil
	case *Buffered:
		if p == nil {
			return nil, nil
		}
		if h != nil && p.Type != "" && !h.Has("content-type") {
			h.Set("content-type", p.Type)
		}
		if len(p.Data) == 0 {
			return nil, nil
		}
		return p.Data, nil
	case io.Reader:
		b, err := Replayable(p)
		if err != nil {
			return nil, err
		}
		return ToBuffer(b, h)
	default:
		return nil, &UnsupportedPayloadError{Type: fmt.Sprintf("%T", payload)}
	}
}

// NormalizeString converts every bare CR or LF into CRLF. Existing CRLF pairs
// are left as they are.
func NormalizeString(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	var buf bytes.Buffer
	buf.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			buf.WriteString("\r\n")
		case '\n':
			buf.WriteString("\r\n")
		default:
			buf.WriteByte(c)
		}
	}
	return buf.String()
}
