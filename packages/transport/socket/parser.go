package socket

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

type parseState int

const (
	stateStatus parseState = iota
	stateHeaders
	stateBody
	stateDone
)

func (s parseState) String() string {
	switch s {
	case stateStatus:
		return "status"
	case stateHeaders:
		return "headers"
	case stateBody:
		return "body"
	}
	return "done"
}

var statusPrefix = regexp.MustCompile(`HTTP/\d(\.\d)?\s`)

// parser is an incremental HTTP/1.1 response parser. Data may arrive split
// at any byte; state only moves forward.
type parser struct {
	state  parseState
	method string
	head   *transport.Head
	body   *bytes.Buffer

	line []byte // pending status line or chunk size line
	raw  []byte // pending header bytes

	contentLength int // -1 when unknown
	chunked       bool
	chunkLeft     int
	chunkCRLF     int

	// closed is set when the body ended with the connection.
	closed bool
}

func newParser(method string, body *bytes.Buffer) *parser {
	return &parser{method: strings.ToUpper(method), body: body, contentLength: -1}
}

// feed consumes data. It returns early when the header block completes so
// the caller can report the head before the body is read; rest is the
// unconsumed data in that case.
func (p *parser) feed(data []byte) (rest []byte, headersDone bool, err error) {
	for len(data) > 0 && p.state != stateDone {
		switch p.state {
		case stateStatus:
			data = p.readStatus(data)
		case stateHeaders:
			data = p.readHeaders(data)
			if p.state != stateHeaders {
				return data, true, nil
			}
		case stateBody:
			data, err = p.readBody(data)
			if err != nil {
				return nil, false, err
			}
		}
	}
	return nil, false, nil
}

func (p *parser) readStatus(data []byte) []byte {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		p.line = append(p.line, data...)
		return nil
	}
	line := strings.TrimRight(string(append(p.line, data[:i]...)), "\r")
	p.line = nil
	if strings.TrimSpace(line) == "" {
		return data[i+1:]
	}
	p.head = parseStatusLine(line)
	p.state = stateHeaders
	return data[i+1:]
}

func parseStatusLine(line string) *transport.Head {
	if loc := statusPrefix.FindStringIndex(line); loc != nil {
		line = line[:loc[0]] + line[loc[1]:]
	}
	code, msg, _ := strings.Cut(strings.TrimLeft(line, " "), " ")
	status, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		status = 0
	}
	return &transport.Head{Status: status, StatusText: strings.TrimSpace(msg)}
}

func (p *parser) readHeaders(data []byte) []byte {
	p.raw = append(p.raw, data...)
	switch {
	case bytes.HasPrefix(p.raw, []byte("\r\n")):
		return p.endHeaders("", 2)
	case p.raw[0] == '\n':
		return p.endHeaders("", 1)
	}
	crlf := bytes.Index(p.raw, []byte("\r\n\r\n"))
	lf := bytes.Index(p.raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return p.endHeaders(string(p.raw[:crlf]), crlf+4)
	case lf >= 0:
		return p.endHeaders(string(p.raw[:lf]), lf+2)
	}
	return nil
}

func (p *parser) endHeaders(block string, consumed int) []byte {
	rest := append([]byte(nil), p.raw[consumed:]...)
	p.raw = nil
	p.postHeaders(block)
	return rest
}

func (p *parser) postHeaders(block string) {
	h := headers.Parse(strings.ReplaceAll(block, "\r\n", "\n"))
	p.head.SetHeaders(h.String(), h)
	p.state = stateBody

	if v, ok := h.Lookup("content-length"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			p.contentLength = n
		}
	}
	p.chunked = strings.Contains(strings.ToLower(h.Get("transfer-encoding")), "chunked")

	status := p.head.Status
	switch {
	case p.method == http.MethodHead:
		p.state = stateDone
	case p.method == http.MethodConnect && status >= 200 && status < 300:
		p.state = stateDone
	case p.method == http.MethodConnect && !p.chunked && p.contentLength < 0:
		// the proxy keeps the socket open, so an unframed refusal ends here
		p.state = stateDone
	case status == http.StatusNoContent || status == http.StatusNotModified:
		p.state = stateDone
	case p.chunked:
	case p.contentLength == 0:
		p.state = stateDone
	}
}

func (p *parser) readBody(data []byte) ([]byte, error) {
	if p.chunked {
		return p.readChunked(data)
	}
	if p.contentLength >= 0 {
		need := p.contentLength - p.body.Len()
		if len(data) >= need {
			// bytes past content-length are dropped
			p.body.Write(data[:need])
			p.state = stateDone
			return nil, nil
		}
	}
	p.body.Write(data)
	return nil, nil
}

func (p *parser) readChunked(data []byte) ([]byte, error) {
	for len(data) > 0 && p.state == stateBody {
		switch {
		case p.chunkCRLF > 0:
			switch data[0] {
			case '\r':
				p.chunkCRLF--
				data = data[1:]
			case '\n':
				p.chunkCRLF = 0
				data = data[1:]
			default:
				p.chunkCRLF = 0
			}
		case p.chunkLeft > 0:
			n := min(p.chunkLeft, len(data))
			p.body.Write(data[:n])
			p.chunkLeft -= n
			data = data[n:]
			if p.chunkLeft == 0 {
				p.chunkCRLF = 2
			}
		default:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.line = append(p.line, data...)
				return nil, nil
			}
			line := string(append(p.line, data[:i]...))
			p.line = nil
			data = data[i+1:]
			size, err := parseChunkSize(line)
			if err != nil {
				return nil, err
			}
			if size == 0 {
				// trailers are not read
				p.state = stateDone
				return nil, nil
			}
			p.chunkLeft = size
		}
	}
	return data, nil
}

func parseChunkSize(line string) (int, error) {
	s := strings.TrimSpace(line)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n < 0 {
		return 0, &transport.ProtocolError{Message: fmt.Sprintf("invalid chunk size %q", s)}
	}
	return int(n), nil
}

// finishOnClose ends parsing because the connection closed. It reports
// false when no status line was read.
func (p *parser) finishOnClose() bool {
	switch p.state {
	case stateStatus:
		return false
	case stateHeaders:
		p.postHeaders(strings.TrimRight(string(p.raw), "\r\n"))
		p.raw = nil
	}
	p.state = stateDone
	p.closed = true
	return true
}
