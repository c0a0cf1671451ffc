package transport

import "context"

// Transport sends one logical request, following redirects and the NTLM
// handshake, and reports progress to a Listener.
type Transport interface {
	// Send connects and writes the request, then returns. Everything after
	// the write is reported through the Listener. The returned error is
	// only set when the request could not be prepared.
	Send(ctx context.Context) error
	// Abort stops the exchange. Nothing is reported after it returns.
	Abort()
}

// Listener receives transport events synchronously. For one exchange the
// order is LoadStart, FirstByte, HeadersReceived, zero or more
// BeforeRedirect, then exactly one of Load or Error, then LoadEnd. A
// redirect repeats LoadStart through HeadersReceived for the next hop.
type Listener interface {
	LoadStart(id string)
	FirstByte(id string)
	// HeadersReceived returns false to cancel the request.
	HeadersReceived(id string, headers string) bool
	// BeforeRedirect returns false to stop at the current response.
	BeforeRedirect(id string, location string) bool
	Load(id string, resp *Response, snap *Snapshot)
	Error(id string, err error, snap *Snapshot, partial *PartialResponse)
	LoadEnd(id string)
}

// ListenerFuncs implements Listener with optional callbacks. Nil callbacks
// are skipped and nil cancel callbacks allow the request to continue.
type ListenerFuncs struct {
	OnLoadStart       func(id string)
	OnFirstByte       func(id string)
	OnHeadersReceived func(id string, headers string) bool
	OnBeforeRedirect  func(id string, location string) bool
	OnLoad            func(id string, resp *Response, snap *Snapshot)
	OnError           func(id string, err error, snap *Snapshot, partial *PartialResponse)
	OnLoadEnd         func(id string)
}

func (f *ListenerFuncs) LoadStart(id string) {
	if f.OnLoadStart != nil {
		f.OnLoadStart(id)
	}
}

func (f *ListenerFuncs) FirstByte(id string) {
	if f.OnFirstByte != nil {
		f.OnFirstByte(id)
	}
}

func (f *ListenerFuncs) HeadersReceived(id string, headers string) bool {
	if f.OnHeadersReceived != nil {
		return f.OnHeadersReceived(id, headers)
	}
	return true
}

func (f *ListenerFuncs) BeforeRedirect(id string, location string) bool {
	if f.OnBeforeRedirect != nil {
		return f.OnBeforeRedirect(id, location)
	}
	return true
}

func (f *ListenerFuncs) Load(id string, resp *Response, snap *Snapshot) {
	if f.OnLoad != nil {
		f.OnLoad(id, resp, snap)
	}
}

func (f *ListenerFuncs) Error(id string, err error, snap *Snapshot, partial *PartialResponse) {
	if f.OnError != nil {
		f.OnError(id, err, snap, partial)
	}
}

func (f *ListenerFuncs) LoadEnd(id string) {
	if f.OnLoadEnd != nil {
		f.OnLoadEnd(id)
	}
}

type multi []Listener

// Multi fans events out to several listeners in order. A cancel from any of
// them cancels, but every listener still sees the event.
func Multi(listeners ...Listener) Listener {
	var m multi
	for _, l := range listeners {
		if l != nil {
			m = append(m, l)
		}
	}
	return m
}

func (m multi) LoadStart(id string) {
	for _, l := range m {
		l.LoadStart(id)
	}
}

func (m multi) FirstByte(id string) {
	for _, l := range m {
		l.FirstByte(id)
	}
}

func (m multi) HeadersReceived(id string, headers string) bool {
	ok := true
	for _, l := range m {
		if !l.HeadersReceived(id, headers) {
			ok = false
		}
	}
	return ok
}

func (m multi) BeforeRedirect(id string, location string) bool {
	ok := true
	for _, l := range m {
		if !l.BeforeRedirect(id, location) {
			ok = false
		}
	}
	return ok
}

func (m multi) Load(id string, resp *Response, snap *Snapshot) {
	for _, l := range m {
		l.Load(id, resp, snap)
	}
}

func (m multi) Error(id string, err error, snap *Snapshot, partial *PartialResponse) {
	for _, l := range m {
		l.Error(id, err, snap, partial)
	}
}

func (m multi) LoadEnd(id string) {
	for _, l := range m {
		l.LoadEnd(id)
	}
}
