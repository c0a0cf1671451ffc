package transport

import (
	"os"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/ntlm"
)

// AuthPhase is the step an NTLM handshake is at.
type AuthPhase int

const (
	// AuthInitial means the Type 1 message was sent.
	AuthInitial AuthPhase = iota
	// AuthChallenged means the server answered with a Type 2 challenge.
	AuthChallenged
	// AuthComplete means the Type 3 message was sent.
	AuthComplete
)

func (p AuthPhase) String() string {
	switch p {
	case AuthInitial:
		return "initial"
	case AuthChallenged:
		return "challenged"
	case AuthComplete:
		return "complete"
	}
	return "unknown"
}

// AuthState tracks an in progress NTLM handshake.
type AuthState struct {
	Method    string
	Phase     AuthPhase
	Challenge string
}

// NewAuthState starts a handshake whose Type 1 message is about to be sent.
func NewAuthState() AuthState {
	return AuthState{Method: AuthMethodNTLM, Phase: AuthInitial}
}

// Next returns the state that follows a 401 with the given WWW-Authenticate
// value. ok is false when the handshake cannot continue and the 401 is the
// final response.
func (s AuthState) Next(wwwAuthenticate string) (next AuthState, ok bool) {
	if s.Phase != AuthInitial || !ntlm.HasChallenge(wwwAuthenticate) {
		return s, false
	}
	s.Phase = AuthChallenged
	s.Challenge = wwwAuthenticate
	return s, true
}

// Complete marks the Type 3 message as sent.
func (s AuthState) Complete() AuthState {
	s.Phase = AuthComplete
	return s
}

// AuthMethodFromHeader names the scheme a WWW-Authenticate value asks for.
func AuthMethodFromHeader(wwwAuthenticate string) string {
	v := strings.ToLower(wwwAuthenticate)
	switch {
	case ntlm.Offered(v):
		return AuthMethodNTLM
	case strings.Contains(v, "basic"):
		return "basic"
	case strings.Contains(v, "digest"):
		return "digest"
	}
	return "unknown"
}

// AuthorizeNTLM adds the Authorization header due at the current NTLM
// handshake phase. Requests without NTLM credentials are left alone.
func (e *Engine) AuthorizeNTLM(h *headers.Headers) error {
	creds := e.Request.NTLMCredentials()
	if creds == nil {
		return nil
	}
	switch {
	case e.Auth == nil:
		state := NewAuthState()
		value, err := ntlm.Negotiate(*creds, workstation())
		if err != nil {
			return err
		}
		h.Set("authorization", value)
		e.Auth = &state
	case e.Auth.Phase == AuthChallenged:
		value, err := ntlm.Authenticate(*creds, e.Auth.Challenge)
		if err != nil {
			return err
		}
		h.Set("authorization", value)
		next := e.Auth.Complete()
		e.Auth = &next
	}
	return nil
}

// ChallengeNTLM moves the handshake on after a 401 carrying www-authenticate.
// It reports false when the 401 is the final response; the handshake state
// is dropped then and the 401 is described by its own header.
func (e *Engine) ChallengeNTLM(wwwAuthenticate string) bool {
	if e.Auth == nil {
		return false
	}
	next, ok := e.Auth.Next(wwwAuthenticate)
	if !ok {
		e.Auth = nil
		return false
	}
	e.Auth = &next
	return true
}

func workstation() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return strings.ToUpper(name)
}
