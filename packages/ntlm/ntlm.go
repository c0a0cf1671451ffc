// Package ntlm builds the NTLM messages exchanged in the Authorization and
// WWW-Authenticate headers.
//
// The handshake is three messages long:
//   - Type 1 (negotiate) is sent by the client with the first request
//   - Type 2 (challenge) comes back from the server with a 401
//   - Type 3 (authenticate) answers the challenge on the same connection
package ntlm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/go-ntlmssp"
)

// Scheme is the authorization scheme name.
const Scheme = "NTLM"

// ErrNoChallenge is returned when a header value carries no NTLM challenge.
var ErrNoChallenge = errors.New("no NTLM challenge in header")

// Credentials for an NTLM exchange. A username written as DOMAIN\user
// overrides Domain.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// user returns the user name, the domain and whether the server provided
// target name is needed to compute the response.
func (c Credentials) user() (string, string, bool) {
	user, domain, domainNeeded := ntlmssp.GetDomain(c.Username)
	if domain == "" {
		domain = c.Domain
	}
	return user, domain, domainNeeded
}

// Negotiate returns the Authorization header value carrying a Type 1 message.
func Negotiate(c Credentials, workstation string) (string, error) {
	_, domain, _ := c.user()
	msg, err := ntlmssp.NewNegotiateMessage(domain, workstation)
	if err != nil {
		return "", fmt.Errorf("failed to create NTLM negotiate message: %w", err)
	}
	return Scheme + " " + base64.StdEncoding.EncodeToString(msg), nil
}

// Authenticate answers the challenge found in a WWW-Authenticate header value
// and returns the Authorization header value carrying the Type 3 message.
func Authenticate(c Credentials, challengeHeader string) (string, error) {
	challenge, err := ParseChallenge(challengeHeader)
	if err != nil {
		return "", err
	}
	user, _, domainNeeded := c.user()
	msg, err := ntlmssp.ProcessChallenge(challenge, user, c.Password, domainNeeded)
	if err != nil {
		return "", fmt.Errorf("failed to answer NTLM challenge: %w", err)
	}
	return Scheme + " " + base64.StdEncoding.EncodeToString(msg), nil
}

// ParseChallenge extracts the Type 2 message from a WWW-Authenticate value.
// The value may list several schemes separated by commas.
func ParseChallenge(header string) ([]byte, error) {
	for _, part := range strings.Split(header, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 || !strings.EqualFold(fields[0], Scheme) {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid NTLM challenge: %w", err)
		}
		return data, nil
	}
	return nil, ErrNoChallenge
}

// HasChallenge reports whether a WWW-Authenticate value carries a Type 2
// message.
func HasChallenge(header string) bool {
	_, err := ParseChallenge(header)
	return err == nil
}

// Offered reports whether a WWW-Authenticate value names the NTLM scheme.
func Offered(header string) bool {
	return strings.Contains(strings.ToLower(header), "ntlm")
}
