package ntlm

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// challenge is a minimal Type 2 message: unicode, NTLM, no target info.
const challenge = "TlRMTVNTUAACAAAAAAAAADAAAAABAgAAAQIDBAUGBwgAAAAAAAAAAAAAAAAwAAAA"

func decode(t *testing.T, header string) []byte {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "NTLM "))
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "NTLM "))
	require.NoError(t, err)
	return data
}

func messageType(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[8:12])
}

func TestNegotiate(t *testing.T) {
	header, err := Negotiate(Credentials{Username: "user", Password: "pass", Domain: "corp"}, "host")
	require.NoError(t, err)

	data := decode(t, header)
	assert.Equal(t, "NTLMSSP\x00", string(data[:8]))
	assert.Equal(t, uint32(1), messageType(data))
	assert.Contains(t, string(data), "CORPHOST")
}

func TestAuthenticate(t *testing.T) {
	header, err := Authenticate(Credentials{Username: `CORP\user`, Password: "pass"}, "NTLM "+challenge)
	require.NoError(t, err)

	data := decode(t, header)
	assert.Equal(t, "NTLMSSP\x00", string(data[:8]))
	assert.Equal(t, uint32(3), messageType(data))
}

func TestAuthenticate_NoChallenge(t *testing.T) {
	_, err := Authenticate(Credentials{Username: "user", Password: "pass"}, "NTLM")
	assert.ErrorIs(t, err, ErrNoChallenge)

	_, err = Authenticate(Credentials{Username: "user", Password: "pass"}, "NTLM !!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid NTLM challenge")
}

func TestAuthenticate_Anonymous(t *testing.T) {
	_, err := Authenticate(Credentials{}, "NTLM "+challenge)
	assert.Error(t, err)
}

func TestParseChallenge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"single", "NTLM " + challenge, true},
		{"lower case scheme", "ntlm " + challenge, true},
		{"listed with others", `Basic realm="x", NTLM ` + challenge, true},
		{"scheme only", "NTLM", false},
		{"other scheme", "Negotiate " + challenge, false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, HasChallenge(tt.header))
		})
	}
}

func TestOffered(t *testing.T) {
	assert.True(t, Offered("NTLM"))
	assert.True(t, Offered("Negotiate, ntlm"))
	assert.False(t, Offered(`Basic realm="x"`))
}
