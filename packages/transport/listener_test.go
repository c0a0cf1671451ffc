package transport

import (
	"errors"
	"testing"

	"github.com/abdul-hamid-achik/hitwire/packages/ntlm"
	"github.com/stretchr/testify/assert"
)

func ntlmCreds(user string) ntlm.Credentials {
	return ntlm.Credentials{Username: user, Password: "pw"}
}

func TestListenerFuncs_NilCallbacks(t *testing.T) {
	var l Listener = &ListenerFuncs{}

	l.LoadStart("id")
	l.FirstByte("id")
	assert.True(t, l.HeadersReceived("id", ""))
	assert.True(t, l.BeforeRedirect("id", "http://h.test/"))
	l.Load("id", &Response{}, &Snapshot{})
	l.Error("id", errors.New("x"), &Snapshot{}, nil)
	l.LoadEnd("id")
}

func TestMulti(t *testing.T) {
	var calls []string
	record := func(name string) *ListenerFuncs {
		return &ListenerFuncs{
			OnLoadStart: func(id string) { calls = append(calls, name+":start") },
			OnHeadersReceived: func(id, headers string) bool {
				calls = append(calls, name+":headers")
				return name != "b"
			},
			OnBeforeRedirect: func(id, location string) bool {
				calls = append(calls, name+":redirect")
				return true
			},
			OnLoadEnd: func(id string) { calls = append(calls, name+":end") },
		}
	}
	l := Multi(record("a"), nil, record("b"))

	l.LoadStart("id")
	assert.False(t, l.HeadersReceived("id", ""))
	assert.True(t, l.BeforeRedirect("id", "/"))
	l.LoadEnd("id")

	assert.Equal(t, []string{
		"a:start", "b:start",
		"a:headers", "b:headers",
		"a:redirect", "b:redirect",
		"a:end", "b:end",
	}, calls)
}

func TestRequest_NTLMCredentials(t *testing.T) {
	tests := []struct {
		name     string
		req      Request
		username string
	}{
		{
			name: "list based",
			req: Request{Authorization: []Authorization{
				{Type: "basic", Enabled: true},
				{Type: "NTLM", Enabled: true, Config: ntlmCreds("list")},
			}},
			username: "list",
		},
		{
			name: "disabled entry ignored",
			req: Request{
				Authorization: []Authorization{{Type: "ntlm", Enabled: false, Config: ntlmCreds("off")}},
				Auth:          &LegacyAuth{Method: "ntlm", Username: "legacy"},
			},
			username: "legacy",
		},
		{
			name: "list wins over legacy",
			req: Request{
				Authorization: []Authorization{{Type: "basic", Enabled: true}},
				Auth:          &LegacyAuth{Method: "ntlm", Username: "legacy"},
			},
		},
		{
			name: "legacy other method",
			req:  Request{Auth: &LegacyAuth{Method: "basic", Username: "legacy"}},
		},
		{name: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := tt.req.NTLMCredentials()
			if tt.username == "" {
				assert.Nil(t, creds)
				return
			}
			if assert.NotNil(t, creds) {
				assert.Equal(t, tt.username, creds.Username)
			}
		})
	}
}
