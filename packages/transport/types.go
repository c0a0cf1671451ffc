package transport

import (
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/ntlm"
)

// AuthMethodNTLM is the auth method tag for NTLM.
const AuthMethodNTLM = "ntlm"

// LegacyAuth is the single auth block older request descriptors carry.
type LegacyAuth struct {
	Method   string `json:"method" yaml:"method"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Domain   string `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Authorization is one entry of the list based authorization config.
type Authorization struct {
	Type    string           `json:"type" yaml:"type"`
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Config  ntlm.Credentials `json:"config" yaml:"config"`
}

// RequestConfig overrides transport options for a single request.
type RequestConfig struct {
	Timeout         *int  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	FollowRedirects *bool `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
}

// Request describes the request to make. A transport owns its Request for the
// whole exchange and mutates URL, Method and Headers while following
// redirects.
type Request struct {
	Method            string                    `json:"method" yaml:"method"`
	URL               string                    `json:"url" yaml:"url"`
	Headers           string                    `json:"headers,omitempty" yaml:"headers,omitempty"`
	Payload           any                       `json:"payload,omitempty" yaml:"payload,omitempty"`
	Auth              *LegacyAuth               `json:"auth,omitempty" yaml:"auth,omitempty"`
	Authorization     []Authorization           `json:"authorization,omitempty" yaml:"authorization,omitempty"`
	ClientCertificate *config.ClientCertificate `json:"clientCertificate,omitempty" yaml:"clientCertificate,omitempty"`
	Config            *RequestConfig            `json:"config,omitempty" yaml:"config,omitempty"`
}

// Clone returns a copy that can be mutated without touching r.
func (r *Request) Clone() *Request {
	c := *r
	if r.Auth != nil {
		auth := *r.Auth
		c.Auth = &auth
	}
	c.Authorization = append([]Authorization(nil), r.Authorization...)
	return &c
}

// NTLMCredentials returns the credentials of an enabled NTLM authorization.
// The list based config wins over the legacy block when it has any enabled
// entry.
func (r *Request) NTLMCredentials() *ntlm.Credentials {
	enabled := 0
	for _, a := range r.Authorization {
		if !a.Enabled {
			continue
		}
		enabled++
		if strings.EqualFold(a.Type, AuthMethodNTLM) {
			creds := a.Config
			return &creds
		}
	}
	if enabled > 0 || r.Auth == nil || !strings.EqualFold(r.Auth.Method, AuthMethodNTLM) {
		return nil
	}
	return &ntlm.Credentials{
		Username: r.Auth.Username,
		Password: r.Auth.Password,
		Domain:   r.Auth.Domain,
	}
}

// Snapshot is what was actually sent for the current hop.
type Snapshot struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	HTTPMessage string    `json:"httpMessage"`
	Headers     string    `json:"headers"`
}

// Stats holds the timestamps of one hop. A zero time means the event did not
// happen.
type Stats struct {
	ConnectionTime      time.Time
	LookupTime          time.Time
	ConnectedTime       time.Time
	SecureStartTime     time.Time
	SecureConnectedTime time.Time
	MessageStart        time.Time
	SentTime            time.Time
	FirstReceiveTime    time.Time
	LastReceivedTime    time.Time
	ReceivingTime       time.Time
	StartTime           time.Time
	ResponseTime        time.Time
}

// Timings are HAR style durations in milliseconds. -1 means not applicable.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	SSL     float64 `json:"ssl"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Size is the byte size of the sent message and the decoded response body.
type Size struct {
	Request  int `json:"request"`
	Response int `json:"response"`
}

// AuthSummary tells which scheme the server asked for on a 401.
type AuthSummary struct {
	Method string `json:"method"`
}

// Response is the final, fully assembled response.
type Response struct {
	Status      int          `json:"status"`
	StatusText  string       `json:"statusText"`
	Headers     string       `json:"headers"`
	Payload     []byte       `json:"payload,omitempty"`
	LoadingTime float64      `json:"loadingTime"`
	Timings     Timings      `json:"timings"`
	Size        Size         `json:"size"`
	Redirects   []*Redirect  `json:"redirects,omitempty"`
	Auth        *AuthSummary `json:"auth,omitempty"`
}

// PartialResponse is the part of a response known at the time of a hop end
// or an error.
type PartialResponse struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Headers    string `json:"headers"`
	Payload    []byte `json:"payload,omitempty"`
}

// Redirect records one followed redirect.
type Redirect struct {
	URL       string          `json:"url"`
	Response  PartialResponse `json:"response"`
	Timings   Timings         `json:"timings"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
}
