package config

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/hosts"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// IdentityChecker verifies the certificate presented by host. A non nil error
// fails the TLS handshake.
type IdentityChecker func(host string, cert *x509.Certificate) error

// Options configures a transport. Nil pointer fields fall back to defaults
// through their getters.
type Options struct {
	ValidateCertificates *bool              `json:"validateCertificates,omitempty" yaml:"validateCertificates,omitempty"`
	FollowRedirects      *bool              `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
	Timeout              int                `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds, 0 disables
	Hosts                []hosts.Rule       `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	SentMessageLimit     *int               `json:"sentMessageLimit,omitempty" yaml:"sentMessageLimit,omitempty"` // 0 disables
	DefaultHeaders       *bool              `json:"defaultHeaders,omitempty" yaml:"defaultHeaders,omitempty"`
	DefaultUserAgent     string             `json:"defaultUserAgent,omitempty" yaml:"defaultUserAgent,omitempty"`
	DefaultAccept        string             `json:"defaultAccept,omitempty" yaml:"defaultAccept,omitempty"`
	ClientCertificate    *ClientCertificate `json:"clientCertificate,omitempty" yaml:"clientCertificate,omitempty"`
	NativeTransport      *bool              `json:"nativeTransport,omitempty" yaml:"nativeTransport,omitempty"`
	Proxy                string             `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	ProxyUsername        string             `json:"proxyUsername,omitempty" yaml:"proxyUsername,omitempty"`
	ProxyPassword        string             `json:"proxyPassword,omitempty" yaml:"proxyPassword,omitempty"`

	Logger          *zerolog.Logger `json:"-" yaml:"-"`
	IdentityChecker IdentityChecker `json:"-" yaml:"-"`

	// Warnings collects validation problems found while building the options.
	Warnings []string `json:"-" yaml:"-"`
}

// boolPtr returns a pointer to a bool value
func boolPtr(b bool) *bool {
	return &b
}

// BoolPtr is exported version of boolPtr for external use
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to an int value
func IntPtr(i int) *int {
	return &i
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetValidateCertificates returns the certificate validation setting, defaulting to false
func (o *Options) GetValidateCertificates() bool {
	return getBool(o.ValidateCertificates, false)
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (o *Options) GetFollowRedirects() bool {
	return getBool(o.FollowRedirects, true)
}

// GetDefaultHeaders returns the default headers setting, defaulting to false
func (o *Options) GetDefaultHeaders() bool {
	return getBool(o.DefaultHeaders, false)
}

// GetNativeTransport returns the native transport setting, defaulting to false
func (o *Options) GetNativeTransport() bool {
	return getBool(o.NativeTransport, false)
}

// GetSentMessageLimit returns the sent message limit, defaulting to DefaultSentMessageLimit
func (o *Options) GetSentMessageLimit() int {
	if o.SentMessageLimit == nil {
		return DefaultSentMessageLimit
	}
	return *o.SentMessageLimit
}

// GetDefaultUserAgent returns the user agent used when default headers are on
func (o *Options) GetDefaultUserAgent() string {
	if o.DefaultUserAgent == "" {
		return DefaultUserAgent
	}
	return o.DefaultUserAgent
}

// GetDefaultAccept returns the accept header used when default headers are on
func (o *Options) GetDefaultAccept() string {
	if o.DefaultAccept == "" {
		return DefaultAccept
	}
	return o.DefaultAccept
}

// TimeoutDuration returns the idle timeout, zero when disabled.
func (o *Options) TimeoutDuration() time.Duration {
	if o.Timeout <= 0 {
		return 0
	}
	return time.Duration(o.Timeout) * time.Millisecond
}

// Log returns the configured logger or a disabled one.
func (o *Options) Log() *zerolog.Logger {
	if o == nil || o.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return o.Logger
}

// OptionFilenames contains the possible option file names
var OptionFilenames = []string{
	".hitwire.json",
	"hitwire.json",
	".hitwire.yaml",
	".hitwire.yml",
}

// LoadOptions loads options from the specified path or searches for option files
func LoadOptions(path string) (*Options, error) {
	if path != "" {
		return loadOptionsFromFile(path)
	}

	return FindAndLoadOptions(".")
}

// FindAndLoadOptions searches for an option file in the given directory
func FindAndLoadOptions(dir string) (*Options, error) {
	for _, filename := range OptionFilenames {
		optionsPath := filepath.Join(dir, filename)
		if _, err := os.Stat(optionsPath); err == nil {
			return loadOptionsFromFile(optionsPath)
		}
	}

	return DefaultOptions(), nil
}

// loadOptionsFromFile decodes a JSON or YAML file into a generic map and runs
// it through the same validation as NewOptions.
func loadOptionsFromFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse options file %s: %w", path, err)
	}

	opts := NewOptions(raw)
	if opts.ClientCertificate != nil {
		if err := opts.ClientCertificate.Resolve(filepath.Dir(path)); err != nil {
			opts.Warnings = append(opts.Warnings, err.Error())
			opts.ClientCertificate = nil
		}
	}
	return opts, nil
}

// Merge merges other into a copy of o, with other taking precedence
func (o *Options) Merge(other *Options) *Options {
	if other == nil {
		return o
	}

	result := *o

	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.DefaultUserAgent != "" {
		result.DefaultUserAgent = other.DefaultUserAgent
	}
	if other.DefaultAccept != "" {
		result.DefaultAccept = other.DefaultAccept
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.ProxyUsername != "" {
		result.ProxyUsername = other.ProxyUsername
	}
	if other.ProxyPassword != "" {
		result.ProxyPassword = other.ProxyPassword
	}
	if other.ClientCertificate != nil {
		result.ClientCertificate = other.ClientCertificate
	}
	if other.Logger != nil {
		result.Logger = other.Logger
	}
	if other.IdentityChecker != nil {
		result.IdentityChecker = other.IdentityChecker
	}

	// Pointer fields only override when explicitly set in other
	if other.ValidateCertificates != nil {
		result.ValidateCertificates = other.ValidateCertificates
	}
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.SentMessageLimit != nil {
		result.SentMessageLimit = other.SentMessageLimit
	}
	if other.DefaultHeaders != nil {
		result.DefaultHeaders = other.DefaultHeaders
	}
	if other.NativeTransport != nil {
		result.NativeTransport = other.NativeTransport
	}

	// Host rules from both sides apply, ours first
	if len(other.Hosts) > 0 {
		result.Hosts = append(append([]hosts.Rule{}, o.Hosts...), other.Hosts...)
	}

	if len(other.Warnings) > 0 {
		result.Warnings = append(append([]string{}, o.Warnings...), other.Warnings...)
	}

	return &result
}

// SaveOptions saves the options to a JSON file
func (o *Options) SaveOptions(path string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
