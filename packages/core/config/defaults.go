package config

const (
	// DefaultSentMessageLimit caps the serialized message kept on the snapshot
	DefaultSentMessageLimit = 2048
	// DefaultUserAgent is sent when default headers are enabled
	DefaultUserAgent = "hitwire"
	// DefaultAccept is sent when default headers are enabled
	DefaultAccept = "*/*"
)

// DefaultOptions returns options with default values
func DefaultOptions() *Options {
	return &Options{
		ValidateCertificates: boolPtr(false),
		FollowRedirects:      boolPtr(true),
		SentMessageLimit:     IntPtr(DefaultSentMessageLimit),
		DefaultAccept:        DefaultAccept,
		DefaultUserAgent:     DefaultUserAgent,
	}
}

// IsDefault returns true if the options match defaults
func (o *Options) IsDefault() bool {
	defaults := DefaultOptions()
	return o.GetValidateCertificates() == defaults.GetValidateCertificates() &&
		o.GetFollowRedirects() == defaults.GetFollowRedirects() &&
		o.GetSentMessageLimit() == defaults.GetSentMessageLimit() &&
		o.GetDefaultHeaders() == defaults.GetDefaultHeaders() &&
		o.GetDefaultAccept() == defaults.DefaultAccept &&
		o.GetDefaultUserAgent() == defaults.DefaultUserAgent &&
		o.Timeout == 0 &&
		len(o.Hosts) == 0 &&
		o.ClientCertificate == nil &&
		o.Proxy == ""
}
