package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/core/descriptor"
	"github.com/abdul-hamid-achik/hitwire/packages/core/vars"
	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/hosts"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
	"github.com/abdul-hamid-achik/hitwire/packages/transport/library"
	"github.com/abdul-hamid-achik/hitwire/packages/transport/socket"
)

// requestFlags are the flags shared by send and bench. They shape the
// transport options and override the loaded descriptors.
type requestFlags struct {
	method         string
	headers        []string
	data           string
	proxy          string
	proxyUser      string
	proxyPassword  string
	insecure       bool
	verify         bool
	timeout        string
	noFollow       bool
	hostRules      []string
	cert           string
	key            string
	certType       string
	passphrase     string
	ntlm           string
	native         bool
	defaultHeaders bool
	vars           []string
	envFile        string
}

func addRequestFlags(fs *pflag.FlagSet, f *requestFlags) {
	fs.StringVarP(&f.method, "method", "X", "", "Request method, overrides the descriptor")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, "Header \"Name: value\", repeatable")
	fs.StringVarP(&f.data, "data", "d", "", "Request body, @file reads it from a file")
	fs.StringVar(&f.proxy, "proxy", getEnvString("HITWIRE_PROXY", ""), "Proxy host:port or URL, https:// tunnels through TLS (env: HITWIRE_PROXY)")
	fs.StringVar(&f.proxyUser, "proxy-user", getEnvString("HITWIRE_PROXY_USER", ""), "Proxy basic auth user (env: HITWIRE_PROXY_USER)")
	fs.StringVar(&f.proxyPassword, "proxy-password", getEnvString("HITWIRE_PROXY_PASSWORD", ""), "Proxy basic auth password (env: HITWIRE_PROXY_PASSWORD)")
	fs.BoolVarP(&f.insecure, "insecure", "k", getEnvBool("HITWIRE_INSECURE", false), "Do not validate server certificates (env: HITWIRE_INSECURE)")
	fs.BoolVar(&f.verify, "verify", false, "Validate server certificates")
	fs.StringVar(&f.timeout, "timeout", getEnvString("HITWIRE_TIMEOUT", ""), "Idle timeout (e.g. 30s, 500ms, or milliseconds), 0 disables (env: HITWIRE_TIMEOUT)")
	fs.BoolVar(&f.noFollow, "no-follow", false, "Do not follow redirects")
	fs.StringArrayVar(&f.hostRules, "host-rule", nil, "URL rewrite rule from=to, * captures as $1, repeatable")
	fs.StringVar(&f.cert, "cert", getEnvString("HITWIRE_CERT", ""), "Client certificate file, pem or p12 (env: HITWIRE_CERT)")
	fs.StringVar(&f.key, "key", getEnvString("HITWIRE_KEY", ""), "Client key file for a pem certificate (env: HITWIRE_KEY)")
	fs.StringVar(&f.certType, "cert-type", "", "Client certificate type: pem or p12 (default: from the file extension)")
	fs.StringVar(&f.passphrase, "passphrase", getEnvString("HITWIRE_PASSPHRASE", ""), "Client certificate passphrase (env: HITWIRE_PASSPHRASE)")
	fs.StringVar(&f.ntlm, "ntlm", getEnvString("HITWIRE_NTLM", ""), "NTLM credentials user:password[@domain] (env: HITWIRE_NTLM)")
	fs.BoolVar(&f.native, "native", getEnvBool("HITWIRE_NATIVE", false), "Use the net/http transport instead of raw sockets (env: HITWIRE_NATIVE)")
	fs.BoolVar(&f.defaultHeaders, "default-headers", false, "Send default User-Agent and Accept headers")
	fs.StringArrayVar(&f.vars, "var", nil, "Template variable name=value, repeatable")
	fs.StringVar(&f.envFile, "env-file", getEnvString("HITWIRE_ENV_FILE", ""), "Path to .env file for template variables (env: HITWIRE_ENV_FILE)")
}

// options loads the options file and applies the flags on top of it.
func (f *requestFlags) options(log *zerolog.Logger) (*config.Options, error) {
	base, err := config.LoadOptions(configFlag)
	if err != nil {
		return nil, err
	}

	flags := &config.Options{
		Proxy:         f.proxy,
		ProxyUsername: f.proxyUser,
		ProxyPassword: f.proxyPassword,
		Logger:        log,
	}
	switch {
	case f.insecure:
		flags.ValidateCertificates = config.BoolPtr(false)
	case f.verify:
		flags.ValidateCertificates = config.BoolPtr(true)
	}
	if f.noFollow {
		flags.FollowRedirects = config.BoolPtr(false)
	}
	if f.native {
		flags.NativeTransport = config.BoolPtr(true)
	}
	if f.defaultHeaders {
		flags.DefaultHeaders = config.BoolPtr(true)
	}

	opts := base.Merge(flags)
	if f.timeout != "" {
		ms, err := parseTimeout(f.timeout)
		if err != nil {
			return nil, err
		}
		opts.Timeout = ms
	}
	for _, raw := range f.hostRules {
		rule, err := parseHostRule(raw)
		if err != nil {
			return nil, err
		}
		opts.Hosts = append(opts.Hosts, rule)
	}
	if f.cert != "" {
		cert, err := f.clientCertificate()
		if err != nil {
			return nil, err
		}
		opts.ClientCertificate = cert
	}

	for _, w := range opts.Warnings {
		log.Warn().Msg(w)
	}
	return opts, nil
}

func (f *requestFlags) clientCertificate() (*config.ClientCertificate, error) {
	certType := strings.ToLower(f.certType)
	if certType == "" {
		switch strings.ToLower(filepath.Ext(f.cert)) {
		case ".p12", ".pfx":
			certType = config.CertificateTypeP12
		default:
			certType = config.CertificateTypePEM
		}
	}
	cert := &config.ClientCertificate{
		Type: certType,
		Cert: []config.Certificate{{File: f.cert, Passphrase: f.passphrase}},
	}
	if f.key != "" {
		cert.Key = []config.Certificate{{File: f.key, Passphrase: f.passphrase}}
	}
	if err := cert.Validate(); err != nil {
		return nil, err
	}
	if err := cert.Resolve(""); err != nil {
		return nil, err
	}
	return cert, nil
}

// resolver returns a template resolver seeded with the descriptor variables,
// then the env file, then --var.
func (f *requestFlags) resolver(file *descriptor.File, log *zerolog.Logger) (*vars.Resolver, error) {
	r := vars.NewResolver()
	r.SetWarnFunc(func(format string, args ...any) {
		log.Warn().Msgf(format, args...)
	})
	r.SetVariables(file.Variables)
	if f.envFile != "" {
		env, err := vars.LoadDotEnv(f.envFile)
		if err != nil {
			return nil, err
		}
		r.SetVariables(env)
	}
	assigned, err := vars.ParseAssignments(f.vars)
	if err != nil {
		return nil, err
	}
	r.SetVariables(assigned)
	return r, nil
}

// apply overrides req with the request flags.
func (f *requestFlags) apply(req *transport.Request) error {
	if f.method != "" {
		req.Method = strings.ToUpper(f.method)
	}
	if len(f.headers) > 0 {
		h := headers.Parse(req.Headers)
		for _, line := range f.headers {
			name, value, ok := strings.Cut(line, ":")
			if !ok || strings.TrimSpace(name) == "" {
				return fmt.Errorf("invalid header %q (want \"Name: value\")", line)
			}
			h.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		req.Headers = h.String()
	}
	if f.data != "" {
		body, err := readData(f.data)
		if err != nil {
			return err
		}
		req.Payload = body
		if f.method == "" && (req.Method == "" || req.Method == "GET") {
			req.Method = "POST"
		}
	}
	if f.ntlm != "" {
		auth, err := parseNTLM(f.ntlm)
		if err != nil {
			return err
		}
		req.Auth = auth
		req.Authorization = nil
	}
	return nil
}

// readData returns the body given with -d. A leading @ names a file.
func readData(data string) ([]byte, error) {
	path, ok := strings.CutPrefix(data, "@")
	if !ok {
		return []byte(data), nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read body file: %w", err)
	}
	return body, nil
}

// parseTimeout accepts a Go duration or a plain number of milliseconds.
func parseTimeout(s string) (int, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid timeout %q: must not be negative", s)
		}
		return ms, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout value %q: %w (use format like 30s, 1m, 500ms)", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", s)
	}
	return int(d / time.Millisecond), nil
}

func parseHostRule(s string) (hosts.Rule, error) {
	from, to, ok := strings.Cut(s, "=")
	if !ok || from == "" || to == "" {
		return hosts.Rule{}, fmt.Errorf("invalid host rule %q (want from=to)", s)
	}
	return hosts.Rule{From: from, To: to}, nil
}

// parseNTLM parses user:password[@domain]. An @ inside the password is kept
// when no domain follows it.
func parseNTLM(s string) (*transport.LegacyAuth, error) {
	creds, domain := s, ""
	if i := strings.LastIndex(s, "@"); i >= 0 && !strings.Contains(s[i+1:], ":") {
		creds, domain = s[:i], s[i+1:]
	}
	user, password, ok := strings.Cut(creds, ":")
	if !ok || user == "" {
		return nil, fmt.Errorf("invalid NTLM credentials (want user:password[@domain])")
	}
	return &transport.LegacyAuth{
		Method:   transport.AuthMethodNTLM,
		Username: user,
		Password: password,
		Domain:   domain,
	}, nil
}

// loadTarget loads a descriptor file, or wraps a URL in a one request file.
func loadTarget(target string) (*descriptor.File, error) {
	if isURL(target) {
		return &descriptor.File{
			Requests: []*descriptor.Descriptor{{Name: "request1", URL: target}},
		}, nil
	}
	return descriptor.Load(target)
}

func isURL(target string) bool {
	return strings.Contains(target, "://")
}

// newTransport picks the transport implementation selected by opts.
func newTransport(req *transport.Request, id string, opts *config.Options, l transport.Listener) transport.Transport {
	if opts.GetNativeTransport() {
		return library.New(req, id, opts, l)
	}
	return socket.New(req, id, opts, l)
}
